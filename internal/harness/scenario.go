package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/gamesincommon/internal/model"
)

// Scenario defines an end-to-end run of the bot.
// A scenario stocks the fake game library, drives admissions and signals
// against a fake clock, and asserts on the messages the bot published.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Presence enables the "seen online" precondition.
	Presence bool `yaml:"presence,omitempty"`

	// Library is the game library the participants' accounts resolve to.
	Library LibraryFixture `yaml:"library"`

	// Setup contains steps run before the flow. Their edits are traced but
	// they have no expectations.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the main test flow.
	Flow []Step `yaml:"flow"`

	// Assertions validate the trace and final state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// LibraryFixture stocks the fake game library.
type LibraryFixture struct {
	Games    []GameFixture                      `yaml:"games"`
	Owned    map[string]map[int]PlaytimeFixture `yaml:"owned"`
	Unlocked map[string]map[int][]string        `yaml:"unlocked,omitempty"`
	Popular  []int                              `yaml:"popular,omitempty"`
}

// GameFixture is store metadata for one game. Games are multiplayer and
// available unless flagged otherwise.
type GameFixture struct {
	ID           int    `yaml:"id"`
	Name         string `yaml:"name"`
	Rating       *int   `yaml:"rating,omitempty"`
	Achievements int    `yaml:"achievements,omitempty"`
	SinglePlayer bool   `yaml:"single_player,omitempty"`
	ComingSoon   bool   `yaml:"coming_soon,omitempty"`
}

// PlaytimeFixture is one account's minutes in one game.
type PlaytimeFixture struct {
	Total  int `yaml:"total"`
	Recent int `yaml:"recent,omitempty"`
}

// Step is one thing that happens to the bot. Action selects which of the
// other fields are read:
//
//   - admit: Token, User (requester), Users (named participants), Top, Sort
//   - authorize: User, Account (empty leaves the account unlinked)
//   - revoke: User
//   - presence: Users
//   - react: Token, User, Emoji (defaults to the delete emoji)
//   - script: Token, Status, RetryAfter (next platform response for Token)
//   - library_error: Message ("" clears the failure)
//   - advance: Duration, then runs due tasks
//   - run: runs due tasks
type Step struct {
	Action     string        `yaml:"action"`
	Token      string        `yaml:"token,omitempty"`
	User       string        `yaml:"user,omitempty"`
	Users      []string      `yaml:"users,omitempty"`
	Account    string        `yaml:"account,omitempty"`
	Top        int           `yaml:"top,omitempty"`
	Sort       string        `yaml:"sort,omitempty"`
	Emoji      string        `yaml:"emoji,omitempty"`
	Status     int           `yaml:"status,omitempty"`
	RetryAfter time.Duration `yaml:"retry_after,omitempty"`
	Message    string        `yaml:"message,omitempty"`
	Duration   time.Duration `yaml:"duration,omitempty"`
	Expect     *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks the state right after a step.
type ExpectClause struct {
	// Token selects the interaction; defaults to the step's token.
	Token string `yaml:"token,omitempty"`

	// Title is the expected title of the latest accepted message.
	Title string `yaml:"title,omitempty"`

	// Error is a substring the step's error must contain.
	Error string `yaml:"error,omitempty"`

	// Deleted is the expected result of a react step.
	Deleted *bool `yaml:"deleted,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a message with Title was published for Token
	// - "trace_order": Titles were published for Token in this order
	// - "trace_count": Token received exactly Count messages titled Title
	//   (every message when Title is empty)
	// - "final_state": the stored state of Token matches Expect
	Type string `yaml:"type"`

	Token string `yaml:"token"`

	Title string `yaml:"title,omitempty"`

	Titles []string `yaml:"titles,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Expect keys for final_state: title, claimed, soft_deleted, delivered,
	// verdict, reason.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Step actions.
const (
	ActionAdmit        = "admit"
	ActionAuthorize    = "authorize"
	ActionRevoke       = "revoke"
	ActionPresence     = "presence"
	ActionReact        = "react"
	ActionScript       = "script"
	ActionLibraryError = "library_error"
	ActionAdvance      = "advance"
	ActionRun          = "run"
)

var finalStateKeys = map[string]bool{
	"title":        true,
	"claimed":      true,
	"soft_deleted": true,
	"delivered":    true,
	"verdict":      true,
	"reason":       true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := map[int]bool{}
	for i, g := range s.Library.Games {
		if g.ID <= 0 {
			return fmt.Errorf("library.games[%d]: id must be positive", i)
		}
		if seen[g.ID] {
			return fmt.Errorf("library.games[%d]: duplicate id %d", i, g.ID)
		}
		seen[g.ID] = true
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Action {
	case ActionAdmit:
		if step.Token == "" || step.User == "" {
			return fmt.Errorf("admit needs token and user")
		}
		if step.Sort != "" && !model.SortMetric(step.Sort).Valid() {
			return fmt.Errorf("unknown sort %q", step.Sort)
		}
	case ActionAuthorize, ActionRevoke:
		if step.User == "" {
			return fmt.Errorf("%s needs user", step.Action)
		}
	case ActionPresence:
		if len(step.Users) == 0 {
			return fmt.Errorf("presence needs users")
		}
	case ActionReact:
		if step.Token == "" || step.User == "" {
			return fmt.Errorf("react needs token and user")
		}
	case ActionScript:
		if step.Token == "" || step.Status == 0 {
			return fmt.Errorf("script needs token and status")
		}
	case ActionAdvance:
		if step.Duration <= 0 {
			return fmt.Errorf("advance needs a positive duration")
		}
	case ActionLibraryError, ActionRun:
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	if step.Expect != nil && step.Expect.Title != "" && step.Token == "" && step.Expect.Token == "" {
		return fmt.Errorf("expect.title needs a token")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Token == "" {
		return fmt.Errorf("assertions[%d]: token is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Title == "" {
			return fmt.Errorf("assertions[%d]: title is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Titles) == 0 {
			return fmt.Errorf("assertions[%d]: titles list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		for key := range a.Expect {
			if !finalStateKeys[key] {
				return fmt.Errorf("assertions[%d]: unknown final_state key %q", index, key)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
