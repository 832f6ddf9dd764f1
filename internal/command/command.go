// Package command turns a chat-platform interaction into a validated
// command descriptor.
//
// Parse decodes the webhook payload. Descriptor extracts the requester,
// participants and options from an application command, and Validator checks
// the result against the CUE schema embedded in this package before anything
// is written to the store. The requester always takes part: they are added
// to the front of the participant list unless they named themselves.
package command

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/goccy/go-json"

	"github.com/roach88/gamesincommon/internal/model"
)

// Name is the slash command's name.
const Name = "gamesincommon"

// Interaction types sent by the platform.
const (
	TypePing               = 1
	TypeApplicationCommand = 2
)

// Option types used by the command definition.
const (
	OptionString  = 3
	OptionInteger = 4
	OptionUser    = 6
)

//go:embed schema.cue
var schemaSource string

//go:embed definition.json
var definition []byte

// Definition returns the JSON body that registers the slash command.
func Definition() []byte {
	return append([]byte(nil), definition...)
}

// Interaction is the subset of the webhook payload the bot reads.
type Interaction struct {
	ID      string        `json:"id"`
	Type    int           `json:"type"`
	Token   string        `json:"token"`
	GuildID string        `json:"guild_id,omitempty"`
	Member  *Member       `json:"member,omitempty"`
	User    *PlatformUser `json:"user,omitempty"`
	Data    *CommandData  `json:"data,omitempty"`
}

// Member is a guild member.
type Member struct {
	Nick string        `json:"nick,omitempty"`
	User *PlatformUser `json:"user"`
}

// PlatformUser is a chat-platform account.
type PlatformUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
}

// CommandData carries the command name and options.
type CommandData struct {
	Name    string   `json:"name"`
	Options []Option `json:"options,omitempty"`
}

// Option is one supplied command option. Value is a string for user and
// string options and a number for integer options.
type Option struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Parse decodes a webhook body.
func Parse(body []byte) (*Interaction, error) {
	var in Interaction
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse interaction: %w", err)
	}
	if in.Type == 0 {
		return nil, fmt.Errorf("parse interaction: missing type")
	}
	return &in, nil
}

// Requester returns the invoking user, from the guild member when present.
func (in *Interaction) Requester() (model.User, bool) {
	var u *PlatformUser
	nick := ""
	if in.Member != nil && in.Member.User != nil {
		u, nick = in.Member.User, in.Member.Nick
	} else if in.User != nil {
		u = in.User
	}
	if u == nil {
		return model.User{}, false
	}
	name := nick
	if name == "" {
		name = u.GlobalName
	}
	if name == "" {
		name = u.Username
	}
	return model.User{ID: u.ID, Name: name}, true
}

// ErrMalformed reports an interaction that cannot be read as this command.
var ErrMalformed = errors.New("malformed command")

// Descriptor is a validated request, ready to become a session.
type Descriptor struct {
	Token        string           `json:"token"`
	GuildID      string           `json:"guild_id,omitempty"`
	Requester    model.User       `json:"requester"`
	Participants []string         `json:"participants"`
	TopN         int              `json:"top_n"`
	Metric       model.SortMetric `json:"sort_metric"`
}

// Describe extracts a descriptor from an application command. It applies
// defaults but does not validate; see Validator.
func Describe(in *Interaction) (*Descriptor, error) {
	if in.Type != TypeApplicationCommand || in.Data == nil {
		return nil, fmt.Errorf("%w: interaction %s is not an application command", ErrMalformed, in.ID)
	}
	if in.Data.Name != Name {
		return nil, fmt.Errorf("%w: unknown command %q", ErrMalformed, in.Data.Name)
	}
	requester, ok := in.Requester()
	if !ok {
		return nil, fmt.Errorf("%w: interaction %s has no invoking user", ErrMalformed, in.ID)
	}

	d := &Descriptor{
		Token:     in.Token,
		GuildID:   in.GuildID,
		Requester: requester,
		TopN:      model.DefaultTopN,
		Metric:    model.DefaultMetric,
	}

	var named []string
	for _, opt := range in.Data.Options {
		switch {
		case opt.Type == OptionUser && strings.HasPrefix(opt.Name, "user"):
			var id string
			if err := json.Unmarshal(opt.Value, &id); err != nil {
				return nil, fmt.Errorf("%w: option %s: %v", ErrMalformed, opt.Name, err)
			}
			named = append(named, id)
		case opt.Name == "sort":
			var metric string
			if err := json.Unmarshal(opt.Value, &metric); err != nil {
				return nil, fmt.Errorf("%w: option sort: %v", ErrMalformed, err)
			}
			d.Metric = model.SortMetric(metric)
		case opt.Name == "top":
			var n int
			if err := json.Unmarshal(opt.Value, &n); err != nil {
				return nil, fmt.Errorf("%w: option top: %v", ErrMalformed, err)
			}
			d.TopN = n
		}
	}

	d.Participants = participants(requester.ID, named)
	return d, nil
}

// participants puts the requester first and drops repeats, keeping the
// order users were named in.
func participants(requester string, named []string) []string {
	seen := map[string]bool{requester: true}
	out := []string{requester}
	for _, id := range named {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Session converts a validated descriptor into the record admitted at now.
func (d *Descriptor) Session(now time.Time) *model.Session {
	return &model.Session{
		Token:        d.Token,
		Participants: append([]string(nil), d.Participants...),
		Requester:    d.Requester,
		TopN:         d.TopN,
		Metric:       d.Metric,
		CreatedAt:    now.UTC(),
		Guild:        d.GuildID,
	}
}

// ValidationError is one schema violation.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// InvalidError lists every violation found in a descriptor.
type InvalidError struct {
	Errors []ValidationError
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		if v.Path != "" {
			msgs[i] = v.Path + ": " + v.Message
		} else {
			msgs[i] = v.Message
		}
	}
	return "invalid command: " + strings.Join(msgs, "; ")
}

// Validator checks descriptors against the #Command schema.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so Validate
// serializes callers.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile command schema: %w", err)
	}
	schema := root.LookupPath(cue.ParsePath("#Command"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Command: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// Validate returns an *InvalidError when d violates the schema.
func (v *Validator) Validate(d *Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	value := v.ctx.CompileBytes(data, cue.Filename("descriptor.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("load descriptor: %w", err)
	}
	unified := v.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toInvalid(err)
	}
	return nil
}

func toInvalid(err error) *InvalidError {
	out := &InvalidError{}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out.Errors = append(out.Errors, ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(out.Errors) == 0 {
		out.Errors = append(out.Errors, ValidationError{Message: err.Error()})
	}
	return out
}

// Admit describes and validates an interaction received at now.
func (v *Validator) Admit(in *Interaction, now time.Time) (*model.Session, error) {
	d, err := Describe(in)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(d); err != nil {
		return nil, err
	}
	return d.Session(now), nil
}
