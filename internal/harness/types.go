package harness

// Trace event types.
const (
	EventStep     = "step"
	EventEdit     = "edit"
	EventReaction = "reaction"
)

// TraceEvent is one thing observed while running a scenario: a step the
// harness performed, a message edit sent to the platform, or a reaction
// added or removed by the bot.
type TraceEvent struct {
	Type   string `json:"type"`
	Seq    int64  `json:"seq"`
	At     string `json:"at"`
	Action string `json:"action,omitempty"`
	Token  string `json:"token,omitempty"`
	Title  string `json:"title,omitempty"`
	Status int    `json:"status,omitempty"`
	Op     string `json:"op,omitempty"`
	Emoji  string `json:"emoji,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains every step, edit and reaction in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	seq int64
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) {
	r.seq++
	e.Seq = r.seq
	r.Trace = append(r.Trace, e)
}

// Edits returns the edit events for token.
func (r *Result) Edits(token string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventEdit && e.Token == token {
			out = append(out, e)
		}
	}
	return out
}
