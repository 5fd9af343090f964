package harness

import "github.com/roach88/vmsync/internal/ir"

// Step kinds recorded in the trace.
const (
	KindPatch     = "patch"
	KindSet       = "set"
	KindFlush     = "flush"
	KindRoundtrip = "roundtrip"
)

// TraceEvent is one executed flow step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Path    string `json:"path,omitempty"`
	Seq     int64  `json:"seq"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"` // error class of an expected failure
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every flow step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Flushes counts completed flushes, the final one included.
	Flushes int `json:"flushes"`

	// Initial and State are the first and last snapshots.
	Initial ir.Node `json:"-"`
	State   ir.Node `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
