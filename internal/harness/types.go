package harness

// TraceEvent records one scenario step and what every open query held after
// it.
type TraceEvent struct {
	Step int    `json:"step"`
	Op   string `json:"op"`

	// Seq, Kind and ID describe the snapshot or event applied; zero for
	// other ops.
	Seq  int64  `json:"seq,omitempty"`
	Kind string `json:"kind,omitempty"`
	ID   string `json:"id,omitempty"`

	// Error is the sync error code when the engine rejected an event.
	Error string `json:"error,omitempty"`

	// Results maps each open query name to its result ids.
	Results map[string][]string `json:"results"`

	NeedsResync bool `json:"needs_resync,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
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
