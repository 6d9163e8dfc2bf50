package harness

// FlushEvent is one model flush as the peer saw it.
type FlushEvent struct {
	Seq    int64          `json:"seq"`
	Values map[string]any `json:"values"`
}

// EmbedEvent is one recorded embed attempt.
type EmbedEvent struct {
	Session string `json:"session"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Flushes lists every flush in seq order.
	Flushes []FlushEvent `json:"flushes"`

	// Final is the model snapshot after the run settled.
	Final map[string]any `json:"final"`

	// State is the final bridge state.
	State string `json:"state"`

	// Reported holds errors raised through the runtime's error channel.
	Reported []string `json:"reported,omitempty"`

	// Embeds lists embed attempts in the order they were recorded.
	Embeds []EmbedEvent `json:"embeds"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Flushes:  []FlushEvent{},
		Final:    make(map[string]any),
		Reported: []string{},
		Embeds:   []EmbedEvent{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
