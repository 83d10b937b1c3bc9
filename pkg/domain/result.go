package domain

import "time"

// ---------------------------------------------------------------------------
// Dispatch results — per-handler outcomes aggregated per event
// ---------------------------------------------------------------------------

// Outcome classifies what happened to one matched handler.
type Outcome string

const (
	// OutcomeRan means the handler executed to completion.
	OutcomeRan Outcome = "ran"
	// OutcomeSkippedNoMatch means the handler was not run for a non-error
	// reason: filter mismatch, disabled plugin, or an earlier consume signal.
	OutcomeSkippedNoMatch Outcome = "skipped-no-match"
	// OutcomeSkippedDenied means the permission store denied the handler's
	// required capability for this event's sender and scope.
	OutcomeSkippedDenied Outcome = "skipped-denied"
	// OutcomeErrored means the handler faulted, panicked, or timed out.
	OutcomeErrored Outcome = "errored"
)

// DispatchResult records the outcome of one handler for one event.
type DispatchResult struct {
	Plugin   string        `json:"plugin"`
	Listener string        `json:"listener"`
	Priority int           `json:"priority"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// DispatchReport aggregates all results for one event. It is emitted to the
// observability sink and never persisted by the core.
type DispatchReport struct {
	EventID    string           `json:"event_id"`
	Seq        uint64           `json:"seq"`
	Kind       EventKind        `json:"kind"`
	Scope      Scope            `json:"scope"`
	Results    []DispatchResult `json:"results"`
	Consumed   bool             `json:"consumed"`
	ConsumedBy string           `json:"consumed_by,omitempty"`
	Elapsed    time.Duration    `json:"elapsed"`
}

// Errored reports whether any handler faulted.
func (r DispatchReport) Errored() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeErrored {
			return true
		}
	}
	return false
}
