package dispatch

import "sync/atomic"

// Stats holds the dispatcher's monotonic counters.
type Stats struct {
	Events          atomic.Uint64
	EventsErrored   atomic.Uint64
	HandlersRan     atomic.Uint64
	HandlersErrored atomic.Uint64
	HandlersDenied  atomic.Uint64
	Consumed        atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters, safe to serialize.
type StatsSnapshot struct {
	Events          uint64 `json:"events"`
	EventsErrored   uint64 `json:"events_errored"`
	HandlersRan     uint64 `json:"handlers_ran"`
	HandlersErrored uint64 `json:"handlers_errored"`
	HandlersDenied  uint64 `json:"handlers_denied"`
	Consumed        uint64 `json:"consumed"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Events:          s.Events.Load(),
		EventsErrored:   s.EventsErrored.Load(),
		HandlersRan:     s.HandlersRan.Load(),
		HandlersErrored: s.HandlersErrored.Load(),
		HandlersDenied:  s.HandlersDenied.Load(),
		Consumed:        s.Consumed.Load(),
	}
}
