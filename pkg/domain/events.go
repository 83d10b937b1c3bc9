package domain

import "time"

// ---------------------------------------------------------------------------
// Domain event system — lifecycle and observability signals
// ---------------------------------------------------------------------------

// SignalType classifies domain events for routing and filtering.
type SignalType string

// Bounded context prefixes ensure global uniqueness of signal names.
const (
	// Plugin context
	SignalPluginLoaded   SignalType = "plugin.loaded"
	SignalPluginUnloaded SignalType = "plugin.unloaded"
	SignalPluginErrored  SignalType = "plugin.errored"
	SignalPluginToggled  SignalType = "plugin.toggled"

	// Permission context
	SignalGrantAdded   SignalType = "permission.granted"
	SignalGrantRevoked SignalType = "permission.revoked"
	SignalGrantExpired SignalType = "permission.expired"

	// Dispatch context
	SignalDispatchCompleted SignalType = "dispatch.completed"

	// Channel context
	SignalChannelConnected    SignalType = "channel.connected"
	SignalChannelDisconnected SignalType = "channel.disconnected"
	SignalChannelError        SignalType = "channel.error"

	// System-level
	SignalSystemStartup  SignalType = "system.startup"
	SignalSystemShutdown SignalType = "system.shutdown"
)

// Signal is the interface all domain events implement.
type Signal interface {
	// SignalType returns the classified signal type.
	SignalType() SignalType
	// OccurredAt returns when the signal happened.
	OccurredAt() time.Time
	// Payload returns the signal-specific data.
	Payload() interface{}
}

// BaseSignal provides a reusable implementation of the Signal interface.
type BaseSignal struct {
	Type      SignalType  `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

func (s BaseSignal) SignalType() SignalType { return s.Type }
func (s BaseSignal) OccurredAt() time.Time  { return s.Timestamp }
func (s BaseSignal) Payload() interface{}   { return s.Data }

// NewSignal creates a new domain signal.
func NewSignal(signalType SignalType, data interface{}) BaseSignal {
	return BaseSignal{
		Type:      signalType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// SignalHandler processes a domain signal. Handlers should be idempotent
// and must not block: publication happens on the emitter's goroutine.
type SignalHandler func(Signal)

// SignalBus dispatches domain signals to registered handlers. It decouples
// the core from observers (notifiers, counters, the introspection API).
type SignalBus interface {
	// Publish dispatches a signal to all registered handlers.
	Publish(signal Signal)
	// Subscribe registers a handler for a specific signal type.
	Subscribe(signalType SignalType, handler SignalHandler)
	// SubscribeAll registers a handler that receives every signal.
	SubscribeAll(handler SignalHandler)
	// Close shuts down the bus; later publishes are dropped.
	Close()
}
