// Package eventbus provides the in-process implementation of the domain
// signal bus. This is the infrastructure adapter for domain.SignalBus.
package eventbus

import (
	"sync"

	"github.com/umino-bot/umino/pkg/domain"
)

// InProcessSignalBus is a synchronous in-process signal bus.
// It dispatches signals to registered handlers immediately on Publish().
// For production, this can be swapped for an async/distributed implementation
// behind the same domain.SignalBus interface.
type InProcessSignalBus struct {
	handlers    map[domain.SignalType][]domain.SignalHandler
	allHandlers []domain.SignalHandler
	mu          sync.RWMutex
	closed      bool
}

// New creates a new in-process signal bus.
func New() *InProcessSignalBus {
	return &InProcessSignalBus{
		handlers:    make(map[domain.SignalType][]domain.SignalHandler),
		allHandlers: make([]domain.SignalHandler, 0),
	}
}

// Publish dispatches a signal to all matching handlers.
// Handlers for the specific signal type are called first, then global handlers.
func (b *InProcessSignalBus) Publish(signal domain.Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	if handlers, ok := b.handlers[signal.SignalType()]; ok {
		for _, handler := range handlers {
			handler(signal)
		}
	}

	for _, handler := range b.allHandlers {
		handler(signal)
	}
}

// Subscribe registers a handler for a specific signal type.
func (b *InProcessSignalBus) Subscribe(signalType domain.SignalType, handler domain.SignalHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[signalType] = append(b.handlers[signalType], handler)
}

// SubscribeAll registers a handler that receives every signal.
func (b *InProcessSignalBus) SubscribeAll(handler domain.SignalHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allHandlers = append(b.allHandlers, handler)
}

// Close marks the bus as closed. No more signals will be dispatched.
func (b *InProcessSignalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
}

// HandlerCount returns the total number of registered handlers (for diagnostics).
func (b *InProcessSignalBus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allHandlers)
	for _, handlers := range b.handlers {
		count += len(handlers)
	}
	return count
}

// Verify interface compliance at compile time.
var _ domain.SignalBus = (*InProcessSignalBus)(nil)
