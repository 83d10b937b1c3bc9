// Package bus carries normalized events from the transports to the
// dispatcher and outbound messages from handlers back to the transports.
// It is the only seam between the core and the platform adapters.
package bus

import (
	"context"
	"sync"

	"github.com/umino-bot/umino/pkg/domain"
)

// Subscriber is a named tap on a message stream. Multiple subscribers can
// independently observe the same published items (fan-out).
type Subscriber struct {
	Name string
	ch   chan interface{} // receives copies of published items
}

// MessageBus is the bounded in-process queue pair between transports and the
// dispatcher, with named observability taps on both directions.
type MessageBus struct {
	inbound   chan domain.Event
	outbound  chan domain.Message
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	// Fan-out subscribers — every published item is sent to all taps
	inboundSubs  []*Subscriber
	outboundSubs []*Subscriber
	reportSubs   []*Subscriber // for DispatchReport fan-out
}

// NewMessageBus creates a bus with bounded queues.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan domain.Event, 100),
		outbound: make(chan domain.Message, 100),
	}
}

// --- Fan-out subscriptions ---

// SubscribeInboundTap creates a named subscriber that receives copies of all
// inbound events. The returned channel is buffered; slow consumers drop.
func (mb *MessageBus) SubscribeInboundTap(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.inboundSubs = append(mb.inboundSubs, sub)
	return sub.ch
}

// SubscribeOutboundTap creates a named subscriber for outbound messages.
func (mb *MessageBus) SubscribeOutboundTap(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.outboundSubs = append(mb.outboundSubs, sub)
	return sub.ch
}

// SubscribeReports creates a named subscriber for dispatch reports. This is
// the observability sink boundary: delivery is best-effort and never blocks
// the dispatcher.
func (mb *MessageBus) SubscribeReports(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.reportSubs = append(mb.reportSubs, sub)
	return sub.ch
}

// PublishReport fans a dispatch report out to all report subscribers.
func (mb *MessageBus) PublishReport(report domain.DispatchReport) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	for _, sub := range mb.reportSubs {
		select {
		case sub.ch <- report:
		default: // drop if slow
		}
	}
}

func (mb *MessageBus) fanOutInbound(ev domain.Event) {
	for _, sub := range mb.inboundSubs {
		select {
		case sub.ch <- ev:
		default: // non-blocking — drop if subscriber is slow
		}
	}
}

func (mb *MessageBus) fanOutOutbound(msg domain.Message) {
	for _, sub := range mb.outboundSubs {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// --- Primary publish/consume ---

// PublishInbound enqueues a normalized event for dispatch. When the queue is
// full the oldest event is dropped so transports never block on the core.
// The lock is held across the send: every queue operation is non-blocking,
// and Close takes the write lock, so a publish can never race the close of
// the underlying channel.
func (mb *MessageBus) PublishInbound(ev domain.Event) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.fanOutInbound(ev)

	select {
	case mb.inbound <- ev:
	default:
		// Queue full — drop oldest and retry
		select {
		case <-mb.inbound:
		default:
		}
		select {
		case mb.inbound <- ev:
		default:
		}
	}
}

// ConsumeInbound blocks for the next inbound event or context cancellation.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (domain.Event, bool) {
	select {
	case ev, ok := <-mb.inbound:
		return ev, ok
	case <-ctx.Done():
		return domain.Event{}, false
	}
}

// PublishOutbound enqueues a message for delivery by its channel adapter.
func (mb *MessageBus) PublishOutbound(msg domain.Message) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.fanOutOutbound(msg)

	select {
	case mb.outbound <- msg:
	default:
		select {
		case <-mb.outbound:
		default:
		}
		select {
		case mb.outbound <- msg:
		default:
		}
	}
}

// ConsumeOutbound blocks for the next outbound message or context cancellation.
func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (domain.Message, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-ctx.Done():
		return domain.Message{}, false
	}
}

// Close shuts the bus down. Subscriber channels are closed; later publishes
// are silently dropped.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		defer mb.mu.Unlock()
		mb.closed = true
		for _, sub := range mb.inboundSubs {
			close(sub.ch)
		}
		for _, sub := range mb.outboundSubs {
			close(sub.ch)
		}
		for _, sub := range mb.reportSubs {
			close(sub.ch)
		}
		close(mb.inbound)
		close(mb.outbound)
	})
}
