// Package channels contains the transport adapters. Each adapter decodes
// platform messages into normalized domain events, publishes them on the
// message bus, and delivers outbound messages addressed to it.
package channels

import (
	"context"

	"github.com/umino-bot/umino/pkg/domain"
)

// Channel is a transport adapter.
type Channel interface {
	// Name is the channel identifier carried by events and messages.
	Name() string
	// Start connects the transport and begins publishing inbound events.
	// It must not block; receive loops run on their own goroutines.
	Start(ctx context.Context) error
	// Send delivers one outbound message.
	Send(ctx context.Context, msg domain.Message) error
	// Stop disconnects the transport.
	Stop(ctx context.Context) error
}
