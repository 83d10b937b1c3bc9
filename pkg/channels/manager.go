package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
)

// Manager owns the registered channels, starts and stops them together, and
// routes outbound messages from the bus to the channel they name.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel

	mb      *bus.MessageBus
	signals domain.SignalBus
	log     *logrus.Entry
}

// NewManager creates an empty channel manager.
func NewManager(mb *bus.MessageBus, signals domain.SignalBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		mb:       mb,
		signals:  signals,
		log:      logger.New("channels"),
	}
}

// Register adds a channel. Registering two channels with the same name is a
// programming error and panics at startup.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[ch.Name()]; exists {
		panic(fmt.Sprintf("channels: duplicate channel %q", ch.Name()))
	}
	m.channels[ch.Name()] = ch
}

// Names lists registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every channel. A channel that fails to start is logged
// and skipped; the rest of the host keeps serving.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			m.log.WithFields(logger.Fields{"channel": name, "error": err.Error()}).
				Error("channel failed to start")
			m.publish(domain.SignalChannelError, name)
			continue
		}
		m.log.WithField("channel", name).Info("channel started")
		m.publish(domain.SignalChannelConnected, name)
	}
}

// StopAll stops every channel.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			m.log.WithFields(logger.Fields{"channel": name, "error": err.Error()}).
				Warn("channel stop failed")
		}
		m.publish(domain.SignalChannelDisconnected, name)
	}
}

// DeliverLoop consumes outbound messages until the context is cancelled and
// hands each to the channel it names. Delivery failures are logged, never
// propagated: a broken transport cannot poison dispatch.
func (m *Manager) DeliverLoop(ctx context.Context) {
	for {
		msg, ok := m.mb.ConsumeOutbound(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		ch, found := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !found {
			m.log.WithField("channel", msg.Channel).Warn("outbound message for unknown channel dropped")
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			m.log.WithFields(logger.Fields{"channel": msg.Channel, "error": err.Error()}).
				Error("outbound delivery failed")
			m.publish(domain.SignalChannelError, msg.Channel)
		}
	}
}

func (m *Manager) publish(t domain.SignalType, data interface{}) {
	if m.signals != nil {
		m.signals.Publish(domain.NewSignal(t, data))
	}
}
