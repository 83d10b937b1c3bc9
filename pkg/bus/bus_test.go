package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umino-bot/umino/pkg/domain"
)

func inboundEvent(content string) domain.Event {
	return domain.NewEvent(domain.KindMessage, domain.User("alice"), "alice", "test", content)
}

func TestPublishConsumeInbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	sent := inboundEvent("hello")
	mb.PublishInbound(sent)

	got, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello", got.Content)
}

func TestConsumeInbound_ContextCancel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := mb.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestPublishInbound_DropsOldestWhenFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < 101; i++ {
		mb.PublishInbound(inboundEvent(fmt.Sprintf("msg-%d", i)))
	}

	// msg-0 was dropped to admit msg-100; the publisher never blocked.
	got, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "msg-1", got.Content)
}

func TestPublishConsumeOutbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishOutbound(domain.TextMessage("discord", domain.Group("g1"), "hi"))

	got, ok := mb.ConsumeOutbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "discord", got.Channel)
	assert.Equal(t, "hi", got.PlainText())
}

func TestInboundTaps_FanOut(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	tap1 := mb.SubscribeInboundTap("one")
	tap2 := mb.SubscribeInboundTap("two")

	sent := inboundEvent("observed")
	mb.PublishInbound(sent)

	for _, tap := range []<-chan interface{}{tap1, tap2} {
		raw := <-tap
		ev, ok := raw.(domain.Event)
		require.True(t, ok)
		assert.Equal(t, sent.ID, ev.ID)
	}

	// The primary queue still holds the event: taps are copies.
	_, ok := mb.ConsumeInbound(context.Background())
	assert.True(t, ok)
}

func TestSlowTapDropsInsteadOfBlocking(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	tap := mb.SubscribeReports("slow")

	// The tap buffer holds 64; everything beyond is dropped, never blocking
	// the publisher.
	for i := 0; i < 80; i++ {
		mb.PublishReport(domain.DispatchReport{EventID: fmt.Sprintf("ev-%d", i)})
	}

	assert.Len(t, tap, 64)
	first := (<-tap).(domain.DispatchReport)
	assert.Equal(t, "ev-0", first.EventID)
}

func TestPublishRacingCloseDoesNotPanic(t *testing.T) {
	// Transports keep publishing while the host shuts the bus down; a
	// publish concurrent with Close must become a silent no-op, never a
	// send on a closed channel.
	mb := NewMessageBus()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				mb.PublishInbound(inboundEvent("racy"))
				mb.PublishOutbound(domain.TextMessage("test", domain.Global(), "racy"))
			}
		}()
	}
	mb.Close()
	wg.Wait()
}

func TestClose(t *testing.T) {
	mb := NewMessageBus()
	tap := mb.SubscribeOutboundTap("observer")

	mb.Close()
	mb.Close() // idempotent

	_, open := <-tap
	assert.False(t, open)

	// Publishing after close is a silent no-op.
	mb.PublishOutbound(domain.TextMessage("test", domain.Global(), "late"))
	mb.PublishReport(domain.DispatchReport{})
}
