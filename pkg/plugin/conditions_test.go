package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/permission"
)

func TestCommandPredicate(t *testing.T) {
	cmd := Command("/status")

	assert.True(t, cmd.Match(messageEvent(domain.User("a"), "/status")))
	assert.True(t, cmd.Match(messageEvent(domain.User("a"), "/status verbose")))
	assert.False(t, cmd.Match(messageEvent(domain.User("a"), "/statusx")))
	assert.False(t, cmd.Match(messageEvent(domain.User("a"), "say /status")))

	notice := domain.NewEvent(domain.KindNotice, domain.User("a"), "a", "test", "/status")
	assert.False(t, cmd.Match(notice))
}

func TestCommandPredicate_Args(t *testing.T) {
	cmd := Command("/perm")

	assert.Empty(t, cmd.Args(messageEvent(domain.User("a"), "/perm")))
	assert.Equal(t,
		[]string{"grant", "alice", "speak"},
		cmd.Args(messageEvent(domain.User("a"), "/perm grant  alice   speak")))
}

func TestContainsPredicate(t *testing.T) {
	p := ContainsPredicate{Substring: "help"}
	assert.True(t, p.Match(messageEvent(domain.User("a"), "I need help now")))
	assert.False(t, p.Match(messageEvent(domain.User("a"), "all good")))
}

func TestSenderIsAdmin(t *testing.T) {
	store, err := permission.NewStore()
	require.NoError(t, err)
	require.NoError(t, store.Grant("root", domain.Global(), "admin", permission.Allow, time.Time{}))

	d := SenderIsAdmin{}
	view := store.View()

	assert.True(t, d.Allow(messageEvent(domain.User("root"), "hi"), view))
	assert.False(t, d.Allow(messageEvent(domain.User("guest"), "hi"), view))
	assert.False(t, d.Allow(messageEvent(domain.User("root"), "hi"), nil))
}

func TestRateLimit(t *testing.T) {
	d := NewRateLimit(2, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	alice := messageEvent(domain.User("alice"), "hi")
	bob := messageEvent(domain.User("bob"), "hi")

	assert.True(t, d.Allow(alice, nil))
	assert.True(t, d.Allow(alice, nil))
	assert.False(t, d.Allow(alice, nil))

	// Senders do not share windows.
	assert.True(t, d.Allow(bob, nil))

	// A fresh window resets the count.
	now = now.Add(time.Minute)
	assert.True(t, d.Allow(alice, nil))
}
