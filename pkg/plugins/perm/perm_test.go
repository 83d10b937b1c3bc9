package perm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/permission"
	"github.com/umino-bot/umino/pkg/plugin"
)

type captureSender struct {
	messages []domain.Message
}

func (s *captureSender) PublishOutbound(msg domain.Message) {
	s.messages = append(s.messages, msg)
}

func setup(t *testing.T) (Deps, *plugin.Plugin) {
	t.Helper()
	store, err := permission.NewStore()
	require.NoError(t, err)
	registry := plugin.NewRegistry(store, nil)

	deps := Deps{Store: store, Registry: registry}
	p := New(deps)
	require.NoError(t, registry.Load(p))
	return deps, p
}

func run(t *testing.T, p *plugin.Plugin, ev domain.Event) string {
	t.Helper()
	for i := range p.Listeners {
		schema := &p.Listeners[i]
		if !schema.Matches(ev) {
			continue
		}
		sender := &captureSender{}
		_, err := schema.Handler(plugin.NewContext(context.Background(), ev, nil, sender), ev)
		require.NoError(t, err)
		require.Len(t, sender.messages, 1)
		return sender.messages[0].PlainText()
	}
	t.Fatalf("no listener matched %q", ev.Content)
	return ""
}

func groupEvent(content string) domain.Event {
	return domain.NewEvent(domain.KindMessage, domain.Member("g1", "root"), "root", "test", content)
}

func dmEvent(content string) domain.Event {
	return domain.NewEvent(domain.KindMessage, domain.User("root"), "root", "test", content)
}

func TestAdminCapabilityDefaultsToDeny(t *testing.T) {
	deps, _ := setup(t)
	assert.False(t, deps.Store.IsAllowed("anyone", domain.Member("g1", "anyone"), AdminCapability))
}

func TestGrantInGroupScopesToGroup(t *testing.T) {
	deps, p := setup(t)

	reply := run(t, p, groupEvent("/perm grant alice speak"))
	assert.Contains(t, reply, "allow alice speak at group:g1")

	assert.True(t, deps.Store.IsAllowed("alice", domain.Member("g1", "alice"), "speak"))
	assert.False(t, deps.Store.IsAllowed("alice", domain.Member("g2", "alice"), "speak"))
}

func TestGrantInDirectChatIsGlobal(t *testing.T) {
	deps, p := setup(t)

	run(t, p, dmEvent("/perm grant alice speak"))
	assert.True(t, deps.Store.IsAllowed("alice", domain.Member("g2", "alice"), "speak"))
}

func TestGrantDenyWithTTL(t *testing.T) {
	deps, p := setup(t)

	// An unregistered capability denies by default, so allow globally first.
	require.NoError(t, deps.Store.Grant(permission.SubjectAll, domain.Global(), "speak", permission.Allow, time.Time{}))

	reply := run(t, p, groupEvent("/perm grant mallory speak deny 10m"))
	assert.Contains(t, reply, "deny mallory speak")

	assert.False(t, deps.Store.IsAllowed("mallory", domain.Member("g1", "mallory"), "speak"))

	grants := deps.Store.Grants()
	for _, g := range grants {
		if g.Subject == "mallory" {
			assert.False(t, g.ExpiresAt.IsZero())
		}
	}
}

func TestGrantBadArgument(t *testing.T) {
	_, p := setup(t)
	reply := run(t, p, groupEvent("/perm grant alice speak whenever"))
	assert.Contains(t, reply, `bad argument "whenever"`)
}

func TestRevoke(t *testing.T) {
	deps, p := setup(t)

	run(t, p, groupEvent("/perm grant alice speak"))
	reply := run(t, p, groupEvent("/perm revoke alice speak"))
	assert.Contains(t, reply, "revoked alice speak")
	assert.False(t, deps.Store.IsAllowed("alice", domain.Member("g1", "alice"), "speak"))
}

func TestUsage(t *testing.T) {
	_, p := setup(t)
	assert.Contains(t, run(t, p, groupEvent("/perm")), "usage:")
	assert.Contains(t, run(t, p, groupEvent("/perm frobnicate alice speak")), "usage:")
	assert.Contains(t, run(t, p, groupEvent("/plugin")), "usage:")
}

func TestPluginList(t *testing.T) {
	_, p := setup(t)
	reply := run(t, p, groupEvent("/plugin list"))
	assert.Contains(t, reply, "perm 1.0.0 [active]")
}

func TestPluginDisableHere(t *testing.T) {
	deps, p := setup(t)

	reply := run(t, p, groupEvent("/plugin disable perm"))
	assert.Contains(t, reply, "perm disabled at group:g1")

	assert.False(t, deps.Store.IsFeatureEnabled("perm", domain.Member("g1", "x")))
	assert.True(t, deps.Store.IsFeatureEnabled("perm", domain.Member("g2", "x")))
}

func TestPluginDisableGlobal(t *testing.T) {
	deps, p := setup(t)

	reply := run(t, p, groupEvent("/plugin disable perm global"))
	assert.Contains(t, reply, "perm disabled globally")

	info, ok := deps.Registry.Get("perm")
	require.True(t, ok)
	assert.Equal(t, plugin.StateDisabled, info.State)
}

func TestPluginToggleUnknown(t *testing.T) {
	_, p := setup(t)
	reply := run(t, p, groupEvent("/plugin enable ghost"))
	assert.Contains(t, reply, "toggle failed")
}
