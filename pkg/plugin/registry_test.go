package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/permission"
)

func newTestRegistry(t *testing.T) (*Registry, *permission.Store) {
	t.Helper()
	store, err := permission.NewStore()
	require.NoError(t, err)
	return NewRegistry(store, nil), store
}

func noopHandler(*Context, domain.Event) (Completion, error) { return Continue, nil }

func messageEvent(scope domain.Scope, content string) domain.Event {
	return domain.NewEvent(domain.KindMessage, scope, scope.UserID, "test", content)
}

func drain(seq *MatchSeq) []Match {
	var out []Match
	for {
		m, ok := seq.Next()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func TestLoad_DuplicateName(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Load(New("echo", "1.0.0").Listen(ListenerSchema{Handler: noopHandler})))
	err := r.Load(New("echo", "2.0.0").Listen(ListenerSchema{Handler: noopHandler}))
	assert.ErrorIs(t, err, ErrDuplicatePlugin)

	// The original plugin is untouched.
	info, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, StateActive, info.State)
}

func TestLoad_InvalidPriority(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.Load(New("bad", "1.0.0").Listen(ListenerSchema{Priority: -1, Handler: noopHandler}))
	assert.ErrorIs(t, err, ErrInvalidPriority)

	// Errored plugins stay introspectable but never match.
	info, ok := r.Get("bad")
	require.True(t, ok)
	assert.Equal(t, StateErrored, info.State)
	assert.NotEmpty(t, info.Error)

	seq := r.MatchingHandlers(messageEvent(domain.User("alice"), "hi"), nil)
	assert.Empty(t, drain(seq))
}

func TestLoad_DuplicateSchema(t *testing.T) {
	r, _ := newTestRegistry(t)

	p := New("dup", "1.0.0").
		Listen(ListenerSchema{Kinds: []domain.EventKind{domain.KindMessage}, Predicate: Command("/x"), Handler: noopHandler}).
		Listen(ListenerSchema{Kinds: []domain.EventKind{domain.KindMessage}, Predicate: Command("/x"), Handler: noopHandler})
	err := r.Load(p)
	assert.ErrorIs(t, err, ErrDuplicateSchema)

	info, _ := r.Get("dup")
	assert.Equal(t, StateErrored, info.State)
}

func TestLoad_RegistersCapabilities(t *testing.T) {
	r, store := newTestRegistry(t)

	require.NoError(t, r.Load(New("admin", "1.0.0").
		Requires(permission.Capability{Name: "manage", DefaultAllow: false}).
		Listen(ListenerSchema{Handler: noopHandler})))

	c, ok := store.View().CapabilityDefault("manage")
	require.True(t, ok)
	assert.False(t, c.DefaultAllow)
}

func TestMatching_Ordering(t *testing.T) {
	// Priority ascending; ties break by registration order, which follows
	// plugin load order.
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Load(New("first", "1").
		Listen(ListenerSchema{Name: "a", Priority: 5, Predicate: ContainsPredicate{Substring: "h"}, Handler: noopHandler}).
		Listen(ListenerSchema{Name: "b", Priority: 0, Predicate: ContainsPredicate{Substring: "i"}, Handler: noopHandler})))
	require.NoError(t, r.Load(New("second", "1").
		Listen(ListenerSchema{Name: "c", Priority: 5, Handler: noopHandler})))

	matches := drain(r.MatchingHandlers(messageEvent(domain.User("alice"), "hi"), nil))
	require.Len(t, matches, 3)
	assert.Equal(t, "b", matches[0].Schema.Name)
	assert.Equal(t, "a", matches[1].Schema.Name)
	assert.Equal(t, "c", matches[2].Schema.Name)
}

func TestMatching_Filters(t *testing.T) {
	r, _ := newTestRegistry(t)
	groupScope := domain.Group("g1")

	require.NoError(t, r.Load(New("filters", "1").
		Listen(ListenerSchema{Name: "notices", Kinds: []domain.EventKind{domain.KindNotice}, Handler: noopHandler}).
		Listen(ListenerSchema{Name: "g1-only", Scope: &groupScope, Handler: noopHandler}).
		Listen(ListenerSchema{Name: "cmd", Predicate: Command("/go"), Handler: noopHandler})))

	matches := drain(r.MatchingHandlers(messageEvent(domain.Member("g1", "alice"), "/go now"), nil))
	require.Len(t, matches, 2)
	assert.Equal(t, "g1-only", matches[0].Schema.Name)
	assert.Equal(t, "cmd", matches[1].Schema.Name)

	matches = drain(r.MatchingHandlers(messageEvent(domain.User("bob"), "plain text"), nil))
	assert.Empty(t, matches)
}

func TestMatching_SkipsDisabledAtScope(t *testing.T) {
	r, store := newTestRegistry(t)

	require.NoError(t, r.Load(New("echo", "1").Listen(ListenerSchema{Handler: noopHandler})))
	require.NoError(t, store.SetFeature("echo", domain.Group("g1"), false))

	view := store.View()
	assert.Empty(t, drain(r.MatchingHandlers(messageEvent(domain.Member("g1", "alice"), "hi"), view)))
	assert.Len(t, drain(r.MatchingHandlers(messageEvent(domain.Member("g2", "alice"), "hi"), view)), 1)
}

func TestSetEnabled_Global(t *testing.T) {
	r, store := newTestRegistry(t)
	require.NoError(t, r.Load(New("echo", "1").Listen(ListenerSchema{Handler: noopHandler})))

	require.NoError(t, r.SetEnabled("echo", nil, false))
	info, _ := r.Get("echo")
	assert.Equal(t, StateDisabled, info.State)
	assert.Empty(t, drain(r.MatchingHandlers(messageEvent(domain.User("a"), "hi"), store.View())))

	require.NoError(t, r.SetEnabled("echo", nil, true))
	info, _ = r.Get("echo")
	assert.Equal(t, StateActive, info.State)
	assert.Len(t, drain(r.MatchingHandlers(messageEvent(domain.User("a"), "hi"), store.View())), 1)
}

func TestSetEnabled_ScopeOverrideBeatsGlobalDisable(t *testing.T) {
	// A per-scope enable outvotes the global flag: the group that opted back
	// in keeps matching while everyone else stays dark.
	r, store := newTestRegistry(t)
	require.NoError(t, r.Load(New("echo", "1").Listen(ListenerSchema{Handler: noopHandler})))

	g1 := domain.Group("g1")
	require.NoError(t, r.SetEnabled("echo", nil, false))
	require.NoError(t, r.SetEnabled("echo", &g1, true))

	view := store.View()
	assert.Len(t, drain(r.MatchingHandlers(messageEvent(domain.Member("g1", "alice"), "hi"), view)), 1)
	assert.Empty(t, drain(r.MatchingHandlers(messageEvent(domain.Member("g2", "alice"), "hi"), view)))
}

func TestSetEnabled_Unknown(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.ErrorIs(t, r.SetEnabled("ghost", nil, true), ErrPluginNotFound)
}

func TestUnload(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Load(New("echo", "1").Listen(ListenerSchema{Handler: noopHandler})))

	require.NoError(t, r.Unload("echo"))
	assert.ErrorIs(t, r.Unload("echo"), ErrPluginNotFound)
	assert.Empty(t, drain(r.MatchingHandlers(messageEvent(domain.User("a"), "hi"), nil)))
}

func TestMatchSeq_SnapshotIsolation(t *testing.T) {
	// A sequence captured before an unload still yields the old matches.
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Load(New("echo", "1").Listen(ListenerSchema{Handler: noopHandler})))

	seq := r.MatchingHandlers(messageEvent(domain.User("a"), "hi"), nil)
	require.NoError(t, r.Unload("echo"))

	assert.Len(t, drain(seq), 1)
}

func TestPlugins_LoadOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Load(New("one", "1").Listen(ListenerSchema{Handler: noopHandler})))
	require.NoError(t, r.Load(New("two", "1").Listen(ListenerSchema{Handler: noopHandler})))

	infos := r.Plugins()
	require.Len(t, infos, 2)
	assert.Equal(t, "one", infos[0].Name)
	assert.Equal(t, "two", infos[1].Name)
}
