package permission

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umino-bot/umino/pkg/domain"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(opts...)
	require.NoError(t, err)
	return s
}

func TestIsAllowed_UnregisteredCapabilityDeniesByDefault(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.IsAllowed("alice", domain.Global(), "unknown"))
}

func TestIsAllowed_CapabilityDefault(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DefineCapability(Capability{Name: "chat", DefaultAllow: true}))
	require.NoError(t, s.DefineCapability(Capability{Name: "admin", DefaultAllow: false}))

	assert.True(t, s.IsAllowed("alice", domain.Member("g1", "alice"), "chat"))
	assert.False(t, s.IsAllowed("alice", domain.Member("g1", "alice"), "admin"))
}

func TestIsAllowed_SpecificityLadder(t *testing.T) {
	// A global allow, a group deny, and a member allow: the member grant is
	// closest and wins for that member; everyone else in the group is denied.
	s := newTestStore(t)
	require.NoError(t, s.Grant(SubjectAll, domain.Global(), "speak", Allow, time.Time{}))
	require.NoError(t, s.Grant(SubjectAll, domain.Group("g1"), "speak", Deny, time.Time{}))
	require.NoError(t, s.Grant("alice", domain.Member("g1", "alice"), "speak", Allow, time.Time{}))

	assert.True(t, s.IsAllowed("alice", domain.Member("g1", "alice"), "speak"))
	assert.False(t, s.IsAllowed("bob", domain.Member("g1", "bob"), "speak"))
	assert.True(t, s.IsAllowed("bob", domain.Member("g2", "bob"), "speak"))
}

func TestIsAllowed_NamedSubjectOutranksWildcard(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Grant(SubjectAll, domain.Group("g1"), "speak", Allow, time.Time{}))
	require.NoError(t, s.Grant("mallory", domain.Group("g1"), "speak", Deny, time.Time{}))

	assert.True(t, s.IsAllowed("alice", domain.Member("g1", "alice"), "speak"))
	assert.False(t, s.IsAllowed("mallory", domain.Member("g1", "mallory"), "speak"))
}

func TestIsAllowed_UserScopedGrantFollowsSubject(t *testing.T) {
	// A grant pinned to alice's user scope outranks broader grants wherever
	// alice acts, even when the query scope itself names no user.
	s := newTestStore(t)
	require.NoError(t, s.Grant(SubjectAll, domain.Global(), "speak", Allow, time.Time{}))
	require.NoError(t, s.Grant("alice", domain.User("alice"), "speak", Deny, time.Time{}))

	assert.False(t, s.IsAllowed("alice", domain.Global(), "speak"))
	assert.False(t, s.IsAllowed("alice", domain.Member("g1", "alice"), "speak"))
	assert.True(t, s.IsAllowed("bob", domain.Global(), "speak"))
}

func TestGrant_IdempotentUpsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Grant("alice", domain.Global(), "speak", Deny, time.Time{}))
	require.NoError(t, s.Grant("alice", domain.Global(), "speak", Allow, time.Time{}))

	assert.True(t, s.IsAllowed("alice", domain.Global(), "speak"))
	assert.Len(t, s.Grants(), 1)
}

func TestGrant_Validation(t *testing.T) {
	s := newTestStore(t)

	assert.ErrorIs(t, s.Grant("", domain.Global(), "speak", Allow, time.Time{}), ErrValidation)
	assert.ErrorIs(t, s.Grant("a b", domain.Global(), "speak", Allow, time.Time{}), ErrValidation)
	assert.ErrorIs(t, s.Grant("alice", domain.Group("g/1"), "speak", Allow, time.Time{}), ErrValidation)
	assert.ErrorIs(t, s.Grant("alice", domain.Global(), "", Allow, time.Time{}), ErrValidation)

	// Nothing was recorded.
	assert.Empty(t, s.Grants())
}

func TestRevoke_MissingGrantIsNoOp(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Revoke("alice", domain.Global(), "speak"))
}

func TestRevoke_RemovesGrant(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Grant("alice", domain.Global(), "speak", Allow, time.Time{}))
	require.NoError(t, s.Revoke("alice", domain.Global(), "speak"))

	assert.False(t, s.IsAllowed("alice", domain.Global(), "speak"))
	assert.Empty(t, s.Grants())
}

func TestExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := newTestStore(t, WithClock(clock))

	require.NoError(t, s.Grant("alice", domain.Global(), "speak", Allow, now.Add(time.Hour)))
	assert.True(t, s.IsAllowed("alice", domain.Global(), "speak"))

	// Past expiry the grant no longer participates in resolution even
	// before the sweeper runs.
	now = now.Add(2 * time.Hour)
	assert.False(t, s.IsAllowed("alice", domain.Global(), "speak"))

	assert.Equal(t, 1, s.PurgeExpired())
	assert.Empty(t, s.Grants())
	assert.Equal(t, 0, s.PurgeExpired())
}

func TestExpiredGrantUncoversBroaderGrant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := newTestStore(t, WithClock(clock))

	require.NoError(t, s.Grant(SubjectAll, domain.Global(), "speak", Allow, time.Time{}))
	require.NoError(t, s.Grant("alice", domain.User("alice"), "speak", Deny, now.Add(time.Minute)))

	assert.False(t, s.IsAllowed("alice", domain.Global(), "speak"))
	now = now.Add(time.Hour)
	assert.True(t, s.IsAllowed("alice", domain.Global(), "speak"))
}

func TestGrant_PersistenceFailureLeavesNoGrant(t *testing.T) {
	repo := &failingRepo{err: errors.New("disk full")}
	s := newTestStore(t, WithRepository(repo))

	assert.Error(t, s.Grant("alice", domain.Global(), "speak", Allow, time.Time{}))
	assert.Empty(t, s.Grants())
	assert.False(t, s.IsAllowed("alice", domain.Global(), "speak"))
}

func TestRevoke_PersistenceFailureKeepsGrant(t *testing.T) {
	repo := &failingRepo{}
	s := newTestStore(t, WithRepository(repo))
	require.NoError(t, s.Grant("alice", domain.Global(), "speak", Allow, time.Time{}))

	repo.err = errors.New("disk full")
	assert.Error(t, s.Revoke("alice", domain.Global(), "speak"))
	assert.True(t, s.IsAllowed("alice", domain.Global(), "speak"))
}

func TestFeatureFlags(t *testing.T) {
	s := newTestStore(t)

	// No data at all: enabled.
	assert.True(t, s.IsFeatureEnabled("echo", domain.Member("g1", "alice")))

	s.SetFeatureDefault("echo", false)
	assert.False(t, s.IsFeatureEnabled("echo", domain.Member("g1", "alice")))

	// A scope override beats the global default.
	require.NoError(t, s.SetFeature("echo", domain.Group("g1"), true))
	assert.True(t, s.IsFeatureEnabled("echo", domain.Member("g1", "alice")))
	assert.False(t, s.IsFeatureEnabled("echo", domain.Member("g2", "alice")))

	// A more specific override beats a broader one.
	require.NoError(t, s.SetFeature("echo", domain.Member("g1", "alice"), false))
	assert.False(t, s.IsFeatureEnabled("echo", domain.Member("g1", "alice")))
	assert.True(t, s.IsFeatureEnabled("echo", domain.Member("g1", "bob")))

	require.NoError(t, s.ClearFeature("echo", domain.Member("g1", "alice")))
	assert.True(t, s.IsFeatureEnabled("echo", domain.Member("g1", "alice")))
}

func TestViewIsolation(t *testing.T) {
	// A captured view must not observe later mutations.
	s := newTestStore(t)
	require.NoError(t, s.Grant("alice", domain.Global(), "speak", Allow, time.Time{}))

	v := s.View()
	require.NoError(t, s.Revoke("alice", domain.Global(), "speak"))

	assert.True(t, v.IsAllowed("alice", domain.Global(), "speak"))
	assert.False(t, s.IsAllowed("alice", domain.Global(), "speak"))
}

func TestSignals(t *testing.T) {
	bus := &recordingBus{}
	s := newTestStore(t, WithSignalBus(bus))

	require.NoError(t, s.Grant("alice", domain.Global(), "speak", Allow, time.Time{}))
	require.NoError(t, s.Revoke("alice", domain.Global(), "speak"))

	assert.Equal(t, []domain.SignalType{domain.SignalGrantAdded, domain.SignalGrantRevoked}, bus.types)
}

// failingRepo returns err from every mutation once set.
type failingRepo struct {
	err error
}

func (r *failingRepo) LoadGrants() ([]Grant, error)                   { return nil, nil }
func (r *failingRepo) SaveGrant(Grant) error                          { return r.err }
func (r *failingRepo) DeleteGrant(string, domain.Scope, string) error { return r.err }
func (r *failingRepo) LoadFeatures() ([]FeatureFlag, error)           { return nil, nil }
func (r *failingRepo) SaveFeature(FeatureFlag) error                  { return r.err }
func (r *failingRepo) DeleteFeature(string, domain.Scope) error       { return r.err }

// recordingBus captures published signal types in order.
type recordingBus struct {
	types []domain.SignalType
}

func (b *recordingBus) Publish(sig domain.Signal) { b.types = append(b.types, sig.SignalType()) }
func (b *recordingBus) Subscribe(domain.SignalType, domain.SignalHandler) {}
func (b *recordingBus) SubscribeAll(domain.SignalHandler)                 {}
func (b *recordingBus) Close()                                            {}
