// Package permission holds per-scope authorization grants and per-plugin
// feature flags. Resolution is by scope specificity: a grant closer to the
// event always beats a broader one, and an explicit deny beats an allow at
// the same distance.
package permission

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/umino-bot/umino/pkg/domain"
)

// ---------------------------------------------------------------------------
// Value types
// ---------------------------------------------------------------------------

// Effect is the polarity of a grant.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// SubjectAll is the wildcard subject: the grant applies to everyone the
// grant's scope covers.
const SubjectAll = "*"

// Capability is a named permission a listener may require. DefaultAllow is
// the documented default policy when no grant matches: privileged
// capabilities register with DefaultAllow=false.
type Capability struct {
	Name         string `json:"name"`
	DefaultAllow bool   `json:"default_allow"`
}

// Grant is a (scope, subject, capability) triple with polarity and an
// optional expiry. A zero ExpiresAt means the grant never expires.
type Grant struct {
	Subject    string       `json:"subject"`
	Scope      domain.Scope `json:"scope"`
	Capability string       `json:"capability"`
	Effect     Effect       `json:"effect"`
	ExpiresAt  time.Time    `json:"expires_at,omitempty"`
}

func (g Grant) expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// specificity ranks a grant for resolution. Scope distance dominates;
// a named subject outranks the wildcard at the same scope.
func (g Grant) specificity() int {
	s := g.Scope.Specificity() * 2
	if g.Subject != SubjectAll {
		s++
	}
	return s
}

// FeatureFlag is a per-scope enable/disable override for one plugin.
type FeatureFlag struct {
	Plugin  string       `json:"plugin"`
	Scope   domain.Scope `json:"scope"`
	Enabled bool         `json:"enabled"`
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ErrValidation marks a malformed scope, subject, or capability identifier.
// These fail fast at grant time and are never silently accepted.
var ErrValidation = errors.New("permission: validation failed")

func validateIdent(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%w: empty %s", ErrValidation, kind)
	}
	if strings.ContainsAny(value, " \t\n/") {
		return fmt.Errorf("%w: malformed %s %q", ErrValidation, kind, value)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Repository boundary
// ---------------------------------------------------------------------------

// Repository is the durable backing for grants and feature flags. The store
// writes through on every mutation and loads once at construction. The core
// defines only this contract, not the storage format.
type Repository interface {
	LoadGrants() ([]Grant, error)
	SaveGrant(Grant) error
	DeleteGrant(subject string, scope domain.Scope, capability string) error

	LoadFeatures() ([]FeatureFlag, error)
	SaveFeature(FeatureFlag) error
	DeleteFeature(plugin string, scope domain.Scope) error
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

type grantKey struct {
	subject    string
	scope      domain.Scope
	capability string
}

type featureKey struct {
	plugin string
	scope  domain.Scope
}

// View is an immutable snapshot of the grant table, capability registry and
// feature flags. The dispatcher captures one View per event so no event
// observes a mutation mid-dispatch.
type View struct {
	grants   map[grantKey]Grant
	caps     map[string]Capability
	features map[featureKey]bool
	defaults map[string]bool // plugin name -> global enabled default
	now      func() time.Time
}

// Store is the process-wide permission store. Reads are lock-free against a
// published snapshot; writes serialize on a mutex and republish.
type Store struct {
	mu      sync.Mutex
	view    atomic.Pointer[View]
	repo    Repository
	signals domain.SignalBus
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRepository attaches durable storage. Existing grants and flags are
// loaded into the initial snapshot.
func WithRepository(repo Repository) Option {
	return func(s *Store) { s.repo = repo }
}

// WithSignalBus publishes grant/revoke signals for observers.
func WithSignalBus(bus domain.SignalBus) Option {
	return func(s *Store) { s.signals = bus }
}

// WithClock overrides the time source. Used by expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a permission store and loads durable state if a
// repository is attached.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	v := &View{
		grants:   make(map[grantKey]Grant),
		caps:     make(map[string]Capability),
		features: make(map[featureKey]bool),
		defaults: make(map[string]bool),
		now:      s.now,
	}

	if s.repo != nil {
		grants, err := s.repo.LoadGrants()
		if err != nil {
			return nil, fmt.Errorf("load grants: %w", err)
		}
		for _, g := range grants {
			v.grants[grantKey{g.Subject, g.Scope, g.Capability}] = g
		}
		flags, err := s.repo.LoadFeatures()
		if err != nil {
			return nil, fmt.Errorf("load features: %w", err)
		}
		for _, f := range flags {
			v.features[featureKey{f.Plugin, f.Scope}] = f.Enabled
		}
	}

	s.view.Store(v)
	return s, nil
}

// View returns the current immutable snapshot.
func (s *Store) View() *View { return s.view.Load() }

// mutate clones the current view, applies fn, and publishes the result.
// The exclusive section covers only the snapshot-publish step, never
// in-flight handler execution.
func (s *Store) mutate(fn func(*View)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.view.Load()
	next := &View{
		grants:   make(map[grantKey]Grant, len(old.grants)),
		caps:     make(map[string]Capability, len(old.caps)),
		features: make(map[featureKey]bool, len(old.features)),
		defaults: make(map[string]bool, len(old.defaults)),
		now:      s.now,
	}
	for k, g := range old.grants {
		next.grants[k] = g
	}
	for k, c := range old.caps {
		next.caps[k] = c
	}
	for k, f := range old.features {
		next.features[k] = f
	}
	for k, d := range old.defaults {
		next.defaults[k] = d
	}

	fn(next)
	s.view.Store(next)
}

// DefineCapability registers a capability and its default policy.
// Redefinition overwrites the previous default.
func (s *Store) DefineCapability(c Capability) error {
	if err := validateIdent("capability", c.Name); err != nil {
		return err
	}
	s.mutate(func(v *View) { v.caps[c.Name] = c })
	return nil
}

// Grant records an allow or deny. Granting the same triple twice is
// idempotent; the newer effect and expiry win. The repository write happens
// before the snapshot publish, so a persistence failure never leaves a
// grant live in memory only.
func (s *Store) Grant(subject string, scope domain.Scope, capability string, effect Effect, expiresAt time.Time) error {
	if err := s.validateTriple(subject, scope, capability); err != nil {
		return err
	}
	g := Grant{Subject: subject, Scope: scope, Capability: capability, Effect: effect, ExpiresAt: expiresAt}
	if s.repo != nil {
		if err := s.repo.SaveGrant(g); err != nil {
			return fmt.Errorf("persist grant: %w", err)
		}
	}
	s.mutate(func(v *View) {
		v.grants[grantKey{subject, scope, capability}] = g
	})
	s.publish(domain.SignalGrantAdded, g)
	return nil
}

// Revoke removes a grant. Revoking a non-existent grant is a no-op.
func (s *Store) Revoke(subject string, scope domain.Scope, capability string) error {
	if err := s.validateTriple(subject, scope, capability); err != nil {
		return err
	}
	key := grantKey{subject, scope, capability}
	if _, ok := s.view.Load().grants[key]; !ok {
		return nil
	}
	if s.repo != nil {
		if err := s.repo.DeleteGrant(subject, scope, capability); err != nil {
			return fmt.Errorf("persist revoke: %w", err)
		}
	}
	s.mutate(func(v *View) { delete(v.grants, key) })
	s.publish(domain.SignalGrantRevoked, Grant{Subject: subject, Scope: scope, Capability: capability})
	return nil
}

// IsAllowed resolves a capability query against the current snapshot.
func (s *Store) IsAllowed(subject string, scope domain.Scope, capability string) bool {
	return s.View().IsAllowed(subject, scope, capability)
}

// SetFeatureDefault records a plugin's global enabled flag. The registry
// calls this at load and on global toggles.
func (s *Store) SetFeatureDefault(plugin string, enabled bool) {
	s.mutate(func(v *View) { v.defaults[plugin] = enabled })
}

// SetFeature records a per-scope enable/disable override for a plugin.
func (s *Store) SetFeature(plugin string, scope domain.Scope, enabled bool) error {
	if err := validateIdent("plugin", plugin); err != nil {
		return err
	}
	if err := scope.Validate(); err != nil {
		return err
	}
	if s.repo != nil {
		if err := s.repo.SaveFeature(FeatureFlag{Plugin: plugin, Scope: scope, Enabled: enabled}); err != nil {
			return fmt.Errorf("persist feature: %w", err)
		}
	}
	s.mutate(func(v *View) {
		v.features[featureKey{plugin, scope}] = enabled
	})
	return nil
}

// ClearFeature removes a per-scope override. Clearing a missing override is
// a no-op.
func (s *Store) ClearFeature(plugin string, scope domain.Scope) error {
	key := featureKey{plugin, scope}
	if _, ok := s.view.Load().features[key]; !ok {
		return nil
	}
	if s.repo != nil {
		if err := s.repo.DeleteFeature(plugin, scope); err != nil {
			return fmt.Errorf("persist feature clear: %w", err)
		}
	}
	s.mutate(func(v *View) { delete(v.features, key) })
	return nil
}

// IsFeatureEnabled resolves a plugin toggle for a scope.
func (s *Store) IsFeatureEnabled(plugin string, scope domain.Scope) bool {
	return s.View().IsFeatureEnabled(plugin, scope)
}

// PurgeExpired drops grants whose expiry has passed and returns how many
// were removed. Called by the sweeper.
func (s *Store) PurgeExpired() int {
	now := s.now()
	var removed []Grant
	s.mutate(func(v *View) {
		for k, g := range v.grants {
			if g.expired(now) {
				delete(v.grants, k)
				removed = append(removed, g)
			}
		}
	})
	for _, g := range removed {
		if s.repo != nil {
			_ = s.repo.DeleteGrant(g.Subject, g.Scope, g.Capability)
		}
		s.publish(domain.SignalGrantExpired, g)
	}
	return len(removed)
}

// Grants returns all current grants, for introspection.
func (s *Store) Grants() []Grant {
	v := s.View()
	out := make([]Grant, 0, len(v.grants))
	for _, g := range v.grants {
		out = append(out, g)
	}
	return out
}

func (s *Store) validateTriple(subject string, scope domain.Scope, capability string) error {
	if subject != SubjectAll {
		if err := validateIdent("subject", subject); err != nil {
			return err
		}
	}
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return validateIdent("capability", capability)
}

func (s *Store) publish(t domain.SignalType, data interface{}) {
	if s.signals != nil {
		s.signals.Publish(domain.NewSignal(t, data))
	}
}

// ---------------------------------------------------------------------------
// Snapshot queries
// ---------------------------------------------------------------------------

// IsAllowed resolves by scope specificity: among all unexpired grants that
// name this capability and cover (subject, scope), the closest ones decide,
// and a deny among them wins. With no matching grant the capability's
// registered default applies; unregistered capabilities default to deny.
func (v *View) IsAllowed(subject string, scope domain.Scope, capability string) bool {
	now := v.now()

	// A user-scoped grant follows its subject everywhere, so the query
	// scope inherits the subject identity when it names no user itself.
	query := scope
	if query.UserID == "" && subject != SubjectAll {
		query.UserID = subject
	}

	best := -1
	allowed := false
	for _, g := range v.grants {
		if g.Capability != capability || g.expired(now) {
			continue
		}
		if g.Subject != SubjectAll && g.Subject != subject {
			continue
		}
		if !g.Scope.Covers(query) {
			continue
		}
		spec := g.specificity()
		switch {
		case spec > best:
			best = spec
			allowed = g.Effect == Allow
		case spec == best && g.Effect == Deny:
			// Deny wins ties at equal specificity.
			allowed = false
		}
	}
	if best >= 0 {
		return allowed
	}

	if c, ok := v.caps[capability]; ok {
		return c.DefaultAllow
	}
	return false
}

// IsFeatureEnabled resolves a plugin toggle: the most specific per-scope
// override covering the query wins, else the plugin's global default, else
// enabled.
func (v *View) IsFeatureEnabled(plugin string, scope domain.Scope) bool {
	best := -1
	enabled := true
	for k, on := range v.features {
		if k.plugin != plugin || !k.scope.Covers(scope) {
			continue
		}
		if spec := k.scope.Specificity(); spec > best {
			best = spec
			enabled = on
		}
	}
	if best >= 0 {
		return enabled
	}
	if def, ok := v.defaults[plugin]; ok {
		return def
	}
	return true
}

// CapabilityDefault reports the registered default policy for a capability.
func (v *View) CapabilityDefault(capability string) (Capability, bool) {
	c, ok := v.caps[capability]
	return c, ok
}
