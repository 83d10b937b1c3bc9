package plugin

import (
	"strings"
	"sync"
	"time"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/permission"
)

// ---------------------------------------------------------------------------
// Predicates — content filters evaluated at match time
// ---------------------------------------------------------------------------

// Predicate filters events on content. Key identifies the predicate for
// duplicate-schema detection; two predicates with equal keys are the same
// filter.
type Predicate interface {
	Match(ev domain.Event) bool
	Key() string
}

// CommandPredicate matches message events whose content starts with a
// command word, e.g. "/status".
type CommandPredicate struct {
	Prefix string
}

// Command is shorthand for a CommandPredicate.
func Command(prefix string) CommandPredicate { return CommandPredicate{Prefix: prefix} }

func (p CommandPredicate) Match(ev domain.Event) bool {
	rest, ok := ev.IsCommand(p.Prefix)
	if !ok {
		return false
	}
	// "/statusx" must not trigger "/status".
	return rest == "" || rest[0] == ' '
}

func (p CommandPredicate) Key() string { return "command:" + p.Prefix }

// Args splits the event content into the arguments after the command word.
func (p CommandPredicate) Args(ev domain.Event) []string {
	rest, ok := ev.IsCommand(p.Prefix)
	if !ok {
		return nil
	}
	return strings.Fields(rest)
}

// ContainsPredicate matches message events containing a substring.
type ContainsPredicate struct {
	Substring string
}

func (p ContainsPredicate) Match(ev domain.Event) bool {
	return ev.Kind == domain.KindMessage && strings.Contains(ev.Content, p.Substring)
}

func (p ContainsPredicate) Key() string { return "contains:" + p.Substring }

// ---------------------------------------------------------------------------
// Decorators — run conditions evaluated after authorization
// ---------------------------------------------------------------------------

// Decorator is an additional condition on a matched, authorized handler.
// A false verdict skips the handler without affecting its siblings.
type Decorator interface {
	Allow(ev domain.Event, perms *permission.View) bool
	Name() string
}

// SenderIsAdmin requires the sender to hold a capability at the event scope.
type SenderIsAdmin struct {
	// Capability defaults to "admin" when empty.
	Capability string
}

func (d SenderIsAdmin) capability() string {
	if d.Capability == "" {
		return "admin"
	}
	return d.Capability
}

func (d SenderIsAdmin) Allow(ev domain.Event, perms *permission.View) bool {
	if perms == nil {
		return false
	}
	return perms.IsAllowed(ev.SenderID, ev.Scope, d.capability())
}

func (d SenderIsAdmin) Name() string { return "sender-is-admin:" + d.capability() }

// RateLimit allows at most Limit events per sender per Window. State is
// internal to the decorator; the window is fixed, not sliding.
type RateLimit struct {
	Limit  int
	Window time.Duration

	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimit creates a per-sender rate limit decorator.
func NewRateLimit(limit int, window time.Duration) *RateLimit {
	return &RateLimit{
		Limit:   limit,
		Window:  window,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

func (d *RateLimit) Allow(ev domain.Event, _ *permission.View) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	w, ok := d.windows[ev.SenderID]
	if !ok || now.Sub(w.start) >= d.Window {
		d.windows[ev.SenderID] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= d.Limit {
		return false
	}
	w.count++
	return true
}

func (d *RateLimit) Name() string { return "rate-limit" }
