// Package plugin defines the unit of deployable behavior: a named plugin
// carrying listener schemas bound to handlers, plus the registry that
// decides which handlers match an inbound event.
package plugin

import (
	"context"
	"strings"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/permission"
)

// ---------------------------------------------------------------------------
// Lifecycle and completion signalling
// ---------------------------------------------------------------------------

// State is a plugin's lifecycle state. Only the registry mutates it.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoaded   State = "loaded"
	StateActive   State = "active"
	StateDisabled State = "disabled"
	StateErrored  State = "errored"
)

// Completion is a handler's completion signal.
type Completion int

const (
	// Continue lets dispatch proceed to lower-priority tiers.
	Continue Completion = iota
	// Consume stops dispatch to lower-priority tiers for this event.
	Consume
)

// HandlerFunc processes one event under a bound context. Returning an error
// marks the result errored without affecting sibling handlers.
type HandlerFunc func(ctx *Context, ev domain.Event) (Completion, error)

// ---------------------------------------------------------------------------
// Listener schemas
// ---------------------------------------------------------------------------

// ListenerSchema declares a plugin's interest in a slice of the event
// stream. Priority orders execution (lower first); ties are broken by
// registration order.
type ListenerSchema struct {
	// Name identifies the listener in dispatch results. Defaults to
	// "<plugin>#<index>" when empty.
	Name string

	// Kinds filters by event kind. Empty means all kinds.
	Kinds []domain.EventKind

	// Scope optionally restricts the listener to events the scope covers.
	Scope *domain.Scope

	// Predicate optionally filters on content (e.g. a command prefix).
	Predicate Predicate

	// Priority orders execution. Must be non-negative.
	Priority int

	// Capability names a permission the sender must hold, resolved against
	// the permission store before execution. Empty requires nothing.
	Capability string

	// Decorators are additional run conditions checked after authorization.
	Decorators []Decorator

	Handler HandlerFunc
}

// Matches reports whether the schema's filters accept the event.
func (s *ListenerSchema) Matches(ev domain.Event) bool {
	if len(s.Kinds) > 0 {
		found := false
		for _, k := range s.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.Scope != nil && !s.Scope.Covers(ev.Scope) {
		return false
	}
	if s.Predicate != nil && !s.Predicate.Match(ev) {
		return false
	}
	return true
}

// filterKey identifies the schema's filter shape for duplicate detection:
// two schemas with the same kinds, scope and predicate are exact duplicates.
func (s *ListenerSchema) filterKey() string {
	kinds := make([]string, 0, len(s.Kinds))
	for _, k := range s.Kinds {
		kinds = append(kinds, string(k))
	}
	scope := ""
	if s.Scope != nil {
		scope = s.Scope.String()
	}
	pred := ""
	if s.Predicate != nil {
		pred = s.Predicate.Key()
	}
	return strings.Join(kinds, ",") + "|" + scope + "|" + pred
}

// ---------------------------------------------------------------------------
// Plugin
// ---------------------------------------------------------------------------

// Plugin is built by its author via New/Listen and handed to the registry.
// After Load the registry owns all metadata; handlers never mutate it.
type Plugin struct {
	Name    string
	Version string
	// Enabled is the initial global flag. The registry copies it at load;
	// later toggles go through Registry.SetEnabled.
	Enabled bool

	Listeners []ListenerSchema

	// Capabilities declares the default policy of every capability this
	// plugin's listeners reference. Registered into the store at load.
	Capabilities []permission.Capability
}

// New starts a plugin definition, enabled by default.
func New(name, version string) *Plugin {
	return &Plugin{Name: name, Version: version, Enabled: true}
}

// Listen appends a listener schema. Returns the plugin for chaining.
func (p *Plugin) Listen(schema ListenerSchema) *Plugin {
	p.Listeners = append(p.Listeners, schema)
	return p
}

// Requires declares a capability default policy. Returns the plugin for
// chaining.
func (p *Plugin) Requires(c permission.Capability) *Plugin {
	p.Capabilities = append(p.Capabilities, c)
	return p
}

// ---------------------------------------------------------------------------
// Handler context
// ---------------------------------------------------------------------------

// Sender delivers outbound messages. The message bus satisfies this.
type Sender interface {
	PublishOutbound(domain.Message)
}

// Context is the bound context a handler receives: the execution context
// with the handler's time budget, send/reply helpers, and permission
// queries against the same snapshot that authorized the handler.
type Context struct {
	ctx    context.Context
	event  domain.Event
	perms  *permission.View
	sender Sender
}

// NewContext binds a handler context. Called by the dispatcher and tests.
func NewContext(ctx context.Context, ev domain.Event, perms *permission.View, sender Sender) *Context {
	return &Context{ctx: ctx, event: ev, perms: perms, sender: sender}
}

// Context returns the execution context carrying the handler's budget.
func (c *Context) Context() context.Context { return c.ctx }

// Send queues an outbound message for delivery.
func (c *Context) Send(msg domain.Message) {
	if c.sender != nil {
		c.sender.PublishOutbound(msg)
	}
}

// Reply queues a text reply to the event's scope on its channel.
func (c *Context) Reply(text string) {
	msg := domain.TextMessage(c.event.Channel, c.event.Scope, text)
	msg.ReplyTo = c.event.ID
	c.Send(msg)
}

// HasPermission queries the event sender's capability at the event scope,
// against the snapshot captured for this dispatch pass.
func (c *Context) HasPermission(capability string) bool {
	if c.perms == nil {
		return false
	}
	return c.perms.IsAllowed(c.event.SenderID, c.event.Scope, capability)
}
