package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
	"github.com/umino-bot/umino/pkg/permission"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrPluginNotFound is returned for operations on unknown plugins.
	ErrPluginNotFound = errors.New("plugin: not found")
	// ErrDuplicatePlugin is returned when a plugin name is already loaded.
	ErrDuplicatePlugin = errors.New("plugin: duplicate plugin name")
	// ErrDuplicateSchema marks two listeners with identical filters in one
	// plugin. The plugin transitions to errored but stays introspectable.
	ErrDuplicateSchema = errors.New("plugin: duplicate listener schema")
	// ErrInvalidPriority marks a negative listener priority.
	ErrInvalidPriority = errors.New("plugin: listener priority must be non-negative")
)

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// record is the registry's private bookkeeping for one loaded plugin.
type record struct {
	plugin *Plugin
	state  State
	err    error
	order  int // plugin load order, ties listener ordering across plugins
}

// entry is one listener in the published match snapshot.
type entry struct {
	pluginName string
	schema     *ListenerSchema
	priority   int
	regOrder   int
}

// snapshot is the immutable active matching set. Dispatch reads exactly one
// snapshot per event, so no event observes a registry mutation mid-dispatch.
type snapshot struct {
	entries []entry // sorted by (priority asc, regOrder asc)
}

// Registry holds the set of loaded plugins and answers match queries.
// Mutations (Load/Unload/SetEnabled) serialize on a mutex and republish the
// snapshot; they never wait on in-flight handler execution.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record
	loads   int
	listens int // monotonically increasing listener registration counter

	snap    atomic.Pointer[snapshot]
	perms   *permission.Store
	signals domain.SignalBus
	log     *logrus.Entry
}

// NewRegistry creates an empty registry bound to a permission store.
func NewRegistry(perms *permission.Store, signals domain.SignalBus) *Registry {
	r := &Registry{
		records: make(map[string]*record),
		perms:   perms,
		signals: signals,
		log:     logger.New("registry"),
	}
	r.snap.Store(&snapshot{})
	return r
}

// Load validates a plugin and adds its listeners to the active matching
// set. On validation failure the plugin is stored in the errored state:
// excluded from dispatch, retained for introspection.
func (r *Registry) Load(p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Name == "" {
		return fmt.Errorf("%w: empty plugin name", ErrPluginNotFound)
	}
	if _, exists := r.records[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name)
	}

	rec := &record{plugin: p, order: r.loads}
	r.loads++
	r.records[p.Name] = rec

	if err := validateListeners(p); err != nil {
		rec.state = StateErrored
		rec.err = err
		r.log.WithFields(logger.Fields{"plugin": p.Name, "error": err.Error()}).
			Error("plugin failed validation")
		r.publish(domain.SignalPluginErrored, p.Name)
		return err
	}

	for _, c := range p.Capabilities {
		if err := r.perms.DefineCapability(c); err != nil {
			rec.state = StateErrored
			rec.err = err
			r.publish(domain.SignalPluginErrored, p.Name)
			return err
		}
	}

	rec.state = StateActive
	if !p.Enabled {
		rec.state = StateDisabled
	}
	r.perms.SetFeatureDefault(p.Name, p.Enabled)

	r.rebuildLocked()
	r.log.WithFields(logger.Fields{
		"plugin":    p.Name,
		"version":   p.Version,
		"listeners": len(p.Listeners),
	}).Info("plugin loaded")
	r.publish(domain.SignalPluginLoaded, p.Name)
	return nil
}

func validateListeners(p *Plugin) error {
	seen := make(map[string]int, len(p.Listeners))
	for i := range p.Listeners {
		s := &p.Listeners[i]
		if s.Priority < 0 {
			return fmt.Errorf("%w: listener %d has priority %d", ErrInvalidPriority, i, s.Priority)
		}
		if s.Handler == nil {
			return fmt.Errorf("plugin: listener %d has no handler", i)
		}
		key := s.filterKey()
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: listeners %d and %d", ErrDuplicateSchema, prev, i)
		}
		seen[key] = i
		if s.Name == "" {
			s.Name = fmt.Sprintf("%s#%d", p.Name, i)
		}
	}
	return nil
}

// Unload removes a plugin. In-flight handler invocations complete normally;
// no new matches are produced once the snapshot without the plugin is
// published.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[name]; !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	delete(r.records, name)
	r.rebuildLocked()
	r.log.WithField("plugin", name).Info("plugin unloaded")
	r.publish(domain.SignalPluginUnloaded, name)
	return nil
}

// SetEnabled toggles a plugin without unloading it. A nil scope toggles the
// global flag; otherwise a per-scope override is recorded in the permission
// store. Overrides take precedence at match time, so a group can re-enable
// a globally disabled plugin.
func (r *Registry) SetEnabled(name string, scope *domain.Scope, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	if rec.state == StateErrored {
		return fmt.Errorf("plugin: %s is errored: %w", name, rec.err)
	}

	if scope == nil {
		if enabled {
			rec.state = StateActive
		} else {
			rec.state = StateDisabled
		}
		r.perms.SetFeatureDefault(name, enabled)
		r.rebuildLocked()
	} else {
		if err := r.perms.SetFeature(name, *scope, enabled); err != nil {
			return err
		}
	}
	r.publish(domain.SignalPluginToggled, name)
	return nil
}

// rebuildLocked republishes the match snapshot from active records.
// Caller holds r.mu.
func (r *Registry) rebuildLocked() {
	// Listener registration order follows plugin load order, then the
	// listener's position within its plugin.
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.records[names[i]].order < r.records[names[j]].order
	})

	var entries []entry
	regOrder := 0
	for _, name := range names {
		rec := r.records[name]
		// Disabled plugins stay in the snapshot: the per-event feature view
		// decides at match time, so a scope override can outvote the global
		// flag. Only errored plugins are excluded outright.
		if rec.state != StateActive && rec.state != StateDisabled {
			continue
		}
		for i := range rec.plugin.Listeners {
			s := &rec.plugin.Listeners[i]
			entries = append(entries, entry{
				pluginName: name,
				schema:     s,
				priority:   s.Priority,
				regOrder:   regOrder,
			})
			regOrder++
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].regOrder < entries[j].regOrder
	})
	r.snap.Store(&snapshot{entries: entries})
}

func (r *Registry) publish(t domain.SignalType, data interface{}) {
	if r.signals != nil {
		r.signals.Publish(domain.NewSignal(t, data))
	}
}

// ---------------------------------------------------------------------------
// Matching
// ---------------------------------------------------------------------------

// Match is one (plugin, schema) pair selected for an event.
type Match struct {
	Plugin   string
	Schema   *ListenerSchema
	Priority int
}

// MatchSeq is a lazy, finite, non-restartable sequence of matches, sorted
// by (priority asc, registration order asc). It is consumed exactly once
// per event by the dispatcher.
type MatchSeq struct {
	entries []entry
	ev      domain.Event
	perms   *permission.View
	pos     int
}

// Next returns the next matching handler, or false when exhausted.
func (s *MatchSeq) Next() (Match, bool) {
	for s.pos < len(s.entries) {
		e := s.entries[s.pos]
		s.pos++
		if !e.schema.Matches(s.ev) {
			continue
		}
		if s.perms != nil && !s.perms.IsFeatureEnabled(e.pluginName, s.ev.Scope) {
			// Disabled at this scope: skipped at match time, distinct from
			// a permission denial.
			continue
		}
		return Match{Plugin: e.pluginName, Schema: e.schema, Priority: e.priority}, true
	}
	return Match{}, false
}

// MatchingHandlers returns the ordered matches for an event, evaluated
// lazily against one registry snapshot and one permission snapshot.
func (r *Registry) MatchingHandlers(ev domain.Event, perms *permission.View) *MatchSeq {
	snap := r.snap.Load()
	return &MatchSeq{entries: snap.entries, ev: ev, perms: perms}
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// Info describes a loaded plugin for operators.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	State     State  `json:"state"`
	Error     string `json:"error,omitempty"`
	Listeners int    `json:"listeners"`
}

// Plugins lists all loaded plugins, errored ones included, in load order.
func (r *Registry) Plugins() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.records))
	for _, rec := range r.records {
		info := Info{
			Name:      rec.plugin.Name,
			Version:   rec.plugin.Version,
			State:     rec.state,
			Listeners: len(rec.plugin.Listeners),
		}
		if rec.err != nil {
			info.Error = rec.err.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return r.records[infos[i].Name].order < r.records[infos[j].Name].order
	})
	return infos
}

// Get returns introspection info for one plugin.
func (r *Registry) Get(name string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return Info{}, false
	}
	info := Info{
		Name:      rec.plugin.Name,
		Version:   rec.plugin.Version,
		State:     rec.state,
		Listeners: len(rec.plugin.Listeners),
	}
	if rec.err != nil {
		info.Error = rec.err.Error()
	}
	return info, true
}
