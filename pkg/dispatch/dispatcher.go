// Package dispatch routes inbound events to matching plugin handlers under
// the tiered ordering and permission-gating policy of the host.
//
// Each event goes through: match (one registry snapshot), authorize (one
// permission snapshot), tiered execution on a bounded worker pool, consume
// short-circuit at tier boundaries, and best-effort result collection.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
	"github.com/umino-bot/umino/pkg/permission"
	"github.com/umino-bot/umino/pkg/plugin"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config tunes the dispatcher.
type Config struct {
	// Workers bounds concurrent handler execution across all events.
	Workers int
	// HandlerTimeout is each handler invocation's execution budget.
	// Exceeding it marks the result errored and detaches the task.
	HandlerTimeout time.Duration
}

// DefaultConfig returns the standard pool sizing and budget.
func DefaultConfig() Config {
	return Config{
		Workers:        8,
		HandlerTimeout: 30 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher coordinates one logical event stream into a bounded pool.
type Dispatcher struct {
	registry *plugin.Registry
	perms    *permission.Store
	sender   plugin.Sender
	signals  domain.SignalBus
	reports  *bus.MessageBus
	cfg      Config
	log      *logrus.Entry

	seq   atomic.Uint64
	stats Stats

	jobs     chan func()
	workerWG sync.WaitGroup
	eventWG  sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSignalBus publishes dispatch.completed signals.
func WithSignalBus(signals domain.SignalBus) Option {
	return func(d *Dispatcher) { d.signals = signals }
}

// WithConfig overrides the default pool sizing and budget.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) { d.cfg = cfg }
}

// New creates a dispatcher. The message bus is both the outbound sender for
// handler contexts and the observability sink for dispatch reports.
func New(registry *plugin.Registry, perms *permission.Store, mb *bus.MessageBus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		perms:    perms,
		sender:   mb,
		reports:  mb,
		cfg:      DefaultConfig(),
		log:      logger.New("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.Workers <= 0 {
		d.cfg.Workers = runtime.NumCPU()
	}
	if d.cfg.HandlerTimeout <= 0 {
		d.cfg.HandlerTimeout = DefaultConfig().HandlerTimeout
	}
	d.jobs = make(chan func(), d.cfg.Workers)
	return d
}

// Start spawns the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.workerWG.Add(1)
		go func() {
			defer d.workerWG.Done()
			for job := range d.jobs {
				job()
			}
		}()
	}
	d.log.WithField("workers", d.cfg.Workers).Info("dispatcher started")
}

// Stop waits for in-flight events and shuts the pool down.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.eventWG.Wait()
		close(d.jobs)
		d.workerWG.Wait()
		d.log.Info("dispatcher stopped")
	})
}

// Run consumes the inbound stream until the context is cancelled. Dispatch
// decisions per event are computed synchronously; handler bodies run on the
// pool, so one slow event does not block the stream.
func (d *Dispatcher) Run(ctx context.Context, mb *bus.MessageBus) {
	for {
		ev, ok := mb.ConsumeInbound(ctx)
		if !ok {
			return
		}
		d.eventWG.Add(1)
		go func(ev domain.Event) {
			defer d.eventWG.Done()
			d.Dispatch(ctx, ev)
		}(ev)
	}
}

// ---------------------------------------------------------------------------
// Per-event dispatch
// ---------------------------------------------------------------------------

// handlerOutcome is what a pool task reports back to the tier join.
type handlerOutcome struct {
	completion plugin.Completion
	err        error
	latency    time.Duration
}

// running tracks one submitted handler until its tier joins.
type running struct {
	match   plugin.Match
	resCh   chan handlerOutcome
	started chan time.Time // delivered when a worker picks the job up
	cancel  context.CancelFunc
}

// Dispatch runs one event through the full pipeline and returns its report.
// An event matching zero handlers is a normal outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) domain.DispatchReport {
	ev.Seq = d.seq.Add(1)
	started := time.Now()
	d.stats.Events.Add(1)

	// One permission snapshot and one registry snapshot per event: matching
	// and authorization are atomic against concurrent mutation.
	view := d.perms.View()
	seq := d.registry.MatchingHandlers(ev, view)

	report := domain.DispatchReport{
		EventID: ev.ID,
		Seq:     ev.Seq,
		Kind:    ev.Kind,
		Scope:   ev.Scope,
	}

	match, ok := seq.Next()
	for ok && !report.Consumed {
		// Collect the current tier: all remaining matches at this priority.
		tier := []plugin.Match{match}
		priority := match.Priority
		for {
			match, ok = seq.Next()
			if !ok || match.Priority != priority {
				break
			}
			tier = append(tier, match)
		}

		d.runTier(ctx, ev, view, tier, &report)
	}

	// A consume signal skips everything below the consuming tier.
	for ok {
		report.Results = append(report.Results, domain.DispatchResult{
			Plugin:   match.Plugin,
			Listener: match.Schema.Name,
			Priority: match.Priority,
			Outcome:  domain.OutcomeSkippedNoMatch,
		})
		match, ok = seq.Next()
	}

	report.Elapsed = time.Since(started)
	d.collect(report)
	return report
}

// runTier authorizes and executes one priority tier. Handlers within the
// tier run concurrently on the pool; the tier boundary joins them (or their
// budget) before consume signals are evaluated.
func (d *Dispatcher) runTier(ctx context.Context, ev domain.Event, view *permission.View, tier []plugin.Match, report *domain.DispatchReport) {
	var submitted []*running

	for _, m := range tier {
		// Authorize: a denial removes this handler from the run set without
		// blocking its siblings.
		if capName := m.Schema.Capability; capName != "" {
			if !view.IsAllowed(ev.SenderID, ev.Scope, capName) {
				d.stats.HandlersDenied.Add(1)
				report.Results = append(report.Results, domain.DispatchResult{
					Plugin:   m.Plugin,
					Listener: m.Schema.Name,
					Priority: m.Priority,
					Outcome:  domain.OutcomeSkippedDenied,
				})
				continue
			}
		}

		// Decorators are additional run conditions; a false verdict is a
		// skip, not a denial.
		if !decoratorsAllow(m.Schema, ev, view) {
			report.Results = append(report.Results, domain.DispatchResult{
				Plugin:   m.Plugin,
				Listener: m.Schema.Name,
				Priority: m.Priority,
				Outcome:  domain.OutcomeSkippedNoMatch,
			})
			continue
		}

		submitted = append(submitted, d.submit(ctx, ev, view, m))
	}

	// Tier join: wait for each handler's result or its budget, whichever
	// comes first. A handler past its budget is recorded errored and
	// detached; cancellation is signalled, not awaited.
	for _, run := range submitted {
		res := domain.DispatchResult{
			Plugin:   run.match.Plugin,
			Listener: run.match.Schema.Name,
			Priority: run.match.Priority,
		}

		// The budget clocks execution time only: it starts when a worker
		// picks the job up, so queue wait under backlog does not count.
		start := <-run.started

		var out handlerOutcome
		timedOut := false
		select {
		case out = <-run.resCh:
		case <-time.After(time.Until(start.Add(d.cfg.HandlerTimeout))):
			select {
			case out = <-run.resCh: // finished just under the wire
			default:
				timedOut = true
			}
		}
		run.cancel()

		switch {
		case timedOut, errors.Is(out.err, context.DeadlineExceeded):
			d.stats.HandlersErrored.Add(1)
			res.Outcome = domain.OutcomeErrored
			res.Error = "timeout: execution budget exceeded"
			res.Latency = d.cfg.HandlerTimeout
		case out.err != nil:
			d.stats.HandlersErrored.Add(1)
			res.Outcome = domain.OutcomeErrored
			res.Error = out.err.Error()
			res.Latency = out.latency
		default:
			d.stats.HandlersRan.Add(1)
			res.Outcome = domain.OutcomeRan
			res.Latency = out.latency
			if out.completion == plugin.Consume && !report.Consumed {
				report.Consumed = true
				report.ConsumedBy = run.match.Plugin
				d.stats.Consumed.Add(1)
			}
		}
		report.Results = append(report.Results, res)
	}
}

// submit queues one handler invocation on the pool. The budget context is
// created inside the job so its deadline tracks actual execution start.
func (d *Dispatcher) submit(ctx context.Context, ev domain.Event, view *permission.View, m plugin.Match) *running {
	hctx, cancel := context.WithCancel(ctx)
	run := &running{
		match:   m,
		resCh:   make(chan handlerOutcome, 1),
		started: make(chan time.Time, 1),
		cancel:  cancel,
	}
	handler := m.Schema.Handler
	budget := d.cfg.HandlerTimeout
	d.jobs <- func() {
		start := time.Now()
		run.started <- start
		bctx, bcancel := context.WithTimeout(hctx, budget)
		defer bcancel()
		completion, err := d.invoke(handler, plugin.NewContext(bctx, ev, view, d.sender), ev)
		run.resCh <- handlerOutcome{completion: completion, err: err, latency: time.Since(start)}
	}
	return run
}

// invoke runs a handler with panic containment. A fault is recorded as the
// handler's error and never reaches sibling handlers or the dispatcher's
// own control flow.
func (d *Dispatcher) invoke(h plugin.HandlerFunc, pctx *plugin.Context, ev domain.Event) (completion plugin.Completion, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			err = fmt.Errorf("handler panic: %v\n%s", r, stack[:n])
		}
	}()
	return h(pctx, ev)
}

func decoratorsAllow(s *plugin.ListenerSchema, ev domain.Event, view *permission.View) bool {
	for _, dec := range s.Decorators {
		if !dec.Allow(ev, view) {
			return false
		}
	}
	return true
}

// collect emits the report to the observability sinks. Best effort: it never
// blocks the critical path and never propagates a sink fault.
func (d *Dispatcher) collect(report domain.DispatchReport) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("panic", r).Warn("observability sink fault ignored")
		}
	}()

	if report.Errored() {
		d.stats.EventsErrored.Add(1)
	}
	if d.reports != nil {
		d.reports.PublishReport(report)
	}
	if d.signals != nil {
		d.signals.Publish(domain.NewSignal(domain.SignalDispatchCompleted, report))
	}
	d.log.WithFields(logger.Fields{
		"event":    report.EventID,
		"seq":      report.Seq,
		"handlers": len(report.Results),
		"consumed": report.Consumed,
		"elapsed":  report.Elapsed,
	}).Debug("dispatch completed")
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}
