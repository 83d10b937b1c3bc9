// Package status provides the built-in status plugin: liveness ping and a
// host status report.
package status

import (
	"fmt"
	"time"

	"github.com/umino-bot/umino/pkg/dispatch"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/plugin"
)

// Deps are the host internals the status plugin reports on.
type Deps struct {
	StartedAt time.Time
	Stats     func() dispatch.StatsSnapshot
	Plugins   func() []plugin.Info
}

// New builds the status plugin.
func New(deps Deps) *plugin.Plugin {
	return plugin.New("status", "1.0.0").
		Listen(plugin.ListenerSchema{
			Name:      "status.ping",
			Kinds:     []domain.EventKind{domain.KindMessage},
			Predicate: plugin.Command("/ping"),
			Priority:  10,
			Handler: func(ctx *plugin.Context, _ domain.Event) (plugin.Completion, error) {
				ctx.Reply("pong")
				return plugin.Consume, nil
			},
		}).
		Listen(plugin.ListenerSchema{
			Name:      "status.report",
			Kinds:     []domain.EventKind{domain.KindMessage},
			Predicate: plugin.Command("/status"),
			Priority:  10,
			Handler: func(ctx *plugin.Context, _ domain.Event) (plugin.Completion, error) {
				ctx.Reply(render(deps))
				return plugin.Consume, nil
			},
		})
}

func render(deps Deps) string {
	uptime := time.Since(deps.StartedAt).Round(time.Second)
	stats := deps.Stats()

	active := 0
	plugins := deps.Plugins()
	for _, p := range plugins {
		if p.State == plugin.StateActive {
			active++
		}
	}

	return fmt.Sprintf(
		"umino up %s\nplugins: %d active / %d loaded\nevents: %d dispatched, %d errored\nhandlers: %d ran, %d errored, %d denied",
		uptime,
		active, len(plugins),
		stats.Events, stats.EventsErrored,
		stats.HandlersRan, stats.HandlersErrored, stats.HandlersDenied,
	)
}
