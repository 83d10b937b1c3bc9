// Package app wires the host together: store, registry, dispatcher, bus,
// channels, built-in plugins and the introspection API. It is the
// composition root; nothing here contains domain logic.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/api"
	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/channels"
	"github.com/umino-bot/umino/pkg/config"
	"github.com/umino-bot/umino/pkg/dispatch"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/infrastructure/eventbus"
	"github.com/umino-bot/umino/pkg/infrastructure/persistence"
	"github.com/umino-bot/umino/pkg/logger"
	"github.com/umino-bot/umino/pkg/notify"
	"github.com/umino-bot/umino/pkg/permission"
	"github.com/umino-bot/umino/pkg/plugin"
	permplugin "github.com/umino-bot/umino/pkg/plugins/perm"
	"github.com/umino-bot/umino/pkg/plugins/status"
)

// ---------------------------------------------------------------------------
// Application container — dependency injection root
// ---------------------------------------------------------------------------

// Container holds every wired component of the host.
type Container struct {
	Config *config.Config

	Signals    domain.SignalBus
	MessageBus *bus.MessageBus
	Repository *persistence.SQLiteRepository
	Store      *permission.Store
	Registry   *plugin.Registry
	Dispatcher *dispatch.Dispatcher
	Channels   *channels.Manager
	Sweeper    *permission.Sweeper
	API        *api.Server

	startedAt time.Time
	log       *logrus.Entry
}

// NewContainer builds and wires the full host from configuration.
func NewContainer(cfg *config.Config) (*Container, error) {
	signals := eventbus.New()
	mb := bus.NewMessageBus()

	repo, err := persistence.NewSQLiteRepository(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.DataPath, err)
	}

	store, err := permission.NewStore(
		permission.WithRepository(repo),
		permission.WithSignalBus(signals),
	)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("load permission store: %w", err)
	}

	registry := plugin.NewRegistry(store, signals)

	dispatcher := dispatch.New(registry, store, mb,
		dispatch.WithSignalBus(signals),
		dispatch.WithConfig(dispatch.Config{
			Workers:        cfg.Dispatch.Workers,
			HandlerTimeout: cfg.Dispatch.HandlerTimeout,
		}),
	)

	c := &Container{
		Config:     cfg,
		Signals:    signals,
		MessageBus: mb,
		Repository: repo,
		Store:      store,
		Registry:   registry,
		Dispatcher: dispatcher,
		Channels:   channels.NewManager(mb, signals),
		Sweeper:    permission.NewSweeper(store, cfg.SweepSchedule),
		startedAt:  time.Now(),
		log:        logger.New("app"),
	}

	c.registerChannels()
	if err := c.loadPlugins(); err != nil {
		repo.Close()
		return nil, err
	}
	if err := c.seedAdmins(); err != nil {
		repo.Close()
		return nil, err
	}

	if cfg.API.Enabled {
		c.API = api.NewServer(cfg.API.Addr, cfg.API.Key,
			registry, store, dispatcher.Stats, c.Channels)
	}
	if lark := cfg.Notify.Lark; lark.AppID != "" && lark.ReceiveID != "" {
		notify.NewLarkNotifier(lark.AppID, lark.AppSecret, lark.ReceiveID).Attach(signals)
	}

	return c, nil
}

// registerChannels builds a transport for every configured credential set.
func (c *Container) registerChannels() {
	ch := c.Config.Channels
	if ch.Console {
		c.Channels.Register(channels.NewConsoleChannel(c.MessageBus))
	}
	if ch.Discord.Token != "" {
		c.Channels.Register(channels.NewDiscordChannel(ch.Discord.Token, c.MessageBus))
	}
	if ch.Telegram.Token != "" {
		c.Channels.Register(channels.NewTelegramChannel(ch.Telegram.Token, c.MessageBus))
	}
	if ch.Slack.BotToken != "" && ch.Slack.AppToken != "" {
		c.Channels.Register(channels.NewSlackChannel(ch.Slack.BotToken, ch.Slack.AppToken, c.MessageBus))
	}
	if ch.QQ.AppID != 0 && ch.QQ.Token != "" {
		c.Channels.Register(channels.NewQQChannel(ch.QQ.AppID, ch.QQ.Token, c.MessageBus))
	}
	if ch.OneBot.URL != "" {
		c.Channels.Register(channels.NewOneBotChannel(ch.OneBot.URL, ch.OneBot.AccessToken, c.MessageBus))
	}
}

// loadPlugins loads the built-in plugins. A load error here is a
// programming error, not bad user input, so it aborts startup.
func (c *Container) loadPlugins() error {
	builtins := []*plugin.Plugin{
		status.New(status.Deps{
			StartedAt: c.startedAt,
			Stats:     c.Dispatcher.Stats,
			Plugins:   c.Registry.Plugins,
		}),
		permplugin.New(permplugin.Deps{
			Store:    c.Store,
			Registry: c.Registry,
		}),
	}
	for _, p := range builtins {
		if err := c.Registry.Load(p); err != nil {
			return fmt.Errorf("load plugin %s: %w", p.Name, err)
		}
	}
	return nil
}

// seedAdmins grants the admin capability globally to every configured
// admin, so the first /perm command has someone allowed to issue it.
// Grants are idempotent upserts; re-seeding on restart is harmless.
func (c *Container) seedAdmins() error {
	for _, admin := range c.Config.Admins {
		if err := c.Store.Grant(admin, domain.Global(), permplugin.AdminCapability, permission.Allow, time.Time{}); err != nil {
			return fmt.Errorf("seed admin %s: %w", admin, err)
		}
	}
	return nil
}

// Run starts every component and blocks until the context is cancelled,
// then shuts down in reverse order.
func (c *Container) Run(ctx context.Context) error {
	c.Signals.Publish(domain.NewSignal(domain.SignalSystemStartup, nil))

	c.Dispatcher.Start()
	go c.Dispatcher.Run(ctx, c.MessageBus)
	go c.Channels.DeliverLoop(ctx)
	go c.Sweeper.Run(ctx)

	c.Channels.StartAll(ctx)
	if c.API != nil {
		if err := c.API.Start(ctx); err != nil {
			return err
		}
	}

	c.log.WithFields(logger.Fields{
		"channels": c.Channels.Names(),
		"plugins":  len(c.Registry.Plugins()),
	}).Info("umino running")

	<-ctx.Done()
	return c.shutdown()
}

func (c *Container) shutdown() error {
	c.log.Info("shutting down")
	c.Signals.Publish(domain.NewSignal(domain.SignalSystemShutdown, nil))

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.API != nil {
		if err := c.API.Stop(); err != nil {
			c.log.WithField("error", err.Error()).Warn("api shutdown failed")
		}
	}
	c.Channels.StopAll(stopCtx)
	c.Dispatcher.Stop()
	c.MessageBus.Close()
	c.Signals.Close()

	if err := c.Repository.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
