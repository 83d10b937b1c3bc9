// Command umino runs the chat-bot host: it connects the configured
// channels, dispatches inbound events through loaded plugins and serves the
// introspection API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/umino-bot/umino/pkg/app"
	"github.com/umino-bot/umino/pkg/config"
	"github.com/umino-bot/umino/pkg/logger"
)

func main() {
	configPath := flag.String("config", "umino.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "umino:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	container, err := app.NewContainer(cfg)
	if err != nil {
		return err
	}

	// Hot-reload only the settings that are safe to change live.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		logger.SetLevel(next.LogLevel)
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	return container.Run(ctx)
}
