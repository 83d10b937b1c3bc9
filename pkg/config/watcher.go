package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/logger"
)

// UpdateHandler receives the freshly loaded configuration after a change.
// Only hot-reloadable settings (log level, toggles) should be applied.
type UpdateHandler func(*Config)

// Watcher watches the configuration file and triggers reloads on writes.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	handler UpdateHandler
	log     *logrus.Entry
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, handler UpdateHandler) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:    path,
		watcher: fsWatcher,
		handler: handler,
		log:     logger.New("config.watcher"),
	}, nil
}

// Start begins watching. Editors replace files on save, so the parent
// directory is watched and events filtered by name.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.log.WithField("path", w.path).Info("watching configuration file")
	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WithField("error", err.Error()).Warn("config reload failed, keeping previous")
				continue
			}
			w.log.Info("configuration reloaded")
			w.handler(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithField("error", err.Error()).Warn("config watch error")
		}
	}
}
