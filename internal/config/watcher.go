package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 500 * time.Millisecond

// ReloadFunc applies a freshly loaded configuration
type ReloadFunc func(*Config) error

// Watcher reloads the configuration when the file changes or on SIGHUP
type Watcher struct {
	configPath string
	logger     zerolog.Logger
	watcher    *fsnotify.Watcher
	apply      ReloadFunc
	signals    chan os.Signal
}

// NewWatcher creates a new config file watcher. The parent directory is
// watched rather than the file so that editors which save by renaming a
// temp file over the original are picked up too.
func NewWatcher(configPath string, apply ReloadFunc, logger zerolog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(configPath)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", configPath, err)
	}

	return &Watcher{
		configPath: filepath.Clean(configPath),
		logger:     logger.With().Str("component", "config_watcher").Logger(),
		watcher:    fsWatcher,
		apply:      apply,
		signals:    make(chan os.Signal, 1),
	}, nil
}

// Run blocks until ctx is cancelled, reloading on file changes and SIGHUP
func (w *Watcher) Run(ctx context.Context) {
	signal.Notify(w.signals, syscall.SIGHUP)
	defer signal.Stop(w.signals)
	defer w.watcher.Close()

	w.logger.Info().Str("path", w.configPath).Msg("Config watcher started")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Config watcher stopped")
			return

		case sig := <-w.signals:
			w.logger.Info().Str("signal", sig.String()).Msg("Received signal, reloading configuration")
			w.Reload()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Config file changed")

			// Editors tend to emit several events per save
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.Reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.configPath {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// Reload loads the config file and hands it to the apply function. A config
// that fails to load or apply is discarded and the current one stays active.
func (w *Watcher) Reload() {
	newCfg, err := Load(w.configPath)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to load new configuration - keeping current config")
		return
	}

	if err := w.apply(newCfg); err != nil {
		w.logger.Error().Err(err).Msg("Failed to apply new configuration - keeping current config")
		return
	}

	w.logger.Info().Msg("Configuration reloaded successfully")
}
