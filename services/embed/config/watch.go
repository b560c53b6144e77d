package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchThresholds watches an optional YAML override file for changes to the
// auto-shutdown timing fields and invokes onChange with the reloaded config
// whenever the file is written. It never touches the other fields (port,
// worker count, ...) since those are only meaningful at process start; only
// no_clients_timeout_ms and idle_timeout_ms are realistic to tune on a live
// server, matching spec §4.8's framing of them as the two operator-facing
// knobs.
//
// Returns nil, nil if path is empty (watching is optional). The caller
// should call Close on the returned watcher during shutdown.
func WatchThresholds(path string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	if path == "" {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("config: reload failed, keeping previous thresholds",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				slog.Info("config: reloaded auto-shutdown thresholds",
					slog.Duration("no_clients_timeout", cfg.NoClientsTimeout),
					slog.Duration("idle_timeout", cfg.IdleTimeout))
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return w, nil
}
