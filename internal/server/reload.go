// Package server holds the long-running pieces around the engine,
// currently the config hot-reloader. Transports (MCP, CLI) live in their
// own packages.
package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/engine"
)

// Reloader watches the config file and hot-reloads detection thresholds and
// score weights into the engine.
type Reloader struct {
	watcher *fsnotify.Watcher
	engine  *engine.Engine
	path    string
}

// NewReloader creates a file watcher for the config path. A missing file is
// not an error; the reloader simply has nothing to watch.
func NewReloader(eng *engine.Engine, path string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := watcher.Add(path); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", path, err)
			}
		}
	}
	return &Reloader{watcher: watcher, engine: eng, path: path}, nil
}

// Run watches for config changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait 500ms after the last write before reloading.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cfg, _, err := config.LoadWithHash(r.path)
					if err != nil {
						fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
						return
					}
					if err := r.engine.Reload(cfg); err != nil {
						fmt.Fprintf(os.Stderr, "hot-reload rejected: %v\n", err)
						return
					}
					fmt.Fprintf(os.Stderr, "hot-reload: config reloaded\n")
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "file watcher error: %v\n", err)
		}
	}
}
