package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of filesystem events an editor or
// atomic file replacement produces into a single reload.
const reloadDebounce = 100 * time.Millisecond

// Store holds the active configuration snapshot. The snapshot is
// replaced atomically on reload; each request captures one snapshot at
// start and uses it throughout, so a mid-flight reload is never
// observed partially.
type Store struct {
	current atomic.Pointer[Config]
	cli     *CLI
	logger  *slog.Logger
}

// NewStore creates a Store seeded with the startup configuration.
func NewStore(cli *CLI, cfg *Config, logger *slog.Logger) *Store {
	s := &Store{
		cli:    cli,
		logger: logger.With("component", "config_store"),
	}
	s.current.Store(cfg)
	return s
}

// Snapshot returns the active configuration. The returned value is
// immutable; callers keep it for the duration of one request.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// Path returns the resolved config file path.
func (s *Store) Path() string {
	return s.current.Load().filePath
}

// Reload re-reads the config file. On any error the previous snapshot
// stays active and the error is returned; established connections are
// never affected by a reload.
func (s *Store) Reload() error {
	cfg, err := loadFile(s.Path(), s.cli)
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

// Watch blocks until ctx is done, reloading the configuration whenever
// the file changes. The parent directory is watched, not the file
// itself, because atomic replacement (write temp file, rename over)
// swaps the inode out from under a file-level watch. onResult is called
// after each reload attempt and may be nil.
func (s *Store) Watch(ctx context.Context, onResult func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	path := s.Path()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	s.logger.Info("watching configuration", "path", path)

	var timer *time.Timer
	var reloadC <-chan time.Time // nil until the first relevant event

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				reloadC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("config watcher error", "err", werr)

		case <-reloadC:
			rerr := s.Reload()
			if rerr != nil {
				s.logger.Error("config reload failed; keeping previous configuration",
					"path", path,
					"err", rerr,
				)
			} else {
				s.logger.Info("configuration reloaded", "path", path)
			}
			if onResult != nil {
				onResult(rerr)
			}
		}
	}
}
