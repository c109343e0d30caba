package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/lm-plugin/worker/pkg/types"
)

// reloadDelay collapses the burst of events editors emit for a single save.
const reloadDelay = 100 * time.Millisecond

// Source serves the current configuration and reloads it when one of the
// config files changes. The core only reads settings through a Source.
type Source struct {
	directory string
	static    bool

	mu        sync.RWMutex
	cfg       *types.Config
	listeners []func(types.Settings)
}

// NewSource loads the configuration for directory.
func NewSource(directory string) (*Source, error) {
	cfg, err := Load(directory)
	if err != nil {
		return nil, err
	}
	return &Source{directory: directory, cfg: cfg}, nil
}

// StaticSource wraps an already resolved configuration. Reload and Watch are
// no-ops on it.
func StaticSource(cfg *types.Config) *Source {
	return &Source{cfg: cfg, static: true}
}

// Config returns the full configuration. Callers must not modify it.
func (s *Source) Config() *types.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Settings returns a copy of the current settings.
func (s *Source) Settings() types.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Settings.Clone()
}

// OnChange registers fn to be called with the new settings after a reload.
func (s *Source) OnChange(fn func(types.Settings)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reload re-reads every config source. On error the previous configuration
// stays in place.
func (s *Source) Reload() error {
	if s.static {
		return nil
	}
	cfg, err := Load(s.directory)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	listeners := append([]func(types.Settings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg.Settings.Clone())
	}
	return nil
}

// Watch reloads the configuration whenever a config file is written or
// created, until ctx is done. Directories that do not exist are skipped.
func (s *Source) Watch(ctx context.Context) error {
	if s.static {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, path := range candidateFiles(s.directory) {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		files[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		// Watch the directory rather than the file so atomic saves are seen.
		if err := w.Add(dir); err == nil {
			dirs[dir] = true
		}
	}
	log.Debug().Int("dirs", len(dirs)).Msg("config watcher started")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if abs, err := filepath.Abs(ev.Name); err != nil || !files[abs] {
				continue
			}
			pending = time.After(reloadDelay)
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				log.Warn().Err(err).Msg("config reload failed, keeping previous settings")
				continue
			}
			log.Info().Msg("config reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}
