package storage

import (
	"fmt"

	"github.com/lm-plugin/worker/internal/persist"
	"github.com/lm-plugin/worker/pkg/types"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Open builds the store selected by cfg. An empty cfg.Path falls back to
// defaultPath. The returned close function is never nil.
func Open(cfg types.StorageConfig, defaultPath string) (persist.Store, func() error, error) {
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(path, cfg.MaxEntrySize), noop, nil
	case BackendBolt:
		s, err := OpenBoltStore(path, cfg.MaxEntrySize)
		if err != nil {
			return nil, noop, fmt.Errorf("open bolt store: %w", err)
		}
		return s, s.Close, nil
	case BackendMemory:
		return NewMemoryStore(cfg.MaxEntrySize), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
