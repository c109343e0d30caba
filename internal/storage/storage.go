// Package storage provides the key/value adapters persisted state is written
// through: a directory of JSON files, a bbolt database, and an in-memory map.
// Every adapter enforces the same per-entry size ceiling.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lm-plugin/worker/internal/persist"
)

// DefaultMaxEntrySize caps len(key)+len(value) for a single entry.
const DefaultMaxEntrySize = 8192

var (
	// ErrQuotaExceeded is returned when an entry is larger than the ceiling.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrInvalidKey is returned for empty keys or keys containing path
	// separators.
	ErrInvalidKey = errors.New("invalid storage key")
)

var (
	_ persist.Store = (*FileStore)(nil)
	_ persist.Store = (*BoltStore)(nil)
	_ persist.Store = (*MemoryStore)(nil)
)

// checkEntries validates every entry before anything is written, so a
// rejected Set leaves the store untouched.
func checkEntries(entries map[string]string, max int) error {
	if max <= 0 {
		max = DefaultMaxEntrySize
	}
	for k, v := range entries {
		if err := checkKey(k); err != nil {
			return err
		}
		if size := len(k) + len(v); size > max {
			return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, k, size, max)
		}
	}
	return nil
}

func checkKey(k string) error {
	if k == "" || strings.ContainsAny(k, `/\`) || k == "." || k == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k)
	}
	return nil
}

// FileStore keeps one JSON file per key under a directory. Writes hold an
// flock on the directory and replace each file with an atomic rename.
type FileStore struct {
	dir     string
	maxSize int

	mu   sync.Mutex
	lock *FileLock
}

// NewFileStore creates a file store rooted at dir. maxSize <= 0 selects
// DefaultMaxEntrySize.
func NewFileStore(dir string, maxSize int) *FileStore {
	return &FileStore{
		dir:     dir,
		maxSize: maxSize,
		lock:    NewFileLock(filepath.Join(dir, ".store.lock")),
	}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the keys that exist.
func (s *FileStore) Get(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := checkKey(k); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(s.pathFor(k))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}

		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Set writes every entry under the directory lock.
func (s *FileStore) Set(ctx context.Context, entries map[string]string) error {
	if err := checkEntries(entries, s.maxSize); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	for k, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", k, err)
		}

		path := s.pathFor(k)
		tmpPath := path + ".tmp"
		if err := os.WriteFile(tmpPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write temp file: %w", err)
		}
		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to rename file: %w", err)
		}
	}
	return nil
}

// Remove deletes the keys. Missing keys are ignored.
func (s *FileStore) Remove(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := checkKey(k); err != nil {
			return err
		}
	}
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return nil
	}

	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	for _, k := range keys {
		if err := os.Remove(s.pathFor(k)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return nil
}

// Keys lists the stored keys.
func (s *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(name, ".json") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

func (s *FileStore) acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if err := s.lock.Lock(ctx); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return func() {
		s.lock.Unlock()
		s.mu.Unlock()
	}, nil
}

// MemoryStore is an in-process store.
type MemoryStore struct {
	maxSize int

	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{maxSize: maxSize, entries: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, keys []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.entries[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, entries map[string]string) error {
	if err := checkEntries(entries, s.maxSize); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.entries[k] = v
	}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Keys lists the stored keys.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}
