// Package persist saves the session state to a key/value store whose entries
// have a small size ceiling.
//
// A save serializes the state to JSON, gzips it, base64-encodes the result
// and splits the text into chunks stored under <key>_chunk_<i>. A metadata
// entry under <key>_meta records the chunk count and the total encoded
// length. Chunks left over from a longer previous save are removed.
package persist

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lm-plugin/worker/internal/logging"
	"github.com/lm-plugin/worker/pkg/types"
)

const (
	// DefaultKey prefixes every entry the codec writes.
	DefaultKey = "lm-plugin-state"
	// MaxChunkSize is the largest chunk, in base64 characters.
	MaxChunkSize = 6500
)

// Store is the key/value adapter the codec writes through.
type Store interface {
	// Get returns the values for the keys that exist. Missing keys are
	// absent from the map.
	Get(ctx context.Context, keys []string) (map[string]string, error)
	// Set writes all entries.
	Set(ctx context.Context, entries map[string]string) error
	// Remove deletes the keys. Missing keys are ignored.
	Remove(ctx context.Context, keys []string) error
}

// Meta is the metadata entry describing the current save.
type Meta struct {
	Timestamp   int64 `json:"timestamp"`
	ChunkCount  int   `json:"chunkCount"`
	TotalLength int   `json:"totalLength"`
}

// Result describes a completed save.
type Result struct {
	Chunks  int
	Length  int
	Removed int
}

// Codec encodes session state into chunked entries.
type Codec struct {
	store     Store
	key       string
	chunkSize int
	now       func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithKey sets the key prefix.
func WithKey(key string) Option {
	return func(c *Codec) {
		if key != "" {
			c.key = key
		}
	}
}

// WithChunkSize overrides the chunk size.
func WithChunkSize(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// New creates a codec over store.
func New(store Store, opts ...Option) *Codec {
	c := &Codec{
		store:     store,
		key:       DefaultKey,
		chunkSize: MaxChunkSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MetaKey returns the key of the metadata entry.
func (c *Codec) MetaKey() string {
	return c.key + "_meta"
}

// ChunkKey returns the key of chunk i.
func (c *Codec) ChunkKey(i int) string {
	return fmt.Sprintf("%s_chunk_%d", c.key, i)
}

func (c *Codec) chunkKeys(from, to int) []string {
	keys := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		keys = append(keys, c.ChunkKey(i))
	}
	return keys
}

// Encode returns the base64 text a save would write for s.
func Encode(s types.SessionState) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode.
func Decode(text string) (types.SessionState, error) {
	var s types.SessionState

	compressed, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return s, fmt.Errorf("base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return s, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return s, fmt.Errorf("gzip: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("json: %w", err)
	}
	return s, nil
}

// split cuts text into chunks of at most size characters. Base64 is ASCII,
// so byte offsets are character offsets.
func split(text string, size int) []string {
	var chunks []string
	for len(text) > size {
		chunks = append(chunks, text[:size])
		text = text[size:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// Save writes s. The previous metadata is read first so chunks beyond the
// new count can be removed afterwards.
func (c *Codec) Save(ctx context.Context, s types.SessionState) (Result, error) {
	text, err := Encode(s)
	if err != nil {
		return Result{}, &Error{Op: "encode", Err: err}
	}
	chunks := split(text, c.chunkSize)

	oldCount := 0
	if prev, err := c.readMeta(ctx); err == nil && prev != nil {
		oldCount = prev.ChunkCount
	}

	meta, err := json.Marshal(Meta{
		Timestamp:   c.now().UnixMilli(),
		ChunkCount:  len(chunks),
		TotalLength: len(text),
	})
	if err != nil {
		return Result{}, &Error{Op: "encode", Err: err}
	}

	entries := make(map[string]string, len(chunks)+1)
	for i, chunk := range chunks {
		entries[c.ChunkKey(i)] = chunk
	}
	entries[c.MetaKey()] = string(meta)

	if err := c.store.Set(ctx, entries); err != nil {
		return Result{}, &Error{Op: "write", Err: err}
	}

	res := Result{Chunks: len(chunks), Length: len(text)}
	if oldCount > len(chunks) {
		stale := c.chunkKeys(len(chunks), oldCount)
		if err := c.store.Remove(ctx, stale); err != nil {
			return res, &Error{Op: "cleanup", Err: err}
		}
		res.Removed = len(stale)
	}
	return res, nil
}

func (c *Codec) readMeta(ctx context.Context) (*Meta, error) {
	got, err := c.store.Get(ctx, []string{c.MetaKey()})
	if err != nil {
		return nil, err
	}
	raw, ok := got[c.MetaKey()]
	if !ok {
		return nil, nil
	}
	var meta Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return &meta, nil
}

// Load reads the saved state. It returns (nil, nil) when nothing was saved.
func (c *Codec) Load(ctx context.Context) (*types.SessionState, error) {
	meta, err := c.readMeta(ctx)
	if err != nil {
		return nil, &Error{Op: "read", Err: err}
	}
	if meta == nil {
		return nil, nil
	}
	if meta.ChunkCount <= 0 {
		return nil, &Error{Op: "read", Err: fmt.Errorf("metadata: invalid chunk count %d", meta.ChunkCount)}
	}

	keys := c.chunkKeys(0, meta.ChunkCount)
	got, err := c.store.Get(ctx, keys)
	if err != nil {
		return nil, &Error{Op: "read", Err: err}
	}

	var sb strings.Builder
	for _, k := range keys {
		chunk, ok := got[k]
		if !ok {
			return nil, &Error{Op: "read", Err: fmt.Errorf("%w: %s", ErrMissingChunk, k)}
		}
		sb.WriteString(chunk)
	}
	if sb.Len() != meta.TotalLength {
		return nil, &Error{Op: "read", Err: fmt.Errorf("%w: have %d, want %d", ErrLengthMismatch, sb.Len(), meta.TotalLength)}
	}

	s, err := Decode(sb.String())
	if err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	return &s, nil
}

// Restore is Load for the startup path: any failure is logged and reported
// as "no prior state".
func (c *Codec) Restore(ctx context.Context) *types.SessionState {
	s, err := c.Load(ctx)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			logging.Warn().Err(perr.Err).Str("op", perr.Op).Msg("discarding persisted state")
		} else {
			logging.Warn().Err(err).Msg("discarding persisted state")
		}
		return nil
	}
	return s
}
