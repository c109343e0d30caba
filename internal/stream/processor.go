// Package stream posts a chat-completions request to an OpenAI-compatible
// backend and turns the streamed SSE response into cumulative text.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/lm-plugin/worker/internal/logging"
	"github.com/lm-plugin/worker/pkg/types"
)

const (
	// Temperature is fixed for every request.
	Temperature = 0.3
	// readSize is the size of a single body read.
	readSize = 4096
	// errorBodyLimit bounds how much of a failed response is kept.
	errorBodyLimit = 64 * 1024
)

// CompletionRequest is the request body.
type CompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []types.APIMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
}

// NewCompletionRequest builds the request for messages. MaxTokens is -1
// (no limit) when the settings leave it unset.
func NewCompletionRequest(settings types.Settings, messages []types.APIMessage) CompletionRequest {
	maxTokens := -1
	if settings.MaxTokens != nil {
		maxTokens = *settings.MaxTokens
	}
	return CompletionRequest{
		Model:       settings.Model,
		Messages:    messages,
		Temperature: Temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	}
}

// Processor opens streaming completions over a Transport.
type Processor struct {
	transport Transport
}

// NewProcessor creates a processor. A nil transport uses NewHTTPTransport.
func NewProcessor(transport Transport) *Processor {
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}
	return &Processor{transport: transport}
}

// Open sends the request and returns the response stream. Failures are one
// of *TransportUnreachableError, *BackendError or ErrEmptyResponseBody, or
// ctx.Err() when the request was cancelled.
func (p *Processor) Open(ctx context.Context, settings types.Settings, messages []types.APIMessage) (*Stream, error) {
	body, err := json.Marshal(NewCompletionRequest(settings, messages))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	if settings.Token != "" {
		header.Set("Authorization", "Bearer "+settings.Token)
	}

	resp, err := p.transport.Post(ctx, settings.BaseURL, header, body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportUnreachableError{URL: settings.BaseURL, Err: err}
	}

	if resp.Status < 200 || resp.Status > 299 {
		var text string
		if resp.Body != nil {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
			resp.Body.Close()
			text = string(data)
		}
		return nil, &BackendError{Status: resp.Status, StatusText: resp.StatusText, Body: text}
	}
	if resp.Body == nil {
		return nil, ErrEmptyResponseBody
	}

	return &Stream{body: resp.Body}, nil
}

// Stream is an open response body.
type Stream struct {
	body      io.ReadCloser
	decoder   Decoder
	text      strings.Builder
	closeOnce sync.Once
}

// NewStream wraps an already open SSE body.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{body: body}
}

// Each reads the body to the end, calling fn with the cumulative text after
// every chunk. Cancelling ctx closes the body and makes Each return
// ctx.Err(); fn is not called once ctx is done.
func (s *Stream) Each(ctx context.Context, fn func(cumulative string)) error {
	stop := context.AfterFunc(ctx, s.Cancel)
	defer stop()
	defer s.Cancel()

	log := logging.Component("stream")
	buf := make([]byte, readSize)

	emit := func(text string, bad []*MalformedFrameError) bool {
		for _, frame := range bad {
			log.Warn().Err(frame).Msg("skipping malformed frame")
		}
		s.text.WriteString(text)
		if ctx.Err() != nil {
			return false
		}
		fn(s.text.String())
		return true
	}

	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			if !emit(s.decoder.Feed(buf[:n])) {
				return ctx.Err()
			}
		}
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, io.EOF) {
			if text, bad := s.decoder.Flush(); text != "" || len(bad) > 0 {
				if !emit(text, bad) {
					return ctx.Err()
				}
			}
			return nil
		}
		return fmt.Errorf("read stream: %w", err)
	}
}

// Text returns the text decoded so far. Call it only after Each returns.
func (s *Stream) Text() string {
	return s.text.String()
}

// Cancel closes the body. It is safe to call more than once.
func (s *Stream) Cancel() {
	s.closeOnce.Do(func() {
		_ = s.body.Close()
	})
}
