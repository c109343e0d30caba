package server_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockLLMServer mimics an OpenAI-compatible streaming chat completions
// endpoint. Every reply is split into small frames.
type MockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []MockRequest
	replies  []string
	fail     int
}

// MockRequest records an incoming request for verification.
type MockRequest struct {
	Authorization string
	Model         string             `json:"model"`
	Stream        bool               `json:"stream"`
	Messages      []MockRequestEntry `json:"messages"`
}

// MockRequestEntry is one message of a recorded request.
type MockRequestEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewMockLLMServer starts a mock backend.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the completions endpoint.
func (m *MockLLMServer) URL() string {
	return m.server.URL + "/v1/chat/completions"
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Reply queues the text of the next reply.
func (m *MockLLMServer) Reply(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
}

// FailNext answers the next request with status.
func (m *MockLLMServer) FailNext(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = status
}

// Requests returns all recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// Reset forgets recorded requests and queued replies.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.replies = nil
	m.fail = 0
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var req MockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	req.Authorization = r.Header.Get("Authorization")

	m.mu.Lock()
	m.requests = append(m.requests, req)
	status := m.fail
	m.fail = 0
	reply := "Mock reply."
	if len(m.replies) > 0 {
		reply, m.replies = m.replies[0], m.replies[1:]
	}
	m.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	m.writeStreamingResponse(w, reply)
}

// writeStreamingResponse writes reply as SSE chunks, a few runes per frame.
func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, reply string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	runes := []rune(reply)
	for i := 0; i < len(runes); i += 4 {
		end := min(i+4, len(runes))
		chunk, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{
				"index": 0,
				"delta": map[string]string{"content": string(runes[i:end])},
			}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// pageServer serves a fixed HTML document for summariseTab.
func pageServer(html string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, strings.NewReader(html))
	}))
}
