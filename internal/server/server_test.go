package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lm-plugin/worker/internal/channel"
	"github.com/lm-plugin/worker/internal/event"
	"github.com/lm-plugin/worker/pkg/types"
)

// fakeCore records dispatched commands and answers getState on the bus.
type fakeCore struct {
	bus *event.Bus

	mu       sync.Mutex
	commands []types.Command
	state    types.SessionState
}

func (c *fakeCore) Dispatch(cmd types.Command) {
	c.mu.Lock()
	c.commands = append(c.commands, cmd)
	s := c.state
	c.mu.Unlock()
	if cmd.Type == types.CommandGetState {
		c.bus.PublishSync(event.ForNotification(types.StateNotification(s)))
	}
}

func (c *fakeCore) Snapshot() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeCore) dispatched() []types.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Command(nil), c.commands...)
}

type fixture struct {
	core     *fakeCore
	bus      *event.Bus
	endpoint *channel.Endpoint
	http     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := event.NewBus()
	state := types.DefaultSessionState()
	state.APIMessages = []types.APIMessage{{Role: types.RoleUser, Content: "hi"}}
	core := &fakeCore{bus: bus, state: state}
	endpoint := channel.NewEndpoint(core, bus)

	srv := New(DefaultConfig(), core, endpoint, bus)
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		endpoint.Close()
		hs.Close()
		bus.Close()
	})
	return &fixture{core: core, bus: bus, endpoint: endpoint, http: hs}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.Connected)
}

func TestGetState(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var s types.SessionState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, types.LifecycleReady, s.Lifecycle)
	require.Len(t, s.APIMessages, 1)
	assert.Equal(t, "hi", s.APIMessages[0].Content)
}

func TestPostCommand(t *testing.T) {
	f := newFixture(t)

	body, err := json.Marshal(types.SummariseContent("some text", ""))
	require.NoError(t, err)
	resp, err := http.Post(f.http.URL+"/command", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted AcceptedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.True(t, accepted.Accepted)
	assert.Equal(t, types.CommandSummariseContent, accepted.Type)

	cmds := f.core.dispatched()
	require.Len(t, cmds, 1)
	var req types.SummariseContentRequest
	require.NoError(t, cmds[0].Decode(&req))
	assert.Equal(t, "some text", req.Content)
}

func TestPostCommand_Invalid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"type":`},
		{"missing type", `{"payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.http.URL+"/command", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, ErrCodeInvalidRequest, e.Error.Code)
		})
	}
	assert.Empty(t, f.core.dispatched())
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/command", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "moz-extension://abc")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestPort(t *testing.T) {
	f := newFixture(t)

	c := channel.New(&channel.WebSocketDialer{URL: "ws" + strings.TrimPrefix(f.http.URL, "http") + "/port"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		c.Close()
		<-done
	})
	t.Cleanup(cancel)

	c.Submit(types.GetState())
	select {
	case n := <-c.Notifications():
		require.Equal(t, types.NotificationState, n.Type)
		s, err := n.State()
		require.NoError(t, err)
		assert.Len(t, s.APIMessages, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no state notification over the port")
	}
	assert.True(t, f.endpoint.Connected())

	require.NoError(t, f.endpoint.Close())
	select {
	case n := <-c.Notifications():
		assert.Equal(t, types.NotificationComplete, n.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no complete notification")
	}
}

// readFrames parses "data:" lines from an SSE body into frames.
func readFrames(t *testing.T, resp *http.Response, out chan<- Frame) {
	t.Helper()
	defer close(out)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err == nil {
			out <- f
		}
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/event")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	frames := make(chan Frame, 8)
	go readFrames(t, resp, frames)

	next := func() Frame {
		select {
		case fr, ok := <-frames:
			require.True(t, ok, "stream ended early")
			return fr
		case <-time.After(2 * time.Second):
			t.Fatal("no SSE frame")
			return Frame{}
		}
	}

	assert.Equal(t, EventConnected, next().Type)

	f.bus.PublishSync(event.ForNotification(types.ErrorNotification("boom")))
	fr := next()
	assert.Equal(t, event.ErrorRaised, fr.Type)
	props, ok := fr.Properties.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "error", props["type"])
	assert.Equal(t, "boom", props["payload"])

	f.bus.PublishSync(event.ForNotification(types.CompleteNotification()))
	assert.Equal(t, event.Completed, next().Type)

	select {
	case _, ok := <-frames:
		assert.False(t, ok, "stream should end after complete")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after complete")
	}
}

// noFlushWriter is a ResponseWriter without http.Flusher.
type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)           {}

func TestNewSSEWriter_NoFlusher(t *testing.T) {
	_, err := newSSEWriter(&noFlushWriter{})
	assert.Error(t, err)
}

func TestSSEWriter_WriteEvent(t *testing.T) {
	w := httptest.NewRecorder()
	sse, err := newSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, sse.writeEvent("message", Frame{Type: "x", Properties: map[string]string{"a": "b"}}))
	assert.Equal(t, "event: message\ndata: {\"type\":\"x\",\"properties\":{\"a\":\"b\"}}\n\n", w.Body.String())
	assert.True(t, w.Flushed)
}
