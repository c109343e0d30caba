package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lm-plugin/worker/pkg/types"
)

const writeWait = 5 * time.Second

// Conn is the foreground end of a live connection.
type Conn interface {
	Send(cmd types.Command) error
	Receive() (types.Notification, error)
	Close() error
}

// Dialer opens foreground connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Port is the core end of a live connection.
type Port interface {
	Send(n types.Notification) error
	Receive() (types.Command, error)
	Close() error
}

// peer is a JSON message connection over a websocket. Writes are serialised;
// reads must come from a single goroutine.
type peer[Out, In any] struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
}

func newPeer[Out, In any](conn *websocket.Conn) *peer[Out, In] {
	return &peer[Out, In]{conn: conn}
}

// Send writes v as one JSON text message.
func (p *peer[Out, In]) Send(v Out) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(v)
}

// Receive blocks until the next message arrives.
func (p *peer[Out, In]) Receive() (In, error) {
	var v In
	err := p.conn.ReadJSON(&v)
	return v, err
}

// Close sends a close frame and closes the connection. Safe to call more
// than once.
func (p *peer[Out, In]) Close() error {
	var err error
	p.once.Do(func() {
		p.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}

// WebSocketDialer dials the core's /port endpoint.
type WebSocketDialer struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

// Dial opens a connection.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newPeer[types.Command, types.Notification](conn), nil
}

// Upgrader accepts any origin; the server applies CORS policy before the
// upgrade.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServerPort upgrades an HTTP request to a core port.
func NewServerPort(w http.ResponseWriter, r *http.Request) (Port, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newPeer[types.Notification, types.Command](conn), nil
}

// IsClosed reports whether err is a normal websocket close.
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
