// Package channel carries commands from a foreground surface to the core
// across reconnects, and notifications back.
//
// The foreground Channel keeps a small replay outbox. Each entry is sent at
// most once per connection; a send fault puts it back so the next reconnect
// retries it. The core Endpoint holds the single live port and forwards
// every notification published on the event bus.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lm-plugin/worker/internal/logging"
	"github.com/lm-plugin/worker/pkg/types"
)

const (
	// DialInitialInterval is the first reconnect delay.
	DialInitialInterval = 50 * time.Millisecond
	// DialMaxInterval caps the reconnect delay.
	DialMaxInterval = time.Second
	// DialMaxElapsedTime is the default bound on one reconnect cycle.
	DialMaxElapsedTime = 10 * time.Second
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("channel closed")

// Channel is the foreground end of the delivery channel.
type Channel struct {
	dialer      Dialer
	outbox      *Outbox
	dialTimeout time.Duration

	// conn is owned by the Run goroutine.
	conn Conn

	wake  chan struct{}
	lost  chan Conn
	notes chan types.Notification
	stop  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	running   atomic.Bool
	connected atomic.Bool
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithOutbox replaces the default outbox.
func WithOutbox(o *Outbox) ChannelOption {
	return func(c *Channel) { c.outbox = o }
}

// WithDialTimeout bounds one reconnect cycle.
func WithDialTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// New creates a channel that connects with dialer.
func New(dialer Dialer, opts ...ChannelOption) *Channel {
	c := &Channel{
		dialer:      dialer,
		outbox:      NewOutbox(DefaultOutboxSize, DefaultOutboxWindow),
		dialTimeout: DialMaxElapsedTime,
		wake:        make(chan struct{}, 1),
		lost:        make(chan Conn, 1),
		notes:       make(chan types.Notification, 64),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit queues cmd for delivery. It never blocks.
func (c *Channel) Submit(cmd types.Command) Entry {
	e := c.outbox.Push(cmd)
	c.signal()
	return e
}

// Notifications delivers what the core sends. The channel is never closed;
// select on Done as well.
func (c *Channel) Notifications() <-chan types.Notification {
	return c.notes
}

// Done is closed when Run has returned.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Connected reports whether a live connection exists.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Outbox returns the replay buffer.
func (c *Channel) Outbox() *Outbox {
	return c.outbox
}

// Run is the event loop. It is the only goroutine that dials, sends or
// replaces the connection. It returns when ctx is done or Close is called.
func (c *Channel) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("channel already running")
	}
	defer close(c.done)
	defer c.drop()

	log := logging.Component("channel")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return ErrClosed
		case conn := <-c.lost:
			if conn == c.conn {
				log.Debug().Msg("connection lost")
				c.drop()
			}
		case <-c.wake:
		}
		c.flush(ctx)
	}
}

// Close disconnects and stops Run, waiting for it to return.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	if c.running.Load() {
		<-c.done
	}
	return nil
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// flush sends every pending entry in order. Without a connection the first
// pending entry opens one.
func (c *Channel) flush(ctx context.Context) {
	log := logging.Component("channel")

	for {
		e, ok := c.outbox.NextPending()
		if !ok {
			return
		}
		c.outbox.MarkHandled(e.ID)

		if c.conn == nil {
			conn, err := c.dial(ctx)
			if err != nil {
				c.outbox.MarkPending(e.ID)
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("entry", e.ID.String()).Msg("reconnect failed")
				}
				return
			}
			c.attach(conn)
		}

		if err := c.conn.Send(e.Command); err != nil {
			kept := c.outbox.Fault(e.ID)
			log.Warn().Err(err).
				Str("entry", e.ID.String()).
				Str("command", string(e.Command.Type)).
				Bool("requeued", kept).
				Msg("send failed")
			c.drop()
			continue
		}
		log.Debug().Str("entry", e.ID.String()).Str("command", string(e.Command.Type)).Msg("sent")
	}
}

// dial opens a connection with bounded exponential backoff.
func (c *Channel) dial(ctx context.Context) (Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DialInitialInterval
	b.MaxInterval = DialMaxInterval
	b.MaxElapsedTime = c.dialTimeout
	b.Reset()

	stopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-stopCtx.Done():
		}
	}()

	var conn Conn
	err := backoff.Retry(func() error {
		var err error
		conn, err = c.dialer.Dial(stopCtx)
		return err
	}, backoff.WithContext(b, stopCtx))
	return conn, err
}

func (c *Channel) attach(conn Conn) {
	c.conn = conn
	c.connected.Store(true)
	go c.read(conn)
}

// drop closes the current connection and forgets it.
func (c *Channel) drop() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
}

// read forwards notifications from conn until it fails or the core says it
// is going away, then reports the loss to Run.
func (c *Channel) read(conn Conn) {
	for {
		n, err := conn.Receive()
		if err != nil {
			break
		}
		select {
		case c.notes <- n:
		case <-c.stop:
			return
		case <-c.done:
			return
		}
		if n.Type == types.NotificationComplete {
			break
		}
	}

	select {
	case c.lost <- conn:
	case <-c.stop:
	case <-c.done:
	}
}
