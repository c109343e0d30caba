package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/lm-plugin/worker/internal/event"
	"github.com/lm-plugin/worker/internal/logging"
	"github.com/lm-plugin/worker/pkg/types"
)

// ErrNoPort is returned by Send when no foreground is attached.
var ErrNoPort = errors.New("no live port")

// Dispatcher receives the commands read from the live port.
type Dispatcher interface {
	Dispatch(cmd types.Command)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(cmd types.Command)

// Dispatch calls f(cmd).
func (f DispatchFunc) Dispatch(cmd types.Command) { f(cmd) }

// Endpoint is the core end of the delivery channel. It holds at most one
// live port.
type Endpoint struct {
	dispatcher Dispatcher

	mu     sync.Mutex
	port   Port
	closed bool
	unsub  func()
}

// NewEndpoint creates an endpoint feeding dispatcher. When bus is non-nil
// every notification published on it is forwarded to the live port.
func NewEndpoint(dispatcher Dispatcher, bus *event.Bus) *Endpoint {
	e := &Endpoint{dispatcher: dispatcher, unsub: func() {}}
	if bus != nil {
		e.unsub = bus.SubscribeAll(func(ev event.Event) {
			if n, ok := ev.Notification(); ok {
				_ = e.Send(n)
			}
		})
	}
	return e
}

// Attach makes port the live port, replacing and closing any previous one,
// and pumps its commands into the dispatcher. It returns when the port fails,
// is replaced, or ctx is done.
func (e *Endpoint) Attach(ctx context.Context, port Port) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		port.Close()
		return ErrClosed
	}
	prev := e.port
	e.port = port
	e.mu.Unlock()

	log := logging.Component("endpoint")
	if prev != nil {
		log.Debug().Msg("replacing live port")
		prev.Close()
	}
	log.Debug().Msg("port attached")

	stop := context.AfterFunc(ctx, func() { e.detach(port) })
	defer stop()

	for {
		cmd, err := port.Receive()
		if err != nil {
			live := e.detach(port)
			if !live || IsClosed(err) || ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		log.Debug().Str("command", string(cmd.Type)).Msg("received")
		e.dispatcher.Dispatch(cmd)
	}
}

// Connected reports whether a port is live.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port != nil
}

// Send delivers n to the live port. A failed send drops the port.
func (e *Endpoint) Send(n types.Notification) error {
	e.mu.Lock()
	port := e.port
	e.mu.Unlock()

	if port == nil {
		return ErrNoPort
	}
	if err := port.Send(n); err != nil {
		log := logging.Component("endpoint")
		log.Debug().Err(err).Msg("send failed, dropping port")
		e.detach(port)
		return err
	}
	return nil
}

// Close tells the live port the core is going away, closes it and stops
// forwarding bus notifications.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	port := e.port
	e.port = nil
	unsub := e.unsub
	e.mu.Unlock()

	unsub()
	if port == nil {
		return nil
	}
	err := port.Send(types.CompleteNotification())
	port.Close()
	return err
}

// detach forgets port if it is still the live one, and closes it. It
// reports whether port was live.
func (e *Endpoint) detach(port Port) bool {
	e.mu.Lock()
	live := e.port == port
	if live {
		e.port = nil
	}
	e.mu.Unlock()
	port.Close()
	return live
}
