package state

import (
	"context"
	"sync"
	"time"

	"github.com/lm-plugin/worker/internal/logging"
	"github.com/lm-plugin/worker/pkg/types"
)

// DefaultCoalesce is the window within which submitted updates are folded
// together and published once.
const DefaultCoalesce = time.Millisecond

// Coordinator owns the session accumulator. Submit is safe from any
// goroutine; Run is the single goroutine that publishes snapshots.
//
// Method updates are folded while the coordinator's lock is held and must
// not call back into the coordinator.
type Coordinator struct {
	coalesce time.Duration

	mu      sync.Mutex
	acc     types.SessionState
	queue   []Update
	dirty   bool
	folded  uint64
	subs    map[int]chan types.SessionState
	nextSub int
	closed  bool

	wake chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCoalesce sets the coalescing window. Zero publishes after every wake.
func WithCoalesce(d time.Duration) Option {
	return func(c *Coordinator) { c.coalesce = d }
}

// NewCoordinator creates a coordinator holding initial.
func NewCoordinator(initial types.SessionState, opts ...Option) *Coordinator {
	c := &Coordinator{
		coalesce: DefaultCoalesce,
		acc:      initial.Clone(),
		subs:     make(map[int]chan types.SessionState),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit enqueues u. It never blocks and preserves submission order.
func (c *Coordinator) Submit(u Update) {
	c.mu.Lock()
	c.queue = append(c.queue, u)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Set submits a full-object update.
func (c *Coordinator) Set(p Patch) {
	c.Submit(Object(p))
}

// Apply submits a functional update.
func (c *Coordinator) Apply(fn func(types.SessionState) Patch) {
	c.Submit(Method(fn))
}

// Current folds anything still queued and returns a snapshot of the result.
func (c *Coordinator) Current() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
	return c.acc.Clone()
}

// Folded returns the number of updates folded so far.
func (c *Coordinator) Folded() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.folded
}

func (c *Coordinator) drainLocked() {
	if len(c.queue) == 0 {
		return
	}
	c.acc = Fold(c.acc, c.queue...)
	c.folded += uint64(len(c.queue))
	c.queue = nil
	c.dirty = true
}

// Subscribe returns a latest-value channel primed with the current state.
// A slow reader only ever sees the newest snapshot. The channel is closed
// when Run returns or unsubscribe is called.
func (c *Coordinator) Subscribe() (<-chan types.SessionState, func()) {
	ch := make(chan types.SessionState, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.drainLocked()
	ch <- c.acc.Clone()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Run publishes folded snapshots until ctx is done, then closes every
// subscriber channel.
func (c *Coordinator) Run(ctx context.Context) {
	log := logging.Component("state")
	defer c.shutdown()

	var timer *time.Timer
	if c.coalesce > 0 {
		timer = time.NewTimer(c.coalesce)
		timer.Stop()
		defer timer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		if timer != nil {
			timer.Reset(c.coalesce)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}

		c.mu.Lock()
		c.drainLocked()
		if !c.dirty {
			c.mu.Unlock()
			continue
		}
		c.dirty = false
		snapshot := c.acc
		for _, ch := range c.subs {
			offer(ch, snapshot.Clone())
		}
		c.mu.Unlock()

		log.Debug().
			Str("lifecycle", string(snapshot.Lifecycle)).
			Int("chat", len(snapshot.ChatMessages)).
			Msg("state published")
	}
}

func (c *Coordinator) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// offer replaces whatever is buffered in ch with s. Callers hold c.mu, so
// there is never a second sender.
func offer(ch chan types.SessionState, s types.SessionState) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}
