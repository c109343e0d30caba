package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lm-plugin/worker/internal/content"
	"github.com/lm-plugin/worker/internal/event"
	"github.com/lm-plugin/worker/internal/logging"
	"github.com/lm-plugin/worker/internal/markdown"
	"github.com/lm-plugin/worker/internal/persist"
	"github.com/lm-plugin/worker/internal/state"
	"github.com/lm-plugin/worker/internal/stream"
	"github.com/lm-plugin/worker/pkg/types"
)

const (
	// DefaultStateWindow throttles state notifications to the foreground.
	DefaultStateWindow = 500 * time.Millisecond
	// DefaultPersistWindow throttles persistence saves.
	DefaultPersistWindow = 5 * time.Second
)

// ErrNotStarted is returned by Shutdown before Start.
var ErrNotStarted = errors.New("core not started")

// SettingsSource provides the current user settings.
type SettingsSource interface {
	Settings() types.Settings
}

// Completer opens a streamed completion.
type Completer interface {
	Open(ctx context.Context, settings types.Settings, messages []types.APIMessage) (*stream.Stream, error)
}

// Options wires a Core. Settings, Content, Completer and Bus are required.
// A nil Codec disables persistence.
type Options struct {
	Settings  SettingsSource
	Content   content.Provider
	Completer Completer
	Codec     *persist.Codec
	Bus       *event.Bus
	Renderer  *markdown.Renderer

	Coalesce      time.Duration
	StateWindow   time.Duration
	PersistWindow time.Duration
}

// Core is the session orchestrator. There is one per process.
type Core struct {
	settings  SettingsSource
	content   content.Provider
	completer Completer
	codec     *persist.Codec
	bus       *event.Bus
	renderer  *markdown.Renderer

	stateWindow   time.Duration
	persistWindow time.Duration

	coord *state.Coordinator
	log   zerolog.Logger

	// mu guards the generation, the in-flight request and the root context.
	// Stream readers submit through submitIf while holding it, so a
	// superseded reader can never write after the dispatcher settled it.
	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	root       context.Context
	stop       context.CancelFunc

	wg sync.WaitGroup
}

// New creates a core. Call Start before dispatching commands.
func New(opts Options) *Core {
	if opts.Renderer == nil {
		opts.Renderer = markdown.New()
	}
	if opts.StateWindow <= 0 {
		opts.StateWindow = DefaultStateWindow
	}
	if opts.PersistWindow <= 0 {
		opts.PersistWindow = DefaultPersistWindow
	}
	coalesce := opts.Coalesce
	if coalesce <= 0 {
		coalesce = state.DefaultCoalesce
	}

	return &Core{
		settings:      opts.Settings,
		content:       opts.Content,
		completer:     opts.Completer,
		codec:         opts.Codec,
		bus:           opts.Bus,
		renderer:      opts.Renderer,
		stateWindow:   opts.StateWindow,
		persistWindow: opts.PersistWindow,
		coord:         state.NewCoordinator(types.DefaultSessionState(), state.WithCoalesce(coalesce)),
		log:           logging.Component("session"),
	}
}

// Start restores any saved state and starts the publishing pipelines. They
// run until ctx is done or Shutdown is called.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.root != nil {
		c.mu.Unlock()
		return errors.New("core already started")
	}
	c.root, c.stop = context.WithCancel(ctx)
	root := c.root
	c.mu.Unlock()

	if c.codec != nil {
		if restored := c.codec.Restore(root); restored != nil {
			// A saved in-flight entry can never complete.
			c.coord.Submit(state.Replace(*restored))
			c.coord.Submit(settle())
			c.log.Info().Int("chat", len(restored.ChatMessages)).Msg("restored session state")
		}
	}

	c.spawn(func() { c.coord.Run(root) })

	states, unsubState := c.coord.Subscribe()
	c.spawn(func() {
		defer unsubState()
		state.Throttle(root, states, c.stateWindow, c.publishState)
	})

	if c.codec != nil {
		saves, unsubSave := c.coord.Subscribe()
		c.spawn(func() {
			defer unsubSave()
			state.Throttle(root, saves, c.persistWindow, func(s types.SessionState) { c.save(root, s) })
		})
	}

	rendered, unsubRender := c.coord.Subscribe()
	c.spawn(func() {
		defer unsubRender()
		c.renderLoop(root, rendered)
	})

	c.log.Debug().Msg("core started")
	return nil
}

// Snapshot returns the latest state, including updates not yet published.
func (c *Core) Snapshot() types.SessionState {
	return c.coord.Current()
}

// Generation returns the number of commands dispatched so far.
func (c *Core) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Shutdown cancels the in-flight request, stops the pipelines and writes a
// final save.
func (c *Core) Shutdown(ctx context.Context) error {
	c.supersede()

	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop == nil {
		return ErrNotStarted
	}
	final := c.coord.Current()
	stop()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.codec == nil {
		return nil
	}
	if _, err := c.codec.Save(ctx, final); err != nil {
		return err
	}
	c.log.Debug().Msg("final state saved")
	return nil
}

func (c *Core) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// supersede starts a new generation. The previous request, if any, is
// cancelled and its entry settled.
func (c *Core) supersede() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.coord.Submit(settle())
	}
	return c.generation
}

// begin opens the request context for gen. It fails if gen is stale.
func (c *Core) begin(gen uint64) (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return nil, false
	}
	parent := c.root
	if parent == nil {
		parent = context.Background()
	}
	if parent.Err() != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	return ctx, true
}

// release ends the request of gen if it is still the current one.
func (c *Core) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen == c.generation && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// submitIf submits u only while gen is current.
func (c *Core) submitIf(gen uint64, u state.Update) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return false
	}
	c.coord.Submit(u)
	return true
}

func (c *Core) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

func (c *Core) publishState(s types.SessionState) {
	c.bus.PublishSync(event.ForNotification(types.StateNotification(s)))
}

func (c *Core) notifyError(gen uint64, message string) {
	if !c.current(gen) {
		return
	}
	c.bus.PublishSync(event.ForNotification(types.ErrorNotification(message)))
}

func (c *Core) save(ctx context.Context, s types.SessionState) {
	res, err := c.codec.Save(ctx, s)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to save session state")
	}
	c.bus.PublishSync(event.Event{
		Type: event.StatePersisted,
		Data: event.PersistedData{Chunks: res.Chunks, Bytes: res.Length, Err: err},
	})
}

// renderLoop runs the markdown pass over every snapshot holding finished
// entries.
func (c *Core) renderLoop(ctx context.Context, states <-chan types.SessionState) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if !markdown.Pending(s.ChatMessages) {
				continue
			}
			rendered := c.renderer.RenderFinished(s.ChatMessages)
			c.coord.Apply(func(cur types.SessionState) state.Patch {
				out, changed := markdown.Apply(cur.ChatMessages, rendered)
				if !changed {
					return state.Patch{}
				}
				return state.Patch{}.WithChatMessages(out)
			})
		}
	}
}
