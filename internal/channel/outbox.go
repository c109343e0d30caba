package channel

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lm-plugin/worker/pkg/types"
)

const (
	// DefaultOutboxSize bounds the number of remembered commands.
	DefaultOutboxSize = 5
	// DefaultOutboxWindow is how long a command stays replayable.
	DefaultOutboxWindow = 2 * time.Second
	// MaxAttempts is the number of sends an entry gets before it is dropped.
	MaxAttempts = 3
)

// EntryState tags an outbox entry.
type EntryState int

const (
	// Pending entries have not been handed to a connection yet.
	Pending EntryState = iota
	// Handled entries were sent, or are being sent, on a connection.
	Handled
)

func (s EntryState) String() string {
	if s == Handled {
		return "handled"
	}
	return "pending"
}

// Entry is one submitted command.
type Entry struct {
	ID       ulid.ULID
	Command  types.Command
	State    EntryState
	Attempts int
	At       time.Time
}

// Outbox is the replay buffer of recently submitted commands. Entries older
// than the window, or beyond the count bound, age out whatever their state.
type Outbox struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	window  time.Duration
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// NewOutbox creates an outbox. Non-positive arguments select the defaults.
func NewOutbox(size int, window time.Duration) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	if window <= 0 {
		window = DefaultOutboxWindow
	}
	return &Outbox{
		size:    size,
		window:  window,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Push appends cmd as a pending entry.
func (o *Outbox) Push(cmd types.Command) Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	e := Entry{
		ID:      ulid.MustNew(ulid.Timestamp(now), o.entropy),
		Command: cmd,
		State:   Pending,
		At:      now,
	}
	o.entries = append(o.entries, e)
	o.prune(now)
	return e
}

// NextPending returns the oldest pending entry still inside the window.
func (o *Outbox) NextPending() (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.prune(o.now())
	for _, e := range o.entries {
		if e.State == Pending {
			return e, true
		}
	}
	return Entry{}, false
}

// MarkHandled tags the entry as handed to a connection.
func (o *Outbox) MarkHandled(id ulid.ULID) {
	o.update(id, func(e *Entry) { e.State = Handled })
}

// MarkPending puts the entry back without counting an attempt. Used when no
// connection could be opened for it.
func (o *Outbox) MarkPending(id ulid.ULID) {
	o.update(id, func(e *Entry) { e.State = Pending })
}

// Fault records a failed send. The entry becomes pending again with a fresh
// timestamp, keeping its place in the order, and is dropped once it has used
// up MaxAttempts. It reports whether the entry is still queued.
func (o *Outbox) Fault(id ulid.ULID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.entries {
		if o.entries[i].ID != id {
			continue
		}
		e := &o.entries[i]
		e.Attempts++
		if e.Attempts >= MaxAttempts {
			o.entries = append(o.entries[:i:i], o.entries[i+1:]...)
			return false
		}
		e.State = Pending
		e.At = o.now()
		return true
	}
	return false
}

// Entries returns a copy of the live entries.
func (o *Outbox) Entries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.prune(o.now())
	return append([]Entry(nil), o.entries...)
}

// Len returns the number of live entries.
func (o *Outbox) Len() int {
	return len(o.Entries())
}

func (o *Outbox) update(id ulid.ULID, fn func(*Entry)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.entries {
		if o.entries[i].ID == id {
			fn(&o.entries[i])
			return
		}
	}
}

// prune drops expired entries and trims the oldest past the count bound.
func (o *Outbox) prune(now time.Time) {
	kept := o.entries[:0]
	for _, e := range o.entries {
		if now.Sub(e.At) <= o.window {
			kept = append(kept, e)
		}
	}
	if over := len(kept) - o.size; over > 0 {
		kept = kept[over:]
	}
	o.entries = kept
}
