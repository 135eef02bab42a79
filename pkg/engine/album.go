package engine

import (
	"sync"
	"time"
)

// AlbumBuffer groups consecutive messages sharing one album group id so
// they can be released as a single unit. It is a two-state machine:
// empty, or buffering exactly one group. The buffer itself is not
// thread-safe; the owning Session serializes access.
type AlbumBuffer struct {
	messages []*Message
	groupID  int64
}

// NewAlbumBuffer returns an empty buffer.
func NewAlbumBuffer() *AlbumBuffer {
	return &AlbumBuffer{}
}

// Add appends a message and adopts its group id. Callers must check
// ShouldFlush first; the buffer never holds two groups at once.
func (b *AlbumBuffer) Add(m *Message) {
	b.messages = append(b.messages, m)
	b.groupID = m.Raw.GroupedID
}

// ShouldFlush reports whether the buffered group must be released before
// a message with nextGroupID can be handled. True iff the buffer is
// non-empty and nextGroupID differs, including nextGroupID == 0.
func (b *AlbumBuffer) ShouldFlush(nextGroupID int64) bool {
	if len(b.messages) == 0 || b.groupID == 0 {
		return false
	}
	return nextGroupID != b.groupID
}

// Flush returns the buffered messages in arrival order and resets the
// buffer. Flushing an empty buffer returns nil.
func (b *AlbumBuffer) Flush() []*Message {
	msgs := b.messages
	b.messages = nil
	b.groupID = 0
	return msgs
}

// Empty reports whether nothing is buffered.
func (b *AlbumBuffer) Empty() bool {
	return len(b.messages) == 0
}

// Len returns the number of buffered messages.
func (b *AlbumBuffer) Len() int {
	return len(b.messages)
}

// flushTimers holds at most one pending debounce timer per source chat.
// Arm cancels any existing timer before creating the replacement as one
// atomic step, so re-entrant events for the same chat can never leave
// two timers pending. Each arm carries a generation number: a callback
// from a superseded timer (possibly already fired but not yet run when
// it was replaced) sees a newer generation and does nothing.
type flushTimers struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
	gens   map[int64]uint64
}

func newFlushTimers() *flushTimers {
	return &flushTimers{
		timers: make(map[int64]*time.Timer),
		gens:   make(map[int64]uint64),
	}
}

// Arm schedules fn after d for chatID, replacing any pending timer.
func (t *flushTimers) Arm(chatID int64, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[chatID]; ok {
		old.Stop()
	}
	t.gens[chatID]++
	gen := t.gens[chatID]
	t.timers[chatID] = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gens[chatID] != gen {
			t.mu.Unlock()
			return
		}
		delete(t.timers, chatID)
		t.mu.Unlock()
		fn()
	})
}

// Cancel stops the pending timer for chatID, if any.
func (t *flushTimers) Cancel(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[chatID]; ok {
		old.Stop()
		delete(t.timers, chatID)
	}
	t.gens[chatID]++
}

// StopAll cancels every pending timer. Used at shutdown.
func (t *flushTimers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
		t.gens[id]++
	}
}
