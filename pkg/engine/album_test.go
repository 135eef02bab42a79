package engine

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestAlbumBuffer_ShouldFlush covers the group-transition rules: an
// empty buffer never flushes, same group continues buffering, and any
// different group id (including zero) forces a flush.
func TestAlbumBuffer_ShouldFlush(t *testing.T) {
	t.Parallel()
	b := NewAlbumBuffer()
	if b.ShouldFlush(7) {
		t.Error("empty buffer must not flush")
	}
	b.Add(NewMessage(albumMsg(1, 10, 7)))
	if b.ShouldFlush(7) {
		t.Error("same group must keep buffering")
	}
	if !b.ShouldFlush(8) {
		t.Error("different group must flush")
	}
	if !b.ShouldFlush(0) {
		t.Error("standalone message must flush the buffered group")
	}
}

// TestAlbumBuffer_FlushOrderAndReset verifies Flush returns messages in
// arrival order and leaves the buffer ready for the next group.
func TestAlbumBuffer_FlushOrderAndReset(t *testing.T) {
	t.Parallel()
	b := NewAlbumBuffer()
	for _, id := range []int{10, 11, 12} {
		b.Add(NewMessage(albumMsg(1, id, 7)))
	}
	msgs := b.Flush()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []int{10, 11, 12} {
		if msgs[i].Raw.ID != want {
			t.Errorf("message[%d]: got id %d, want %d", i, msgs[i].Raw.ID, want)
		}
	}
	if !b.Empty() {
		t.Error("buffer not reset after flush")
	}
	if b.ShouldFlush(0) {
		t.Error("reset buffer must not request a flush")
	}
	if got := b.Flush(); got != nil {
		t.Errorf("flushing empty buffer should return nil, got %v", got)
	}
}

// TestFlushTimers_ArmReplaces verifies re-arming cancels the pending
// timer so the callback runs exactly once.
func TestFlushTimers_ArmReplaces(t *testing.T) {
	t.Parallel()
	timers := newFlushTimers()
	var fired atomic.Int32
	timers.Arm(1, 10*time.Millisecond, func() { fired.Add(1) })
	timers.Arm(1, 10*time.Millisecond, func() { fired.Add(1) })
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly one firing, got %d", got)
	}
}

// TestFlushTimers_RearmAfterFire re-arms right after a zero-delay timer
// has fired but before its callback had a chance to run. The superseded
// callback must neither run nor remove the replacement's pending entry.
func TestFlushTimers_RearmAfterFire(t *testing.T) {
	t.Parallel()
	timers := newFlushTimers()
	t.Cleanup(timers.StopAll)
	var stale atomic.Int32
	for i := 0; i < 100; i++ {
		var superseded atomic.Bool
		timers.Arm(7, 0, func() {
			if superseded.Load() {
				stale.Add(1)
			}
		})
		timers.Arm(7, time.Hour, func() { t.Error("replacement timer fired early") })
		superseded.Store(true)
	}
	time.Sleep(50 * time.Millisecond)
	if got := stale.Load(); got != 0 {
		t.Fatalf("superseded callbacks ran %d times, want 0", got)
	}
	timers.mu.Lock()
	_, pending := timers.timers[7]
	timers.mu.Unlock()
	if !pending {
		t.Fatal("replacement timer entry was removed by a stale callback")
	}
}

// TestFlushTimers_Cancel verifies a cancelled timer never fires.
func TestFlushTimers_Cancel(t *testing.T) {
	t.Parallel()
	timers := newFlushTimers()
	var fired atomic.Int32
	timers.Arm(1, 10*time.Millisecond, func() { fired.Add(1) })
	timers.Cancel(1)
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("cancelled timer fired %d times", got)
	}
}

// TestFlushTimers_PerChat verifies timers for different chats are
// independent.
func TestFlushTimers_PerChat(t *testing.T) {
	t.Parallel()
	timers := newFlushTimers()
	var a, b atomic.Int32
	timers.Arm(1, 10*time.Millisecond, func() { a.Add(1) })
	timers.Arm(2, 10*time.Millisecond, func() { b.Add(1) })
	timers.Cancel(1)
	time.Sleep(100 * time.Millisecond)
	if a.Load() != 0 || b.Load() != 1 {
		t.Fatalf("expected chat 1 cancelled and chat 2 fired, got %d/%d", a.Load(), b.Load())
	}
}
