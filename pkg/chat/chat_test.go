package chat

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// TestAsFloodWait verifies the wait is extracted through wrapping and
// unrelated errors are rejected.
func TestAsFloodWait(t *testing.T) {
	t.Parallel()
	base := &FloodWaitError{Duration: 3 * time.Second}
	wrapped := fmt.Errorf("send failed: %w", base)
	if d, ok := AsFloodWait(wrapped); !ok || d != 3*time.Second {
		t.Fatalf("got (%v, %v), want (3s, true)", d, ok)
	}
	if _, ok := AsFloodWait(errors.New("something else")); ok {
		t.Fatal("unrelated error reported as flood wait")
	}
	if _, ok := AsFloodWait(nil); ok {
		t.Fatal("nil error reported as flood wait")
	}
}

// TestRefString verifies the chat/message rendering used in logs.
func TestRefString(t *testing.T) {
	t.Parallel()
	ref := Ref{ChatID: -1001234, MsgID: 42}
	if got := ref.String(); got != "-1001234/42" {
		t.Fatalf("got %q", got)
	}
}
