package engine

import (
	"os"

	"github.com/yschiu11/tgcf/pkg/chat"
)

// EventUID is the stable identity of one forwarded unit: the source chat
// and the source message id.
type EventUID struct {
	ChatID int64
	MsgID  int
}

// Message is the mutable view of one source message as it moves through
// the transform stages and out to the destinations. It is owned by the
// pipeline and sender for the lifetime of one forwarding operation and
// must be Released once sent or dropped.
type Message struct {
	// Raw is the immutable source message.
	Raw *chat.Message
	// Text is the outgoing text or caption, freely rewritten by stages.
	Text string
	// NewFile is a locally staged file replacing the source media, if a
	// stage downloaded or generated one.
	NewFile string
	// Cleanup marks NewFile as temporary, deleted by Release.
	Cleanup bool
	// Client overrides the session client for delivery of this message
	// (set by the sender stage). Nil means the session client.
	Client chat.Client
}

// NewMessage wraps a raw source message for the pipeline.
func NewMessage(raw *chat.Message) *Message {
	return &Message{Raw: raw, Text: raw.Text}
}

// UID returns the event identity of the source message.
func (m *Message) UID() EventUID {
	return EventUID{ChatID: m.Raw.ChatID, MsgID: m.Raw.ID}
}

// Release deletes staged temporary files. Safe to call more than once.
func (m *Message) Release() {
	if m.NewFile != "" && m.Cleanup {
		os.Remove(m.NewFile)
		m.NewFile = ""
	}
}
