// Package chat defines the messaging-transport contract the sync engine
// depends on, plus the Telegram (MTProto) implementation of it. The
// engine only ever sees this interface, which keeps every controller
// testable against an in-memory fake.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is the transport view of one chat message, normalized for the
// engine: tdlib-style signed chat ids, album group id, reply target.
type Message struct {
	ID       int
	ChatID   int64
	SenderID int64
	Text     string
	// GroupedID ties the members of one album together; zero for
	// standalone messages.
	GroupedID int64
	// ReplyToID is the source message id this message replies to, or zero.
	ReplyToID int
	// Media reports whether the message carries downloadable media.
	Media bool
	// Service marks system entries (joins, pins, ...) that are never
	// forwarded.
	Service bool
	// Raw holds the transport-specific payload, kept so copies can re-send
	// server-side media without downloading it.
	Raw any
}

// Ref addresses one concrete message.
type Ref struct {
	ChatID int64
	MsgID  int
}

func (r Ref) String() string { return fmt.Sprintf("%d/%d", r.ChatID, r.MsgID) }

// Outgoing is the content of one send operation. Exactly one of File and
// Media may be set; both empty sends plain text.
type Outgoing struct {
	Text string
	// File is a local path to upload as fresh media.
	File string
	// Media is a transport media reference carried over from a source
	// Message, re-sent without re-uploading.
	Media any
	// ReplyTo is a destination-local message id, or zero.
	ReplyTo int
}

// Handlers receives live events for the whole session. Nil fields are
// simply not subscribed.
type Handlers struct {
	OnNewMessage    func(ctx context.Context, msg *Message)
	OnEditedMessage func(ctx context.Context, msg *Message)
	// OnDeletedMessages reports deletions. chatID may be zero when the
	// transport does not attribute the deletion to a chat.
	OnDeletedMessages func(ctx context.Context, chatID int64, ids []int)
}

// Client is the transport surface the engine consumes.
type Client interface {
	// ResolvePeer maps an id, username or share link to a canonical
	// numeric chat id.
	ResolvePeer(ctx context.Context, ref string) (int64, error)
	// IterHistory walks chat history oldest-first, starting after fromID
	// and stopping after untilID (0 means no bound), invoking fn per
	// message. fn returning ErrStopIteration ends the walk cleanly.
	IterHistory(ctx context.Context, chatID int64, fromID, untilID int, fn func(msg *Message) error) error
	// GetMessage fetches one message by id.
	GetMessage(ctx context.Context, chatID int64, msgID int) (*Message, error)
	// GetMessageRange fetches messages with ids in [fromID, toID],
	// missing ids skipped.
	GetMessageRange(ctx context.Context, chatID int64, fromID, toID int) ([]*Message, error)

	Send(ctx context.Context, chatID int64, out Outgoing) (int, error)
	SendAlbum(ctx context.Context, chatID int64, outs []Outgoing) ([]int, error)
	// Forward relays source messages natively. dropAuthor hides the
	// attribution header, producing a clean copy.
	Forward(ctx context.Context, destChat, srcChat int64, ids []int, dropAuthor bool) ([]int, error)
	Edit(ctx context.Context, ref Ref, text string) error
	Delete(ctx context.Context, ref Ref) error
	// DownloadMedia stages the message's media locally and returns the
	// path. The caller owns the file.
	DownloadMedia(ctx context.Context, ref Ref) (string, error)

	// Listen subscribes the handlers and blocks until ctx is cancelled or
	// the connection is lost.
	Listen(ctx context.Context, h Handlers) error
}

// ErrStopIteration ends IterHistory without error.
var ErrStopIteration = errors.New("chat: stop iteration")

// ErrProtectedContent marks a forward or copy rejected because the source
// chat restricts saving content.
var ErrProtectedContent = errors.New("chat: protected content")

// FloodWaitError is a transport rate-limit signal carrying the mandatory
// wait before the operation may be retried.
type FloodWaitError struct {
	Duration time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("chat: flood wait %s", e.Duration)
}

// AsFloodWait extracts the mandatory wait from err, if it is one.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Duration, true
	}
	return 0, false
}
