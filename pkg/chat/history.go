package chat

import (
	"context"
	"fmt"
	"sort"

	"github.com/gotd/td/tg"
)

const historyBatchSize = 100

// IterHistory implements Client. The server pages newest-first; each
// batch is requested with a negative add-offset so the window sits just
// above fromID, then reversed to deliver oldest-first.
func (t *Telegram) IterHistory(ctx context.Context, chatID int64, fromID, untilID int, fn func(msg *Message) error) error {
	peer, err := t.inputPeer(ctx, chatID)
	if err != nil {
		return err
	}
	offset := fromID
	for {
		res, err := t.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:      peer,
			OffsetID:  offset + 1,
			AddOffset: -historyBatchSize,
			Limit:     historyBatchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch history of %d: %w", chatID, wrapErr(err))
		}
		batch := extractMessages(res)
		// Oldest-first, ids strictly above the cursor.
		sort.Slice(batch, func(i, j int) bool { return messageID(batch[i]) < messageID(batch[j]) })
		progressed := false
		for _, mc := range batch {
			id := messageID(mc)
			if id <= offset {
				continue
			}
			offset = id
			progressed = true
			if untilID > 0 && id > untilID {
				return nil
			}
			msg := t.convertClass(mc)
			if msg == nil {
				continue
			}
			msg.ChatID = chatID
			if err := fn(msg); err != nil {
				if err == ErrStopIteration {
					return nil
				}
				return err
			}
		}
		if !progressed {
			return nil
		}
	}
}

// GetMessage implements Client.
func (t *Telegram) GetMessage(ctx context.Context, chatID int64, msgID int) (*Message, error) {
	msgs, err := t.getMessages(ctx, chatID, []int{msgID})
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID == msgID {
			m.ChatID = chatID
			return m, nil
		}
	}
	return nil, fmt.Errorf("message %d/%d not found", chatID, msgID)
}

// GetMessageRange implements Client.
func (t *Telegram) GetMessageRange(ctx context.Context, chatID int64, fromID, toID int) ([]*Message, error) {
	if toID < fromID {
		return nil, nil
	}
	ids := make([]int, 0, toID-fromID+1)
	for id := fromID; id <= toID; id++ {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	msgs, err := t.getMessages(ctx, chatID, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		m.ChatID = chatID
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

// getMessages fetches by id, routing to the channel-specific call when
// the peer is a channel.
func (t *Telegram) getMessages(ctx context.Context, chatID int64, ids []int) ([]*Message, error) {
	peer, err := t.inputPeer(ctx, chatID)
	if err != nil {
		return nil, err
	}
	inputIDs := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		inputIDs[i] = &tg.InputMessageID{ID: id}
	}
	var res tg.MessagesMessagesClass
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		res, err = t.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      inputIDs,
		})
	} else {
		res, err = t.api.MessagesGetMessages(ctx, inputIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages from %d: %w", chatID, wrapErr(err))
	}
	var out []*Message
	for _, mc := range extractMessages(res) {
		if msg := t.convertClass(mc); msg != nil && !msg.Service {
			out = append(out, msg)
		}
	}
	return out, nil
}

func extractMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	modified, ok := res.AsModified()
	if !ok {
		return nil
	}
	return modified.GetMessages()
}

func messageID(mc tg.MessageClass) int {
	switch m := mc.(type) {
	case *tg.Message:
		return m.ID
	case *tg.MessageService:
		return m.ID
	case *tg.MessageEmpty:
		return m.ID
	}
	return 0
}
