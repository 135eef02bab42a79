package engine

import (
	"context"
	"time"

	"github.com/yschiu11/tgcf/pkg/chat"
)

// forwardUnit delivers one unit (a standalone message or a whole album)
// to every destination, retrying the unit after transport-mandated waits
// and releasing staged files when done. Per-destination failures are
// logged and do not affect the other destinations; destinations already
// recorded in the store are skipped on retry. A non-nil return means the
// unit was abandoned before delivery because ctx was cancelled.
func (s *Session) forwardUnit(ctx context.Context, msgs []*Message, dests []int64) error {
	if len(msgs) == 0 {
		return nil
	}
	defer func() {
		for _, m := range msgs {
			m.Release()
		}
	}()
	for {
		var err error
		if len(msgs) == 1 {
			err = s.forwardSingle(ctx, msgs[0], dests)
		} else {
			err = s.forwardAlbum(ctx, msgs, dests)
		}
		if err == nil {
			return nil
		}
		wait, ok := chat.AsFloodWait(err)
		if !ok {
			return nil
		}
		s.log.Warn().Dur("wait", wait).Msg("Rate limited, retrying unit after mandated wait")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forwardSingle sends one standalone message to every destination and
// records the copies. Only flood-wait errors propagate; anything else is
// a per-destination warning.
func (s *Session) forwardSingle(ctx context.Context, m *Message, dests []int64) error {
	uid := m.UID()
	s.store.PreRegister(uid)
	done := s.store.Get(uid)
	for _, dest := range dests {
		if _, ok := done[dest]; ok {
			continue
		}
		id, err := s.sendCopy(ctx, dest, m)
		if err != nil {
			if _, ok := chat.AsFloodWait(err); ok {
				return err
			}
			s.log.Warn().Err(err).Int64("dest", dest).Int("msg_id", uid.MsgID).Msg("Failed to forward message")
			continue
		}
		s.store.Put(uid, dest, id)
	}
	return nil
}

// sendCopy delivers m to one destination and returns the new message id.
func (s *Session) sendCopy(ctx context.Context, dest int64, m *Message) (int, error) {
	client := s.destClient(m)
	uid := m.UID()
	if s.cfg.ShowForwardedFrom && m.Client == nil && m.NewFile == "" {
		ids, err := client.Forward(ctx, dest, uid.ChatID, []int{uid.MsgID}, false)
		if err != nil {
			return 0, err
		}
		return ids[0], nil
	}
	out := chat.Outgoing{
		Text:    m.Text,
		File:    m.NewFile,
		ReplyTo: s.replyTarget(m, dest),
	}
	if out.File == "" && m.Raw.Media {
		out.Media = m.Raw.Raw
	}
	return client.Send(ctx, dest, out)
}

// forwardAlbum delivers a buffered group as one unit per destination.
func (s *Session) forwardAlbum(ctx context.Context, msgs []*Message, dests []int64) error {
	srcChat := msgs[0].Raw.ChatID
	srcIDs := make([]int, len(msgs))
	for i, m := range msgs {
		s.store.PreRegister(m.UID())
		srcIDs[i] = m.Raw.ID
	}
	client := s.destClient(msgs[0])
	for _, dest := range dests {
		if _, ok := s.store.Get(msgs[0].UID())[dest]; ok {
			continue
		}
		var ids []int
		var err error
		if s.cfg.ShowForwardedFrom && msgs[0].Client == nil {
			ids, err = client.Forward(ctx, dest, srcChat, srcIDs, false)
		} else {
			outs := make([]chat.Outgoing, len(msgs))
			for i, m := range msgs {
				outs[i] = chat.Outgoing{Text: m.Text, File: m.NewFile}
				if m.NewFile == "" && m.Raw.Media {
					outs[i].Media = m.Raw.Raw
				}
			}
			outs[0].ReplyTo = s.replyTarget(msgs[0], dest)
			ids, err = client.SendAlbum(ctx, dest, outs)
		}
		if err != nil {
			if _, ok := chat.AsFloodWait(err); ok {
				return err
			}
			s.log.Warn().Err(err).Int64("dest", dest).Int64("source", srcChat).Msg("Failed to forward album")
			continue
		}
		for i, m := range msgs {
			if i < len(ids) {
				s.store.Put(m.UID(), dest, ids[i])
			}
		}
	}
	return nil
}

// destClient picks the delivery client: the per-message override from
// the sender stage, or the session client.
func (s *Session) destClient(m *Message) chat.Client {
	if m.Client != nil {
		return m.Client
	}
	return s.client
}

// replyTarget maps the source reply id onto dest's copy of the replied-to
// message, or zero when the copy is unknown: the mirror is then sent
// without a reply reference.
func (s *Session) replyTarget(m *Message, dest int64) int {
	if m.Raw.ReplyToID == 0 {
		return 0
	}
	copies := s.store.Get(EventUID{ChatID: m.Raw.ChatID, MsgID: m.Raw.ReplyToID})
	return copies[dest]
}
