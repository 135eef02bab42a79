package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yschiu11/tgcf/pkg/chat"
)

// Live is the continuous sync controller. It wires incoming new, edited
// and deleted events through the transform stages, the per-chat album
// buffers and the tracking store.
type Live struct {
	s   *Session
	log zerolog.Logger
}

// NewLive returns a live controller over the session.
func NewLive(s *Session) *Live {
	return &Live{s: s, log: s.log.With().Str("mode", "live").Logger()}
}

// Run subscribes the handlers and blocks until ctx ends or the transport
// connection is lost. Deleted-message sync is only subscribed when
// enabled. Remaining buffered albums are flushed at shutdown.
func (l *Live) Run(ctx context.Context) error {
	h := chat.Handlers{
		OnNewMessage:    l.handleNew,
		OnEditedMessage: l.handleEdited,
	}
	if l.s.cfg.Live.DeleteSync {
		h.OnDeletedMessages = l.handleDeleted
	}
	defer l.shutdown()
	l.log.Info().Int("routes", len(l.s.routes)).Msg("Live sync started")
	return l.s.client.Listen(ctx, h)
}

// shutdown cancels all debounce timers and flushes whatever is still
// buffered, so a clean stop never swallows a partially received album.
func (l *Live) shutdown() {
	l.s.timers.StopAll()
	ctx := context.Background()
	for _, chatID := range l.s.bufferedChats() {
		l.flush(ctx, chatID)
	}
}

// handleNew implements the new-message path: transform, group check,
// flush-prior-group, then buffer or forward immediately.
func (l *Live) handleNew(ctx context.Context, raw *chat.Message) {
	dests, ok := l.s.routes[raw.ChatID]
	if !ok || raw.Service {
		return
	}
	l.log.Info().Int64("chat_id", raw.ChatID).Int("msg_id", raw.ID).Msg("New message")

	l.s.store.Prune(l.s.cfg.Live.KeepLast)

	m := Apply(ctx, l.s.stages, NewMessage(raw), l.log)
	if m == nil {
		return
	}

	if l.s.bufferShouldFlush(raw.ChatID, raw.GroupedID) {
		// The pending debounce flush would duplicate this one.
		l.s.timers.Cancel(raw.ChatID)
		l.flush(ctx, raw.ChatID)
	}

	if raw.GroupedID != 0 {
		// Pre-register so an edit racing the debounce window still finds
		// a placeholder entry.
		l.s.store.PreRegister(m.UID())
		l.s.bufferAdd(raw.ChatID, m)
		chatID := raw.ChatID
		l.s.timers.Arm(chatID, l.s.cfg.Live.AlbumFlushTimeout, func() {
			l.flush(context.Background(), chatID)
		})
		return
	}

	l.s.forwardUnit(ctx, []*Message{m}, dests)
}

// flush releases chatID's buffered album and forwards it as one unit.
func (l *Live) flush(ctx context.Context, chatID int64) {
	msgs := l.s.takeBuffered(chatID)
	if len(msgs) == 0 {
		return
	}
	dests, ok := l.s.routes[chatID]
	if !ok {
		return
	}
	l.log.Debug().Int64("chat_id", chatID).Int("count", len(msgs)).Msg("Flushing album buffer")
	l.s.forwardUnit(ctx, msgs, dests)
}

// handleEdited propagates an edit to every tracked copy. Editing the
// text to the configured delete marker deletes the source and all copies
// instead. An untracked edit (e.g. predating this session) is sent as a
// brand-new message.
func (l *Live) handleEdited(ctx context.Context, raw *chat.Message) {
	dests, ok := l.s.routes[raw.ChatID]
	if !ok || raw.Service {
		return
	}
	l.log.Info().Int64("chat_id", raw.ChatID).Int("msg_id", raw.ID).Msg("Message edited")

	m := Apply(ctx, l.s.stages, NewMessage(raw), l.log)
	if m == nil {
		return
	}
	defer m.Release()

	uid := m.UID()
	if l.s.store.Contains(uid) {
		copies := l.s.store.Get(uid)
		marker := l.s.cfg.Live.DeleteOnEdit
		if marker != "" && raw.Text == marker {
			l.deleteEverywhere(ctx, uid, copies)
			return
		}
		for dest, id := range copies {
			if err := l.s.client.Edit(ctx, chat.Ref{ChatID: dest, MsgID: id}, m.Text); err != nil {
				l.log.Warn().Err(err).Int64("dest", dest).Int("msg_id", id).Msg("Failed to edit copy")
			}
		}
		return
	}

	l.s.forwardUnit(ctx, []*Message{m}, dests)
}

// deleteEverywhere removes the source message and all its copies.
func (l *Live) deleteEverywhere(ctx context.Context, uid EventUID, copies map[int64]int) {
	if err := l.s.client.Delete(ctx, chat.Ref{ChatID: uid.ChatID, MsgID: uid.MsgID}); err != nil {
		l.log.Warn().Err(err).Int64("chat_id", uid.ChatID).Int("msg_id", uid.MsgID).Msg("Failed to delete source message")
	}
	for dest, id := range copies {
		if err := l.s.client.Delete(ctx, chat.Ref{ChatID: dest, MsgID: id}); err != nil {
			l.log.Warn().Err(err).Int64("dest", dest).Int("msg_id", id).Msg("Failed to delete copy")
		}
	}
}

// handleDeleted removes the copies of deleted source messages. Untracked
// deletions are a no-op.
func (l *Live) handleDeleted(ctx context.Context, chatID int64, ids []int) {
	if chatID == 0 {
		// The transport could not attribute the deletion to a chat.
		l.log.Debug().Ints("msg_ids", ids).Msg("Unattributed deletion, skipping")
		return
	}
	if _, ok := l.s.routes[chatID]; !ok {
		return
	}
	for _, id := range ids {
		copies := l.s.store.Get(EventUID{ChatID: chatID, MsgID: id})
		if len(copies) == 0 {
			continue
		}
		l.log.Info().Int64("chat_id", chatID).Int("msg_id", id).Msg("Message deleted, removing copies")
		for dest, destID := range copies {
			if err := l.s.client.Delete(ctx, chat.Ref{ChatID: dest, MsgID: destID}); err != nil {
				l.log.Warn().Err(err).Int64("dest", dest).Int("msg_id", destID).Msg("Failed to delete copy")
			}
		}
	}
}
