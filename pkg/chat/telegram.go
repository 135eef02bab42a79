package chat

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/constant"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
)

// TelegramOptions holds credentials for one MTProto session.
type TelegramOptions struct {
	APIID   int
	APIHash string
	// SessionString is a Telethon-format string session (user accounts).
	SessionString string
	// SessionFile is a session file path, used when no string is given.
	SessionFile string
	// BotToken authorizes a bot account when the session is fresh.
	BotToken string
}

// Telegram implements Client on top of gotd. One value is one connected
// session; all methods must be called inside Run.
type Telegram struct {
	opts       TelegramOptions
	client     *telegram.Client
	dispatcher tg.UpdateDispatcher
	api        *tg.Client
	peers      *peers.Manager
	sender     *message.Sender
	log        zerolog.Logger
}

var _ Client = (*Telegram)(nil)

// NewTelegram builds a Telegram client. The connection is established by
// Run.
func NewTelegram(opts TelegramOptions, log zerolog.Logger) *Telegram {
	t := &Telegram{
		opts:       opts,
		dispatcher: tg.NewUpdateDispatcher(),
		log:        log.With().Str("component", "telegram").Logger(),
	}
	t.client = telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: t.sessionStorage(),
		UpdateHandler:  t.dispatcher,
	})
	return t
}

func (t *Telegram) sessionStorage() session.Storage {
	if t.opts.SessionString != "" {
		storage := new(session.StorageMemory)
		data, err := session.TelethonSession(t.opts.SessionString)
		if err != nil {
			t.log.Error().Err(err).Msg("Invalid session string, starting unauthorized")
			return storage
		}
		loader := session.Loader{Storage: storage}
		if err := loader.Save(context.Background(), data); err != nil {
			t.log.Error().Err(err).Msg("Failed to prime session storage")
		}
		return storage
	}
	path := t.opts.SessionFile
	if path == "" {
		path = "tgcf.session.json"
	}
	return &session.FileStorage{Path: path}
}

// Run connects, authorizes if needed, and invokes fn with the session
// alive. It returns when fn returns or the connection dies.
func (t *Telegram) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.client.Run(ctx, func(ctx context.Context) error {
		status, err := t.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to check auth status: %w", err)
		}
		if !status.Authorized {
			if t.opts.BotToken == "" {
				return errors.New("chat: not authorized and no bot token configured")
			}
			if _, err := t.client.Auth().Bot(ctx, t.opts.BotToken); err != nil {
				return fmt.Errorf("bot login failed: %w", err)
			}
		}
		t.api = t.client.API()
		t.peers = peers.Options{}.Build(t.api)
		t.sender = message.NewSender(t.api)
		if err := t.peers.Init(ctx); err != nil {
			return fmt.Errorf("failed to init peer manager: %w", err)
		}
		self, err := t.client.Self(ctx)
		if err == nil {
			t.log.Info().Int64("user_id", self.ID).Bool("bot", self.Bot).Msg("Authorized")
		}
		return fn(ctx)
	})
}

// DialBackground connects a second session on its own goroutine and
// returns once it is ready for API calls. The connection lives until
// ctx is cancelled.
func DialBackground(ctx context.Context, opts TelegramOptions, log zerolog.Logger) (*Telegram, error) {
	t := NewTelegram(opts, log)
	ready := make(chan error, 1)
	go func() {
		err := t.Run(ctx, func(ctx context.Context) error {
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case ready <- err:
		default:
		}
	}()
	select {
	case err := <-ready:
		if err != nil {
			return nil, fmt.Errorf("secondary session failed: %w", err)
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolvePeer implements Client. Numeric ids pass through untouched so
// already-canonical refs never hit the network.
func (t *Telegram) ResolvePeer(ctx context.Context, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, errors.New("chat: empty peer ref")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	p, err := t.peers.Resolve(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %q: %w", ref, wrapErr(err))
	}
	return int64(p.TDLibPeerID()), nil
}

// inputPeer converts a tdlib-style chat id back to an input peer, using
// the manager's entity cache for access hashes.
func (t *Telegram) inputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	p, err := t.peers.ResolveTDLibID(ctx, constant.TDLibPeerID(chatID))
	if err != nil {
		return nil, fmt.Errorf("unknown chat %d: %w", chatID, wrapErr(err))
	}
	return p.InputPeer(), nil
}

// Listen implements Client. Updates flow only while Run is alive; Listen
// registers the handlers and blocks until ctx ends.
func (t *Telegram) Listen(ctx context.Context, h Handlers) error {
	if h.OnNewMessage != nil {
		t.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
			t.applyEntities(ctx, e)
			if msg := t.convertClass(u.Message); msg != nil {
				h.OnNewMessage(ctx, msg)
			}
			return nil
		})
		t.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
			t.applyEntities(ctx, e)
			if msg := t.convertClass(u.Message); msg != nil {
				h.OnNewMessage(ctx, msg)
			}
			return nil
		})
	}
	if h.OnEditedMessage != nil {
		t.dispatcher.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
			t.applyEntities(ctx, e)
			if msg := t.convertClass(u.Message); msg != nil {
				h.OnEditedMessage(ctx, msg)
			}
			return nil
		})
		t.dispatcher.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
			t.applyEntities(ctx, e)
			if msg := t.convertClass(u.Message); msg != nil {
				h.OnEditedMessage(ctx, msg)
			}
			return nil
		})
	}
	if h.OnDeletedMessages != nil {
		t.dispatcher.OnDeleteChannelMessages(func(ctx context.Context, e tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
			var id constant.TDLibPeerID
			id.Channel(u.ChannelID)
			h.OnDeletedMessages(ctx, int64(id), u.Messages)
			return nil
		})
		t.dispatcher.OnDeleteMessages(func(ctx context.Context, e tg.Entities, u *tg.UpdateDeleteMessages) error {
			// Plain deletions carry no chat attribution.
			h.OnDeletedMessages(ctx, 0, u.Messages)
			return nil
		})
	}
	t.log.Info().Msg("Listening for updates")
	<-ctx.Done()
	return ctx.Err()
}

// applyEntities feeds update entities into the peer manager cache so
// later inputPeer lookups have access hashes.
func (t *Telegram) applyEntities(ctx context.Context, e tg.Entities) {
	users := make([]tg.UserClass, 0, len(e.Users))
	for _, u := range e.Users {
		users = append(users, u)
	}
	chats := make([]tg.ChatClass, 0, len(e.Chats)+len(e.Channels))
	for _, c := range e.Chats {
		chats = append(chats, c)
	}
	for _, c := range e.Channels {
		chats = append(chats, c)
	}
	if err := t.peers.Apply(ctx, users, chats); err != nil {
		t.log.Debug().Err(err).Msg("Failed to cache update entities")
	}
}

// convertClass normalizes a raw message class. Service and empty
// messages come back with Service set or nil respectively.
func (t *Telegram) convertClass(mc tg.MessageClass) *Message {
	switch m := mc.(type) {
	case *tg.Message:
		return t.convert(m)
	case *tg.MessageService:
		return &Message{ID: m.ID, ChatID: peerChatID(m.PeerID), Service: true}
	default:
		return nil
	}
}

func (t *Telegram) convert(m *tg.Message) *Message {
	msg := &Message{
		ID:     m.ID,
		ChatID: peerChatID(m.PeerID),
		Text:   m.Message,
		Raw:    m,
	}
	if g, ok := m.GetGroupedID(); ok {
		msg.GroupedID = g
	}
	if rh, ok := m.GetReplyTo(); ok {
		if h, ok := rh.(*tg.MessageReplyHeader); ok {
			msg.ReplyToID = h.ReplyToMsgID
		}
	}
	if from, ok := m.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			msg.SenderID = u.UserID
		}
	}
	msg.Media = hasDownloadableMedia(m)
	return msg
}

// hasDownloadableMedia reports whether the message media can be staged
// locally. Web page previews are presentation only.
func hasDownloadableMedia(m *tg.Message) bool {
	switch m.Media.(type) {
	case *tg.MessageMediaPhoto, *tg.MessageMediaDocument:
		return true
	default:
		return false
	}
}

// peerChatID converts a raw peer to the tdlib-style signed id used
// throughout the engine.
func peerChatID(p tg.PeerClass) int64 {
	var id constant.TDLibPeerID
	switch pp := p.(type) {
	case *tg.PeerUser:
		id.User(pp.UserID)
	case *tg.PeerChat:
		id.Chat(pp.ChatID)
	case *tg.PeerChannel:
		id.Channel(pp.ChannelID)
	default:
		return 0
	}
	return int64(id)
}

// wrapErr maps transport errors onto the contract's error kinds.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &FloodWaitError{Duration: d}
	}
	if tgerr.Is(err, "CHAT_FORWARDS_RESTRICTED", "CHAT_SEND_MEDIA_FORBIDDEN") {
		return fmt.Errorf("%w: %v", ErrProtectedContent, err)
	}
	return err
}

func randomID() int64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return int64(binary.LittleEndian.Uint64(buf[:]) & (1<<63 - 1))
}
