package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
)

// Send implements Client.
func (t *Telegram) Send(ctx context.Context, chatID int64, out Outgoing) (int, error) {
	peer, err := t.inputPeer(ctx, chatID)
	if err != nil {
		return 0, err
	}
	builder := &t.sender.To(peer).Builder
	if out.ReplyTo != 0 {
		builder = builder.Reply(out.ReplyTo)
	}
	opt, err := t.mediaOption(ctx, out)
	if err != nil {
		return 0, err
	}
	if opt == nil {
		if out.Text == "" {
			return 0, errors.New("chat: nothing to send")
		}
		id, err := unpack.MessageID(builder.Text(ctx, out.Text))
		if err != nil {
			return 0, wrapErr(err)
		}
		return id, nil
	}
	id, err := unpack.MessageID(builder.Media(ctx, opt))
	if err != nil {
		return 0, wrapErr(err)
	}
	return id, nil
}

// SendAlbum implements Client. All outgoing parts must carry media.
func (t *Telegram) SendAlbum(ctx context.Context, chatID int64, outs []Outgoing) ([]int, error) {
	if len(outs) == 0 {
		return nil, nil
	}
	if len(outs) == 1 {
		id, err := t.Send(ctx, chatID, outs[0])
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	}
	peer, err := t.inputPeer(ctx, chatID)
	if err != nil {
		return nil, err
	}
	opts := make([]message.MultiMediaOption, 0, len(outs))
	for _, out := range outs {
		opt, err := t.mediaOption(ctx, out)
		if err != nil {
			return nil, err
		}
		if opt == nil {
			return nil, fmt.Errorf("album part has no media")
		}
		opts = append(opts, opt)
	}
	builder := &t.sender.To(peer).Builder
	if outs[0].ReplyTo != 0 {
		builder = builder.Reply(outs[0].ReplyTo)
	}
	upd, err := builder.Album(ctx, opts[0], opts[1:]...)
	if err != nil {
		return nil, wrapErr(err)
	}
	ids := newMessageIDs(upd)
	if len(ids) == 0 {
		return nil, errors.New("chat: album send returned no message ids")
	}
	return ids, nil
}

// mediaOption builds the sender option for the outgoing media, or nil
// for a text-only send.
func (t *Telegram) mediaOption(ctx context.Context, out Outgoing) (message.MultiMediaOption, error) {
	var caption []styling.StyledTextOption
	if out.Text != "" {
		caption = append(caption, styling.Plain(out.Text))
	}
	if out.File != "" {
		f, err := uploader.NewUploader(t.api).FromPath(ctx, out.File)
		if err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", out.File, wrapErr(err))
		}
		if isPhotoPath(out.File) {
			return message.UploadedPhoto(f, caption...), nil
		}
		doc := message.UploadedDocument(f, caption...)
		doc.Filename(filepath.Base(out.File))
		return doc, nil
	}
	if out.Media != nil {
		raw, ok := out.Media.(*tg.Message)
		if !ok {
			return nil, fmt.Errorf("unsupported media payload %T", out.Media)
		}
		// Re-send the server-side media reference, avoiding a
		// download/re-upload round trip.
		switch md := raw.Media.(type) {
		case *tg.MessageMediaPhoto:
			if p, ok := md.Photo.(*tg.Photo); ok {
				return message.Photo(p, caption...), nil
			}
		case *tg.MessageMediaDocument:
			if d, ok := md.Document.(*tg.Document); ok {
				return message.Document(d, caption...), nil
			}
		}
		// No re-sendable media (e.g. web preview); fall back to text.
		return nil, nil
	}
	return nil, nil
}

// Forward implements Client.
func (t *Telegram) Forward(ctx context.Context, destChat, srcChat int64, ids []int, dropAuthor bool) ([]int, error) {
	from, err := t.inputPeer(ctx, srcChat)
	if err != nil {
		return nil, err
	}
	to, err := t.inputPeer(ctx, destChat)
	if err != nil {
		return nil, err
	}
	rnd := make([]int64, len(ids))
	for i := range rnd {
		rnd[i] = randomID()
	}
	upd, err := t.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer:   from,
		ToPeer:     to,
		ID:         ids,
		RandomID:   rnd,
		DropAuthor: dropAuthor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to forward to %d: %w", destChat, wrapErr(err))
	}
	newIDs := newMessageIDs(upd)
	if len(newIDs) == 0 {
		return nil, errors.New("chat: forward returned no message ids")
	}
	return newIDs, nil
}

// Edit implements Client.
func (t *Telegram) Edit(ctx context.Context, ref Ref, text string) error {
	peer, err := t.inputPeer(ctx, ref.ChatID)
	if err != nil {
		return err
	}
	req := &tg.MessagesEditMessageRequest{Peer: peer, ID: ref.MsgID}
	req.SetMessage(text)
	if _, err := t.api.MessagesEditMessage(ctx, req); err != nil {
		return fmt.Errorf("failed to edit %s: %w", ref, wrapErr(err))
	}
	return nil
}

// Delete implements Client. Channel messages need the channel-scoped
// call; everything else deletes for both sides.
func (t *Telegram) Delete(ctx context.Context, ref Ref) error {
	peer, err := t.inputPeer(ctx, ref.ChatID)
	if err != nil {
		return err
	}
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		_, err = t.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      []int{ref.MsgID},
		})
	} else {
		_, err = t.api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
			ID:     []int{ref.MsgID},
			Revoke: true,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, wrapErr(err))
	}
	return nil
}

// DownloadMedia implements Client.
func (t *Telegram) DownloadMedia(ctx context.Context, ref Ref) (string, error) {
	msg, err := t.GetMessage(ctx, ref.ChatID, ref.MsgID)
	if err != nil {
		return "", err
	}
	raw, ok := msg.Raw.(*tg.Message)
	if !ok {
		return "", fmt.Errorf("message %s has no raw payload", ref)
	}
	loc, ext, ok := fileLocation(raw)
	if !ok {
		return "", fmt.Errorf("message %s has no downloadable media", ref)
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("tgcf-%d-%d%s", ref.MsgID, randomID()%1_000_000, ext))
	if _, err := downloader.NewDownloader().Download(t.api, loc).ToPath(ctx, path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to download media of %s: %w", ref, wrapErr(err))
	}
	return path, nil
}

// fileLocation picks a download location for the message media. For
// photos the largest size is used.
func fileLocation(m *tg.Message) (tg.InputFileLocationClass, string, bool) {
	switch md := m.Media.(type) {
	case *tg.MessageMediaPhoto:
		p, ok := md.Photo.(*tg.Photo)
		if !ok {
			return nil, "", false
		}
		return &tg.InputPhotoFileLocation{
			ID:            p.ID,
			AccessHash:    p.AccessHash,
			FileReference: p.FileReference,
			ThumbSize:     largestPhotoSize(p),
		}, ".jpg", true
	case *tg.MessageMediaDocument:
		d, ok := md.Document.(*tg.Document)
		if !ok {
			return nil, "", false
		}
		ext := ".bin"
		for _, attr := range d.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				if e := filepath.Ext(fn.FileName); e != "" {
					ext = e
				}
			}
		}
		return &tg.InputDocumentFileLocation{
			ID:            d.ID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
		}, ext, true
	}
	return nil, "", false
}

func largestPhotoSize(p *tg.Photo) string {
	best := ""
	bestSize := -1
	for _, sc := range p.Sizes {
		switch s := sc.(type) {
		case *tg.PhotoSize:
			if s.Size > bestSize {
				bestSize = s.Size
				best = s.Type
			}
		case *tg.PhotoSizeProgressive:
			size := 0
			for _, n := range s.Sizes {
				if n > size {
					size = n
				}
			}
			if size > bestSize {
				bestSize = size
				best = s.Type
			}
		}
	}
	return best
}

// newMessageIDs extracts ids of messages created by an updates payload,
// sorted ascending.
func newMessageIDs(u tg.UpdatesClass) []int {
	var ids []int
	collect := func(updates []tg.UpdateClass) {
		for _, x := range updates {
			switch uu := x.(type) {
			case *tg.UpdateNewMessage:
				if id := messageID(uu.Message); id != 0 {
					ids = append(ids, id)
				}
			case *tg.UpdateNewChannelMessage:
				if id := messageID(uu.Message); id != 0 {
					ids = append(ids, id)
				}
			case *tg.UpdateNewScheduledMessage:
				if id := messageID(uu.Message); id != 0 {
					ids = append(ids, id)
				}
			}
		}
	}
	switch upd := u.(type) {
	case *tg.Updates:
		collect(upd.Updates)
	case *tg.UpdatesCombined:
		collect(upd.Updates)
	case *tg.UpdateShortSentMessage:
		ids = append(ids, upd.ID)
	}
	sort.Ints(ids)
	return ids
}

func isPhotoPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}
