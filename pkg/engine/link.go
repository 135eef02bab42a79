package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/yschiu11/tgcf/pkg/chat"
)

// ErrBadLink marks a post link that does not parse.
var ErrBadLink = errors.New("engine: unrecognized post link")

// albumWindow is how far around the linked message siblings of its album
// are searched.
const albumWindow = 10

var linkRe = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:t|telegram)\.me/(?:c/(\d+)|([A-Za-z][A-Za-z0-9_]{3,}))/(\d+)/?$`)

// ParseLink splits a shareable post link into a peer ref and a message
// id. Private-channel links (t.me/c/<id>/<msg>) yield the canonical
// numeric ref; public links yield the username.
func ParseLink(link string) (string, int, error) {
	m := linkRe.FindStringSubmatch(link)
	if m == nil {
		return "", 0, fmt.Errorf("%w: %q", ErrBadLink, link)
	}
	msgID, err := strconv.Atoi(m[3])
	if err != nil || msgID <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadLink, link)
	}
	if m[1] != "" {
		return "-100" + m[1], msgID, nil
	}
	return m[2], msgID, nil
}

// LinkForwarder relays one post, or the whole album it belongs to, to ad
// hoc destinations as a clean copy without attribution.
type LinkForwarder struct {
	client chat.Client
	log    zerolog.Logger
}

// NewLinkForwarder returns a link forwarder over a connected client.
func NewLinkForwarder(client chat.Client, log zerolog.Logger) *LinkForwarder {
	return &LinkForwarder{client: client, log: log.With().Str("component", "link").Logger()}
}

// Forward resolves the link, collects the album siblings when the target
// is grouped, and copies the unit to every destination. When a direct
// copy is rejected for protected content, the media is downloaded and
// re-uploaded as a fresh message or album; staged files are deleted
// regardless of outcome.
func (f *LinkForwarder) Forward(ctx context.Context, link string, dests []string) error {
	ref, msgID, err := ParseLink(link)
	if err != nil {
		return err
	}
	src, err := f.client.ResolvePeer(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", ref, err)
	}
	target, err := f.client.GetMessage(ctx, src, msgID)
	if err != nil {
		return fmt.Errorf("failed to fetch target message: %w", err)
	}

	unit := []*chat.Message{target}
	if target.GroupedID != 0 {
		window, err := f.client.GetMessageRange(ctx, src, msgID-albumWindow, msgID+albumWindow)
		if err != nil {
			f.log.Warn().Err(err).Msg("Failed to fetch album siblings, sending target alone")
		} else {
			unit = unit[:0]
			for _, m := range window {
				if m.GroupedID == target.GroupedID {
					unit = append(unit, m)
				}
			}
			sort.Slice(unit, func(i, j int) bool { return unit[i].ID < unit[j].ID })
		}
	}
	ids := make([]int, len(unit))
	for i, m := range unit {
		ids[i] = m.ID
	}
	f.log.Info().Int64("source", src).Ints("msg_ids", ids).Msg("Relaying post")

	var staged []string
	defer func() {
		for _, path := range staged {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				f.log.Warn().Err(err).Str("path", path).Msg("Failed to remove staged file")
			}
		}
	}()

	delivered := 0
	for _, d := range dests {
		destID, err := f.client.ResolvePeer(ctx, d)
		if err != nil {
			f.log.Warn().Err(err).Str("dest", d).Msg("Destination unresolvable, skipping")
			continue
		}
		_, fwdErr := f.client.Forward(ctx, destID, src, ids, true)
		if fwdErr == nil {
			delivered++
			continue
		}
		if !errors.Is(fwdErr, chat.ErrProtectedContent) {
			f.log.Warn().Err(fwdErr).Int64("dest", destID).Msg("Failed to copy post")
			continue
		}
		f.log.Info().Int64("dest", destID).Msg("Content protected, falling back to download and re-upload")
		if staged == nil {
			staged, err = f.stageMedia(ctx, unit)
			if err != nil {
				f.log.Warn().Err(err).Msg("Fallback staging failed")
				continue
			}
		}
		if err := f.sendStaged(ctx, destID, unit, staged); err != nil {
			f.log.Warn().Err(err).Int64("dest", destID).Msg("Fallback send failed")
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("post delivered to none of %d destinations", len(dests))
	}
	return nil
}

// stageMedia downloads the unit's media to temporary files, one per
// message carrying media.
func (f *LinkForwarder) stageMedia(ctx context.Context, unit []*chat.Message) ([]string, error) {
	staged := make([]string, len(unit))
	for i, m := range unit {
		if !m.Media {
			continue
		}
		path, err := f.client.DownloadMedia(ctx, chat.Ref{ChatID: m.ChatID, MsgID: m.ID})
		if err != nil {
			for _, p := range staged {
				if p != "" {
					os.Remove(p)
				}
			}
			return nil, err
		}
		staged[i] = path
	}
	return staged, nil
}

// sendStaged re-uploads the unit as fresh content.
func (f *LinkForwarder) sendStaged(ctx context.Context, dest int64, unit []*chat.Message, staged []string) error {
	outs := make([]chat.Outgoing, 0, len(unit))
	for i, m := range unit {
		out := chat.Outgoing{Text: m.Text}
		if i < len(staged) {
			out.File = staged[i]
		}
		if out.File == "" && out.Text == "" {
			continue
		}
		outs = append(outs, out)
	}
	if len(outs) == 0 {
		return errors.New("nothing to send after staging")
	}
	if len(outs) == 1 {
		_, err := f.client.Send(ctx, dest, outs[0])
		return err
	}
	_, err := f.client.SendAlbum(ctx, dest, outs)
	return err
}
