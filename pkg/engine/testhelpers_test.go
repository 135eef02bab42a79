package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yschiu11/tgcf/pkg/chat"
	"github.com/yschiu11/tgcf/pkg/config"
)

type sendCall struct {
	Dest int64
	Out  chat.Outgoing
}

type albumCall struct {
	Dest int64
	Outs []chat.Outgoing
}

type forwardCall struct {
	Dest       int64
	Src        int64
	IDs        []int
	DropAuthor bool
}

type editCall struct {
	Ref  chat.Ref
	Text string
}

// fakeClient is an in-memory chat.Client. It records every mutating
// call for assertions and serves history from a plain map.
type fakeClient struct {
	mu sync.Mutex

	peers   map[string]int64
	history map[int64][]*chat.Message

	nextID   int
	sends    []sendCall
	albums   []albumCall
	forwards []forwardCall
	edits    []editCall
	deletes  []chat.Ref
	staged   []string

	// sendHook and forwardHook run before the corresponding call and
	// can inject failures. They run under the client lock.
	sendHook    func(dest int64) error
	forwardHook func(dest int64) error

	downloadDir string
}

var _ chat.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		peers:   make(map[string]int64),
		history: make(map[int64][]*chat.Message),
		nextID:  1000,
	}
}

func (f *fakeClient) ResolvePeer(_ context.Context, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.peers[ref]
	if !ok {
		return 0, fmt.Errorf("no such peer %q", ref)
	}
	return id, nil
}

func (f *fakeClient) IterHistory(_ context.Context, chatID int64, fromID, untilID int, fn func(msg *chat.Message) error) error {
	f.mu.Lock()
	msgs := make([]*chat.Message, len(f.history[chatID]))
	copy(msgs, f.history[chatID])
	f.mu.Unlock()
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	for _, m := range msgs {
		if m.ID <= fromID {
			continue
		}
		if untilID != 0 && m.ID > untilID {
			break
		}
		if err := fn(m); err != nil {
			if err == chat.ErrStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

func (f *fakeClient) GetMessage(_ context.Context, chatID int64, msgID int) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.history[chatID] {
		if m.ID == msgID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("message %d/%d not found", chatID, msgID)
}

func (f *fakeClient) GetMessageRange(_ context.Context, chatID int64, fromID, toID int) ([]*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*chat.Message
	for _, m := range f.history[chatID] {
		if m.ID >= fromID && m.ID <= toID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeClient) Send(_ context.Context, chatID int64, out chat.Outgoing) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendHook != nil {
		if err := f.sendHook(chatID); err != nil {
			return 0, err
		}
	}
	f.nextID++
	f.sends = append(f.sends, sendCall{Dest: chatID, Out: out})
	return f.nextID, nil
}

func (f *fakeClient) SendAlbum(_ context.Context, chatID int64, outs []chat.Outgoing) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendHook != nil {
		if err := f.sendHook(chatID); err != nil {
			return nil, err
		}
	}
	ids := make([]int, len(outs))
	for i := range outs {
		f.nextID++
		ids[i] = f.nextID
	}
	f.albums = append(f.albums, albumCall{Dest: chatID, Outs: append([]chat.Outgoing(nil), outs...)})
	return ids, nil
}

func (f *fakeClient) Forward(_ context.Context, destChat, srcChat int64, ids []int, dropAuthor bool) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forwardHook != nil {
		if err := f.forwardHook(destChat); err != nil {
			return nil, err
		}
	}
	out := make([]int, len(ids))
	for i := range ids {
		f.nextID++
		out[i] = f.nextID
	}
	f.forwards = append(f.forwards, forwardCall{Dest: destChat, Src: srcChat, IDs: append([]int(nil), ids...), DropAuthor: dropAuthor})
	return out, nil
}

func (f *fakeClient) Edit(_ context.Context, ref chat.Ref, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{Ref: ref, Text: text})
	return nil
}

func (f *fakeClient) Delete(_ context.Context, ref chat.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	return nil
}

func (f *fakeClient) DownloadMedia(_ context.Context, ref chat.Ref) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := f.downloadDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("staged-%d-%d", ref.ChatID, ref.MsgID))
	if err := os.WriteFile(path, []byte("media"), 0o600); err != nil {
		return "", err
	}
	f.staged = append(f.staged, path)
	return path, nil
}

func (f *fakeClient) Listen(ctx context.Context, _ chat.Handlers) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeClient) Sends() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func (f *fakeClient) Albums() []albumCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]albumCall(nil), f.albums...)
}

func (f *fakeClient) Forwards() []forwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forwardCall(nil), f.forwards...)
}

func (f *fakeClient) Edits() []editCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]editCall(nil), f.edits...)
}

func (f *fakeClient) Deletes() []chat.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Ref(nil), f.deletes...)
}

// newTestSession builds a session over the fake client with defaults,
// optionally mutated before post-processing.
func newTestSession(t *testing.T, client chat.Client, stages []Stage, mutate func(cfg *config.Config)) *Session {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("config post process failed: %v", err)
	}
	return NewSession(cfg, client, stages, zerolog.Nop())
}

// addRoute installs a pre-resolved route, bypassing peer resolution.
func addRoute(s *Session, src int64, dests []int64, rule *config.Forward) {
	s.routes[src] = dests
	s.rules = append(s.rules, Route{Source: src, Dests: dests, Rule: rule})
}

func textMsg(chatID int64, id int, text string) *chat.Message {
	return &chat.Message{ID: id, ChatID: chatID, Text: text}
}

func albumMsg(chatID int64, id int, groupID int64) *chat.Message {
	return &chat.Message{ID: id, ChatID: chatID, GroupedID: groupID, Media: true}
}
