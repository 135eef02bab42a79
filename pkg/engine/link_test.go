package engine

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yschiu11/tgcf/pkg/chat"
)

// TestParseLink covers the accepted share-link shapes and the refs they
// yield.
func TestParseLink(t *testing.T) {
	t.Parallel()
	cases := []struct {
		link    string
		wantRef string
		wantID  int
		wantErr bool
	}{
		{link: "https://t.me/somechannel/42", wantRef: "somechannel", wantID: 42},
		{link: "t.me/somechannel/42", wantRef: "somechannel", wantID: 42},
		{link: "https://telegram.me/somechannel/42/", wantRef: "somechannel", wantID: 42},
		{link: "https://www.t.me/somechannel/42", wantRef: "somechannel", wantID: 42},
		{link: "https://t.me/c/1234567/99", wantRef: "-1001234567", wantID: 99},
		{link: "https://t.me/somechannel", wantErr: true},
		{link: "https://example.com/somechannel/42", wantErr: true},
		{link: "not a link", wantErr: true},
	}
	for _, tc := range cases {
		ref, id, err := ParseLink(tc.link)
		if tc.wantErr {
			if !errors.Is(err, ErrBadLink) {
				t.Errorf("%q: expected ErrBadLink, got %v", tc.link, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tc.link, err)
			continue
		}
		if ref != tc.wantRef || id != tc.wantID {
			t.Errorf("%q: got (%q, %d), want (%q, %d)", tc.link, ref, id, tc.wantRef, tc.wantID)
		}
	}
}

func newLinkTest(t *testing.T) (*LinkForwarder, *fakeClient) {
	t.Helper()
	fake := newFakeClient()
	fake.downloadDir = t.TempDir()
	fake.peers["somechannel"] = srcChat
	return NewLinkForwarder(fake, zerolog.Nop()), fake
}

// TestLinkForwarder_SingleMessage verifies a standalone post is copied
// without attribution to every destination.
func TestLinkForwarder_SingleMessage(t *testing.T) {
	t.Parallel()
	f, fake := newLinkTest(t)
	fake.history[srcChat] = []*chat.Message{textMsg(srcChat, 42, "the post")}

	err := f.Forward(context.Background(), "https://t.me/somechannel/42", []string{"-2001", "-2002"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	forwards := fake.Forwards()
	if len(forwards) != 2 {
		t.Fatalf("expected 2 forwards, got %d", len(forwards))
	}
	for _, fw := range forwards {
		if !fw.DropAuthor {
			t.Error("link copies must drop the author header")
		}
		if len(fw.IDs) != 1 || fw.IDs[0] != 42 {
			t.Errorf("unexpected ids: %v", fw.IDs)
		}
	}
}

// TestLinkForwarder_WholeAlbum verifies linking any member of an album
// relays the whole group in id order.
func TestLinkForwarder_WholeAlbum(t *testing.T) {
	t.Parallel()
	f, fake := newLinkTest(t)
	fake.history[srcChat] = []*chat.Message{
		textMsg(srcChat, 49, "before"),
		albumMsg(srcChat, 50, 9),
		albumMsg(srcChat, 51, 9),
		albumMsg(srcChat, 52, 9),
		albumMsg(srcChat, 53, 8),
	}

	err := f.Forward(context.Background(), "https://t.me/somechannel/51", []string{"-2001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	forwards := fake.Forwards()
	if len(forwards) != 1 {
		t.Fatalf("expected 1 forward, got %d", len(forwards))
	}
	want := []int{50, 51, 52}
	if len(forwards[0].IDs) != len(want) {
		t.Fatalf("unexpected ids: %v", forwards[0].IDs)
	}
	for i, id := range want {
		if forwards[0].IDs[i] != id {
			t.Fatalf("unexpected ids: %v, want %v", forwards[0].IDs, want)
		}
	}
}

// TestLinkForwarder_ProtectedFallback verifies a protected source is
// re-sent from downloaded media and the staged files are removed
// afterwards.
func TestLinkForwarder_ProtectedFallback(t *testing.T) {
	t.Parallel()
	f, fake := newLinkTest(t)
	fake.history[srcChat] = []*chat.Message{
		albumMsg(srcChat, 50, 9),
		albumMsg(srcChat, 51, 9),
	}
	fake.forwardHook = func(int64) error { return chat.ErrProtectedContent }

	err := f.Forward(context.Background(), "https://t.me/somechannel/50", []string{"-2001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	albums := fake.Albums()
	if len(albums) != 1 || len(albums[0].Outs) != 2 {
		t.Fatalf("expected one re-uploaded album of 2, got %+v", albums)
	}
	for _, out := range albums[0].Outs {
		if out.File == "" {
			t.Error("fallback must send staged files")
		}
	}
	for _, path := range fake.staged {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("staged file %s not cleaned up", path)
		}
	}
}

// TestLinkForwarder_AllDestinationsFailed verifies total failure is
// reported as an error.
func TestLinkForwarder_AllDestinationsFailed(t *testing.T) {
	t.Parallel()
	f, fake := newLinkTest(t)
	fake.history[srcChat] = []*chat.Message{textMsg(srcChat, 42, "the post")}
	fake.forwardHook = func(int64) error { return errors.New("no access") }

	err := f.Forward(context.Background(), "https://t.me/somechannel/42", []string{"-2001", "bogus"})
	if err == nil {
		t.Fatal("expected an error when nothing was delivered")
	}
}

// TestLinkForwarder_BadLink verifies unparseable links fail before any
// network activity.
func TestLinkForwarder_BadLink(t *testing.T) {
	t.Parallel()
	f, fake := newLinkTest(t)
	if err := f.Forward(context.Background(), "nope", []string{"-2001"}); !errors.Is(err, ErrBadLink) {
		t.Fatalf("expected ErrBadLink, got %v", err)
	}
	if n := len(fake.Forwards()); n != 0 {
		t.Fatalf("bad link reached the transport: %d forwards", n)
	}
}
