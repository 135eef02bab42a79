package engine

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yschiu11/tgcf/pkg/chat"
)

// stageFunc adapts a function to the Stage interface for tests.
type stageFunc struct {
	id string
	fn func(ctx context.Context, m *Message) (*Message, error)
}

func (s stageFunc) ID() string { return s.id }

func (s stageFunc) Modify(ctx context.Context, m *Message) (*Message, error) {
	return s.fn(ctx, m)
}

// initStage records whether and in which order Init ran.
type initStage struct {
	stageFunc
	order *[]string
	err   error
}

func (s initStage) Init(context.Context) error {
	*s.order = append(*s.order, s.id)
	return s.err
}

func passthrough(id string) stageFunc {
	return stageFunc{id: id, fn: func(_ context.Context, m *Message) (*Message, error) {
		m.Text += "|" + id
		return m, nil
	}}
}

// TestApply_RunsInOrder verifies stages see each other's output in
// configured order.
func TestApply_RunsInOrder(t *testing.T) {
	t.Parallel()
	m := NewMessage(textMsg(1, 10, "start"))
	out := Apply(context.Background(), []Stage{passthrough("a"), passthrough("b")}, m, zerolog.Nop())
	if out == nil {
		t.Fatal("message unexpectedly dropped")
	}
	if out.Text != "start|a|b" {
		t.Fatalf("unexpected text: %q", out.Text)
	}
}

// TestApply_DropShortCircuits verifies a dropping stage ends the
// pipeline and later stages never run.
func TestApply_DropShortCircuits(t *testing.T) {
	t.Parallel()
	ran := false
	drop := stageFunc{id: "drop", fn: func(context.Context, *Message) (*Message, error) {
		return nil, nil
	}}
	after := stageFunc{id: "after", fn: func(_ context.Context, m *Message) (*Message, error) {
		ran = true
		return m, nil
	}}
	out := Apply(context.Background(), []Stage{drop, after}, NewMessage(textMsg(1, 10, "x")), zerolog.Nop())
	if out != nil {
		t.Fatal("expected message to be dropped")
	}
	if ran {
		t.Error("stage after a drop must not run")
	}
}

// TestApply_FailingStageSkipped verifies a stage error leaves the
// message untouched by that stage and the rest of the pipeline runs.
func TestApply_FailingStageSkipped(t *testing.T) {
	t.Parallel()
	boom := stageFunc{id: "boom", fn: func(context.Context, *Message) (*Message, error) {
		return nil, errors.New("boom")
	}}
	out := Apply(context.Background(), []Stage{boom, passthrough("a")}, NewMessage(textMsg(1, 10, "start")), zerolog.Nop())
	if out == nil {
		t.Fatal("message unexpectedly dropped")
	}
	if out.Text != "start|a" {
		t.Fatalf("unexpected text: %q", out.Text)
	}
}

// TestApply_DropReleasesStagedFile verifies dropped messages have their
// temporary files cleaned up.
func TestApply_DropReleasesStagedFile(t *testing.T) {
	t.Parallel()
	fake := newFakeClient()
	fake.downloadDir = t.TempDir()
	path, err := fake.DownloadMedia(context.Background(), chat.Ref{ChatID: 1, MsgID: 10})
	if err != nil {
		t.Fatalf("stage file: %v", err)
	}
	drop := stageFunc{id: "drop", fn: func(context.Context, *Message) (*Message, error) {
		return nil, nil
	}}
	m := NewMessage(textMsg(1, 10, "x"))
	m.NewFile = path
	m.Cleanup = true
	if out := Apply(context.Background(), []Stage{drop}, m, zerolog.Nop()); out != nil {
		t.Fatal("expected drop")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("staged file not removed: %v", err)
	}
}

// TestInitStages_Order verifies initializers run in stage order and the
// first failure aborts.
func TestInitStages_Order(t *testing.T) {
	t.Parallel()
	var order []string
	ok1 := initStage{stageFunc: passthrough("one"), order: &order}
	ok2 := initStage{stageFunc: passthrough("two"), order: &order}
	if err := InitStages(context.Background(), []Stage{ok1, passthrough("plain"), ok2}, zerolog.Nop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "one" || order[1] != "two" {
		t.Fatalf("unexpected init order: %v", order)
	}

	order = nil
	bad := initStage{stageFunc: passthrough("bad"), order: &order, err: errors.New("dial failed")}
	never := initStage{stageFunc: passthrough("never"), order: &order}
	if err := InitStages(context.Background(), []Stage{bad, never}, zerolog.Nop()); err == nil {
		t.Fatal("expected init failure to propagate")
	}
	if len(order) != 1 {
		t.Fatalf("later initializer ran after a failure: %v", order)
	}
}
