package stages

import (
	"context"
	"fmt"

	"github.com/yschiu11/tgcf/pkg/chat"
	"github.com/yschiu11/tgcf/pkg/config"
	"github.com/yschiu11/tgcf/pkg/engine"
)

// senderStage routes outgoing copies through a secondary account. The
// secondary client is dialed once in Init; when DownloadMedia is set,
// media is staged through the source client so the secondary account
// never needs read access to the source chat.
type senderStage struct {
	cfg  config.SenderConfig
	src  chat.Client
	dial DialFunc

	alt chat.Client
}

var (
	_ engine.Stage       = (*senderStage)(nil)
	_ engine.Initializer = (*senderStage)(nil)
)

func (st *senderStage) ID() string { return "sender" }

func (st *senderStage) Init(ctx context.Context) error {
	alt, err := st.dial(ctx, st.cfg.Login)
	if err != nil {
		return fmt.Errorf("dial sender account: %w", err)
	}
	st.alt = alt
	return nil
}

func (st *senderStage) Modify(ctx context.Context, m *engine.Message) (*engine.Message, error) {
	if st.cfg.DownloadMedia && m.Raw.Media && m.NewFile == "" {
		path, err := st.src.DownloadMedia(ctx, chat.Ref{ChatID: m.Raw.ChatID, MsgID: m.Raw.ID})
		if err != nil {
			return nil, fmt.Errorf("stage media for sender account: %w", err)
		}
		m.NewFile = path
		m.Cleanup = true
	}
	m.Client = st.alt
	return m, nil
}
