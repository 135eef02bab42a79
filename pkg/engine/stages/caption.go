package stages

import (
	"context"

	"github.com/yschiu11/tgcf/pkg/config"
	"github.com/yschiu11/tgcf/pkg/engine"
)

// captionStage wraps message text with a configured header and footer.
// Service-style empty messages are left alone so media-only posts do
// not grow a caption out of nothing unless one side is configured.
type captionStage struct {
	cfg config.CaptionConfig
}

func (st *captionStage) ID() string { return "caption" }

func (st *captionStage) Modify(_ context.Context, m *engine.Message) (*engine.Message, error) {
	if st.cfg.Header == "" && st.cfg.Footer == "" {
		return m, nil
	}
	text := m.Text
	if st.cfg.Header != "" {
		if text != "" {
			text = st.cfg.Header + "\n" + text
		} else {
			text = st.cfg.Header
		}
	}
	if st.cfg.Footer != "" {
		if text != "" {
			text = text + "\n" + st.cfg.Footer
		} else {
			text = st.cfg.Footer
		}
	}
	m.Text = text
	return m, nil
}
