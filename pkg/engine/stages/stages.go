// Package stages provides the built-in message transforms: text
// filtering, pattern replacement, captioning, and delivery re-routing
// through a secondary account. Stage order is explicit configuration,
// never discovery.
package stages

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yschiu11/tgcf/pkg/chat"
	"github.com/yschiu11/tgcf/pkg/config"
	"github.com/yschiu11/tgcf/pkg/engine"
)

// DialFunc opens an additional transport connection, used by the sender
// stage during initialization.
type DialFunc func(ctx context.Context, login config.LoginConfig) (chat.Client, error)

// Load builds the configured stages in their configured order. src is
// the session client (used by stages that download media); dial may be
// nil when no sender stage is configured.
func Load(cfg *config.StagesConfig, src chat.Client, dial DialFunc, log zerolog.Logger) ([]engine.Stage, error) {
	out := make([]engine.Stage, 0, len(cfg.Order))
	for _, name := range cfg.Order {
		switch name {
		case "filter":
			st, err := newFilter(cfg.Filter)
			if err != nil {
				return nil, fmt.Errorf("filter stage: %w", err)
			}
			out = append(out, st)
		case "replace":
			st, err := newReplace(cfg.Replace)
			if err != nil {
				return nil, fmt.Errorf("replace stage: %w", err)
			}
			out = append(out, st)
		case "caption":
			out = append(out, &captionStage{cfg: cfg.Caption})
		case "sender":
			if dial == nil {
				return nil, fmt.Errorf("sender stage configured but no dialer available")
			}
			out = append(out, &senderStage{cfg: cfg.Sender, src: src, dial: dial})
		default:
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		log.Info().Str("stage", name).Msg("Stage loaded")
	}
	return out, nil
}
