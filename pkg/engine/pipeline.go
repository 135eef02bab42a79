package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// Stage is one transform applied to every candidate message before
// forwarding. Modify returns the (possibly replaced) message, or
// (nil, nil) to drop it: a drop short-circuits the remaining stages and
// the caller discards the message. Stages run strictly in configured
// order.
type Stage interface {
	ID() string
	Modify(ctx context.Context, m *Message) (*Message, error)
}

// Initializer is implemented by stages that need setup before their
// first message, e.g. establishing a secondary connection. Init must
// complete before the stage processes anything.
type Initializer interface {
	Init(ctx context.Context) error
}

// InitStages runs stage initialization in order and fails on the first
// Init error.
func InitStages(ctx context.Context, stages []Stage, log zerolog.Logger) error {
	for _, st := range stages {
		init, ok := st.(Initializer)
		if !ok {
			continue
		}
		if err := init.Init(ctx); err != nil {
			return err
		}
		log.Debug().Str("stage", st.ID()).Msg("Stage initialized")
	}
	return nil
}

// Apply runs the stages over m in order. A stage error is logged and the
// stage skipped: the message continues unmodified by that stage. Returns
// nil when a stage dropped the message; staged resources are released in
// that case.
func Apply(ctx context.Context, stages []Stage, m *Message, log zerolog.Logger) *Message {
	for _, st := range stages {
		next, err := st.Modify(ctx, m)
		if err != nil {
			log.Warn().Err(err).Str("stage", st.ID()).Msg("Stage failed, skipping it")
			continue
		}
		if next == nil {
			log.Debug().Str("stage", st.ID()).Int("msg_id", m.Raw.ID).Msg("Message dropped by stage")
			m.Release()
			return nil
		}
		m = next
	}
	return m
}
