package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/yschiu11/tgcf/pkg/chat"
)

// ErrPersistence marks a checkpoint write failure. It is fatal: resuming
// without a valid checkpoint risks large-scale duplication.
var ErrPersistence = errors.New("engine: checkpoint persistence failed")

// Past replays existing chat history per rule, oldest-first, through the
// same stage/buffer/forward sequence as the live controller. The rule's
// offset is advanced and persisted after every forwarded unit so an
// interrupted run resumes without reprocessing completed units.
type Past struct {
	s    *Session
	save func() error
	log  zerolog.Logger
}

// NewPast returns a past controller. save persists the rule table
// (including offsets) atomically; its failure aborts the run.
func NewPast(s *Session, save func() error) *Past {
	return &Past{s: s, save: save, log: s.log.With().Str("mode", "past").Logger()}
}

// Run replays every resolved rule in config order. Per-message failures
// are logged and skipped; only persistence failures abort.
func (p *Past) Run(ctx context.Context) error {
	for _, rt := range p.s.rules {
		if err := p.runRule(ctx, rt); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Past) runRule(ctx context.Context, rt Route) error {
	rule := rt.Rule
	log := p.log.With().Int64("source", rt.Source).Str("rule", rule.Name).Logger()
	log.Info().Int("offset", rule.Offset).Int("end", rule.End).Msg("Replaying history")

	var limiter *rate.Limiter
	if d := p.s.cfg.Past.Delay; d > 0 {
		limiter = rate.NewLimiter(rate.Every(d), 1)
	}

	buf := NewAlbumBuffer()
	iterErr := p.s.client.IterHistory(ctx, rt.Source, rule.Offset, rule.End, func(raw *chat.Message) error {
		if raw.Service {
			return nil
		}
		m := Apply(ctx, p.s.stages, NewMessage(raw), log)
		if m == nil {
			// Dropped messages still count as processed; the checkpoint
			// catches up at the next forwarded unit. Never move the
			// offset backwards: an older album may still be buffered.
			if raw.ID > rule.Offset {
				rule.Offset = raw.ID
			}
			return nil
		}
		if buf.ShouldFlush(raw.GroupedID) {
			if err := p.deliver(ctx, buf.Flush(), rt, limiter); err != nil {
				return err
			}
		}
		if raw.GroupedID != 0 {
			buf.Add(m)
			return nil
		}
		return p.deliver(ctx, []*Message{m}, rt, limiter)
	})

	if err := p.deliver(ctx, buf.Flush(), rt, limiter); err != nil {
		return err
	}
	if err := p.checkpoint(); err != nil {
		return err
	}
	if iterErr != nil && !errors.Is(iterErr, context.Canceled) {
		if errors.Is(iterErr, ErrPersistence) {
			return iterErr
		}
		log.Warn().Err(iterErr).Msg("History replay ended early")
		return nil
	}
	log.Info().Int("offset", rule.Offset).Msg("Replay complete")
	return nil
}

// deliver forwards one unit, advances the rule offset to the unit's last
// source id and persists the checkpoint. Flood waits are retried inside
// forwardUnit; other send failures were already logged there and do not
// hold the offset back. An abandoned unit (cancellation mid-wait) keeps
// the offset where it was so the unit is retried on resume.
func (p *Past) deliver(ctx context.Context, msgs []*Message, rt Route, limiter *rate.Limiter) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := p.s.forwardUnit(ctx, msgs, rt.Dests); err != nil {
		return err
	}
	if last := msgs[len(msgs)-1].Raw.ID; last > rt.Rule.Offset {
		rt.Rule.Offset = last
	}
	if err := p.checkpoint(); err != nil {
		return err
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Past) checkpoint() error {
	if p.save == nil {
		return nil
	}
	if err := p.save(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
