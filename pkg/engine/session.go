package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exslices"

	"github.com/yschiu11/tgcf/pkg/chat"
	"github.com/yschiu11/tgcf/pkg/config"
)

// Route is one resolved replication rule: canonical source and
// destination ids plus the config rule that owns the checkpoint.
type Route struct {
	Source int64
	Dests  []int64
	Rule   *config.Forward
}

// Session owns all mutable state of one replication run. It is passed
// explicitly to every controller; there is no package-level state, so
// multiple sessions run independently.
type Session struct {
	cfg    *config.Config
	client chat.Client
	stages []Stage
	log    zerolog.Logger

	store  *Store
	routes map[int64][]int64
	rules  []Route

	mu      sync.Mutex
	buffers map[int64]*AlbumBuffer
	timers  *flushTimers
}

// NewSession builds a session over an already-loaded config and a
// connected client. Call ResolveRoutes before running a controller.
func NewSession(cfg *config.Config, client chat.Client, stages []Stage, log zerolog.Logger) *Session {
	return &Session{
		cfg:     cfg,
		client:  client,
		stages:  stages,
		log:     log.With().Str("component", "engine").Logger(),
		store:   NewStore(),
		routes:  make(map[int64][]int64),
		buffers: make(map[int64]*AlbumBuffer),
		timers:  newFlushTimers(),
	}
}

// Store exposes the tracking store, mainly for inspection in tests.
func (s *Session) Store() *Store { return s.store }

// Routes returns the resolved source -> destinations table.
func (s *Session) Routes() map[int64][]int64 { return s.routes }

// Rules returns the resolved per-rule routes in config order.
func (s *Session) Rules() []Route { return s.rules }

// ResolveRoutes resolves every enabled rule once. A rule whose source or
// any destination cannot be resolved is disabled for this session and
// logged; it never fails the whole run. Blank sources disable their rule
// silently.
func (s *Session) ResolveRoutes(ctx context.Context) error {
	resolver := NewResolver(s.client)
	for i := range s.cfg.Forwards {
		rule := &s.cfg.Forwards[i]
		if !rule.Use || rule.Source.IsEmpty() {
			continue
		}
		src, err := resolver.Resolve(ctx, rule.Source)
		if err != nil {
			s.log.Error().Err(err).Str("rule", rule.Name).Msg("Source unresolvable, rule disabled for this session")
			continue
		}
		dests := make([]int64, 0, len(rule.Dest))
		ok := true
		for _, d := range rule.Dest {
			id, err := resolver.Resolve(ctx, d)
			if err != nil {
				s.log.Error().Err(err).Str("rule", rule.Name).Str("dest", d.String()).Msg("Destination unresolvable, rule disabled for this session")
				ok = false
				break
			}
			dests = append(dests, id)
		}
		if !ok || len(dests) == 0 {
			continue
		}
		dests = exslices.DeduplicateUnsorted(dests)
		s.routes[src] = dests
		s.rules = append(s.rules, Route{Source: src, Dests: dests, Rule: rule})
		s.log.Info().Int64("source", src).Ints64("dests", dests).Str("rule", rule.Name).Msg("Route resolved")
	}
	return nil
}

// buffer returns the album buffer for chatID, created lazily.
func (s *Session) buffer(chatID int64) *AlbumBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[chatID]
	if !ok {
		buf = NewAlbumBuffer()
		s.buffers[chatID] = buf
	}
	return buf
}

// bufferShouldFlush reports whether chatID's buffer must be released
// before a message with groupID can be added.
func (s *Session) bufferShouldFlush(chatID, groupID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[chatID]
	return ok && buf.ShouldFlush(groupID)
}

// bufferAdd appends m to chatID's buffer.
func (s *Session) bufferAdd(chatID int64, m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[chatID]
	if !ok {
		buf = NewAlbumBuffer()
		s.buffers[chatID] = buf
	}
	buf.Add(m)
}

// takeBuffered flushes chatID's buffer and returns its contents. The
// swap happens under the session lock; forwarding the result does not.
func (s *Session) takeBuffered(chatID int64) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[chatID]
	if !ok {
		return nil
	}
	return buf.Flush()
}

// bufferedChats lists chats with pending buffered messages.
func (s *Session) bufferedChats() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id, buf := range s.buffers {
		if !buf.Empty() {
			out = append(out, id)
		}
	}
	return out
}
