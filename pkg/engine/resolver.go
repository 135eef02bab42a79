package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/yschiu11/tgcf/pkg/chat"
	"github.com/yschiu11/tgcf/pkg/config"
)

// ErrResolution marks a peer ref that could not be mapped to a chat id.
// The owning rule is disabled for the session.
var ErrResolution = errors.New("engine: peer resolution failed")

// Resolver maps configured peer refs to canonical numeric chat ids.
type Resolver struct {
	client chat.Client
}

// NewResolver returns a resolver backed by the given transport.
func NewResolver(client chat.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the canonical chat id for ref. Integer refs pass
// through, numeric strings are parsed, everything else goes to the
// transport's entity lookup.
func (r *Resolver) Resolve(ctx context.Context, ref config.PeerRef) (int64, error) {
	if ref.IsEmpty() {
		return 0, fmt.Errorf("%w: empty ref", ErrResolution)
	}
	if id, ok := ref.AsID(); ok {
		return id, nil
	}
	id, err := r.client.ResolvePeer(ctx, ref.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrResolution, ref, err)
	}
	return id, nil
}
