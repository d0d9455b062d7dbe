// Package roster maps a submitting identity to its grading group.
package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"mucsmake/internal/storage"
)

var (
	// ErrNotEnrolled means the roster has no grading group for the identity.
	ErrNotEnrolled = errors.New("identity has no grading group")
	ErrStore       = errors.New("roster store unavailable")
)

type Lookup interface {
	LookupGradingGroup(ctx context.Context, identity string) (storage.GradingGroup, error)
}

type Resolver struct {
	store Lookup
}

func NewResolver(store Lookup) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the identity's grading group. Both failure modes are
// operator problems; there is no fallback group.
func (r *Resolver) Resolve(ctx context.Context, identity string) (storage.GradingGroup, error) {
	g, err := r.store.LookupGradingGroup(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.GradingGroup{}, fmt.Errorf("%w: %s", ErrNotEnrolled, identity)
	}
	if err != nil {
		return storage.GradingGroup{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if g.Name == "" {
		return storage.GradingGroup{}, fmt.Errorf("%w: %s has an empty grading group", ErrNotEnrolled, identity)
	}
	log.Debug().Str("identity", identity).Str("group", g.Name).Msg("grading group resolved")
	return g, nil
}
