package port

import (
	"context"

	"github.com/oren0115/cartsync/internal/core/domain"
)

// CartStore is the local snapshot cache: advisory backup storage written
// through on every mutation, never consulted to countermand a live remote
// result.
type CartStore interface {
	// Read returns the persisted snapshot, or (nil, nil) when absent.
	// Corrupt payloads degrade to absent rather than erroring.
	Read(ctx context.Context) (*domain.CartState, error)

	// Write persists the snapshot. Failures are advisory; the
	// orchestrator logs them and moves on.
	Write(ctx context.Context, state domain.CartState) error
}
