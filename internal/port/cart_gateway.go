package port

import (
	"context"

	"github.com/oren0115/cartsync/internal/core/domain"
)

// CartGateway is the client of the authoritative server-side cart. Each
// call is a single round trip with no implicit retry; failures map onto
// the domain sentinels (ErrUnreachable, ErrUnauthorized,
// ErrValidationRejected).
type CartGateway interface {
	// FetchSnapshot retrieves the authoritative cart aggregate.
	FetchSnapshot(ctx context.Context) (domain.CartState, error)

	// AddItem adds quantity of a product. The server recomputes the
	// stock-clamped quantity; callers must refetch rather than trust
	// their own arithmetic.
	AddItem(ctx context.Context, product domain.Product, quantity int) error

	// RemoveItem deletes the line for productID.
	RemoveItem(ctx context.Context, productID string) error

	// SetQuantity replaces the quantity of an existing line.
	SetQuantity(ctx context.Context, productID string, quantity int) error

	// Clear empties the remote cart.
	Clear(ctx context.Context) error
}
