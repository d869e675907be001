package domain

import "errors"

var (
	// ErrUnreachable covers network failures, timeouts and 5xx responses
	// from the remote cart. Mutations degrade to the local fallback path.
	ErrUnreachable = errors.New("remote cart unreachable")

	// ErrUnauthorized means the session token is invalid or expired.
	// Escalated to the session observer; the mutation is not applied.
	ErrUnauthorized = errors.New("cart session unauthorized")

	// ErrValidationRejected means the server refused a quantity/stock
	// combination. Treated like ErrUnreachable: degrade, do not surface.
	ErrValidationRejected = errors.New("remote cart rejected mutation")

	// ErrCorruptLocalState marks an unreadable local snapshot. Stores
	// degrade corrupt reads to absent; this sentinel is for logging.
	ErrCorruptLocalState = errors.New("corrupt local cart state")
)
