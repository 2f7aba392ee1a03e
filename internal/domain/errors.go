package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Pairing-protocol outcomes. The poll and approve surfaces discriminate on
// these with errors.Is; none of them is fatal to the process.
var (
	// ErrGenerationExhausted: user-code generation kept colliding. Transient —
	// the client should simply retry the pairing request.
	ErrGenerationExhausted = errors.New("code generation exhausted")

	// ErrDuplicateCode: an insert hit an existing device or user code.
	ErrDuplicateCode = errors.New("duplicate code")

	// ErrStaleState: a compare-and-transition precondition did not hold.
	ErrStaleState = errors.New("stale state")

	// Poll outcomes.
	ErrUnknownCode     = errors.New("unknown device code")
	ErrExpiredCode     = errors.New("device code expired")
	ErrAccessDenied    = errors.New("access denied")
	ErrAlreadyConsumed = errors.New("device code already consumed")

	// Approval outcomes.
	ErrInvalidFormat   = errors.New("invalid code format")
	ErrAlreadyResolved = errors.New("pairing already resolved")
	ErrTooManyAttempts = errors.New("too many attempts")
)
