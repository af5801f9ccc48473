package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrPersistence marks a ledger write that did not complete. Callers must
	// not assume the mutation took effect.
	ErrPersistence = errors.New("persistence failure")
	// ErrPlatformUnavailable means the chat platform (guild, role) cannot be reached at all.
	ErrPlatformUnavailable = errors.New("platform unavailable")
	ErrInvalidTransition   = errors.New("invalid delivery state transition")
)
