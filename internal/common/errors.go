// Package common defines shared constants and sentinel errors used across
// the key distribution subsystem. Callers should use errors.Is to match
// these values; the HTTP layer maps them to status codes.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Invitation lifecycle errors.
	ErrExpired     = errors.New("expired")
	ErrAlreadyUsed = errors.New("already used")

	// Key request lifecycle errors. A request in a terminal state cannot be
	// resolved again; exactly one concurrent resolver wins.
	ErrAlreadyResolved = errors.New("already resolved")

	// Authorization errors.
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidToken = errors.New("invalid token")

	// Team / community encryption state errors.
	ErrNotInitialized      = errors.New("encryption not initialized")
	ErrAlreadyBootstrapped = errors.New("already bootstrapped")

	// Validation and generic failure.
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)
