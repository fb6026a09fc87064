package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Input errors, rejected at the API boundary before reaching the engine.
	ErrUnknownCategory = errors.New("unknown work category")
	ErrInvalidCount    = errors.New("count out of range")

	// Roster errors
	ErrValidatorNotFound = errors.New("validator not found")
	ErrEmptyRoster       = errors.New("validator roster is empty")

	// Lifecycle errors
	ErrEngineClosed = errors.New("engine timeline is not running")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
