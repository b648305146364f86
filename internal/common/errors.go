// Package common defines shared sentinel errors and small helpers used across
// the SafeExchange server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a conditional write loses: a stale or
	// expired access ticket, or a request that is no longer in progress.
	ErrConflict = errors.New("conflict")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Content-specific errors.
	ErrContentNotReady = errors.New("content is not ready")

	// Access ticket errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
