// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrValidation indicates malformed input rejected before the store is touched.
	ErrValidation = errors.New("validation")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a record with the same key is already stored.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStoreUnavailable indicates the backing store could not be reached or failed.
	// The outcome of the operation is unknown to the caller.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrIssuanceExhausted indicates id generation kept colliding past the retry budget.
	ErrIssuanceExhausted = errors.New("issuance exhausted")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)
