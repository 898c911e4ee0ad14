// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyClaimed indicates an exclusion constraint violation on a chunk
	// lease: another instance claimed an overlapping window first.
	ErrAlreadyClaimed = errors.New("window already claimed")

	// ErrReserved indicates a credential reservation is held by another instance.
	ErrReserved = errors.New("credential reserved elsewhere")
)
