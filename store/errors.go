package store

import "errors"

// Error kinds returned across the store. Only ErrNotFound is meant to
// be handled by callers; the rest are fatal and should cause the
// caller to treat the tree as poisoned and reopen it.
var (
	// ErrNotFound is returned by Find/leaf lookups for an absent key.
	ErrNotFound = errors.New("store: not found")

	// ErrCorruptPage marks a bad Kind byte, a bad header magic/version,
	// or any other on-disk inconsistency.
	ErrCorruptPage = errors.New("store: corrupt page")

	// ErrClosed is returned by any operation attempted on a closed Store.
	ErrClosed = errors.New("store: closed")

	// ErrAssertionViolation marks a packed page that would exceed the
	// configured page size, or another invariant check failing.
	ErrAssertionViolation = errors.New("store: assertion violation")

	// ErrProgrammerError marks a caller-side contract violation: freeing
	// a pinned page, merging without a neighbour at a non-root, etc.
	ErrProgrammerError = errors.New("store: programmer error")
)
