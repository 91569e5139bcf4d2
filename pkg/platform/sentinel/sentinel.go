package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, feeds, and clients return
// these (optionally wrapped) so services can translate them into domain
// errors with the right code.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: a uniqueness constraint was hit
// - ErrStale: the handle or sequence is behind the store's current state
//
// For validation errors (bad input, bounds, signatures), use
// pkg/domain-errors directly.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrStale    = errors.New("stale")
)
