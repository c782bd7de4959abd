package stream

import "errors"

// Admission errors are the only failures surfaced to callers; every other
// failure mode in this package is absorbed into statistics.
var (
	// ErrPoolFull indicates the pool is at its global connection limit.
	ErrPoolFull = errors.New("connection pool full")

	// ErrOriginLimit indicates the origin is at its per-origin connection limit.
	ErrOriginLimit = errors.New("origin connection limit exceeded")

	// ErrStopped indicates the manager is not running. Admit and Send do not
	// lazily start the manager; callers must Start it first.
	ErrStopped = errors.New("stream manager is stopped")
)
