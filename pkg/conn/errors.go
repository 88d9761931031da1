package conn

import "errors"

var (
	// ErrBackpressure is returned to the oldest queued request when
	// the wait queue exceeds its configured depth while the manager
	// is disconnected.
	ErrBackpressure = errors.New("request queue full")

	// ErrStartup means no seed was reachable within the initial
	// startup window. The only connection error that is process-fatal.
	ErrStartup = errors.New("no seed reachable at startup")

	// ErrClosed is returned for requests made after the manager has
	// shut down.
	ErrClosed = errors.New("connection manager closed")
)
