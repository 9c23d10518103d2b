// Package session defines the port for the platform session lifecycle.
package session

import "context"

// Lifecycle manages one account's platform session (typically a browser
// profile). The orchestration loop calls Restart during recovery; it
// never drives the session's content.
type Lifecycle interface {
	// Start brings the session up. Idempotent on an already-running session.
	Start(ctx context.Context) error

	// Restart tears the session down and brings it back up.
	Restart(ctx context.Context) error

	// Healthy reports whether the session currently responds.
	Healthy(ctx context.Context) bool

	// Close releases the session and its resources.
	Close() error
}
