// Package notifier defines the operator notification port.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no usable destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`  // "info", "warning", "error"
	Source  string `json:"source"` // e.g. "loop.fatal", "digest.daily"
}

// Notifier is the port interface for telling the operator something.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "telegram").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, n Notification) error
}
