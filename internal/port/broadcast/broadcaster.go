// Package broadcast defines the port for pushing live events to
// connected status clients.
package broadcast

import "context"

// Event types pushed to status clients.
const (
	EventLoopState = "loop.state"
	EventAction    = "action.logged"
	EventQuota     = "quota.updated"
)

// Broadcaster fans a typed event out to every connected client. Sends
// are best-effort; a slow or dead client never blocks the caller.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Fanout delivers each event to every wrapped Broadcaster in order.
type Fanout []Broadcaster

func (f Fanout) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range f {
		b.BroadcastEvent(ctx, eventType, payload)
	}
}
