package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// EventHello is sent once per connection, before any broadcast events.
// Broadcast event types are defined by the broadcast port.
const EventHello = "hello"

// HelloEvent is the payload of the hello frame.
type HelloEvent struct {
	ServerTime time.Time `json:"server_time"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all
// clients. Implements the broadcast port.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
