package broadcast

import (
	"context"
	"testing"
)

type recording struct {
	events []string
}

func (r *recording) BroadcastEvent(_ context.Context, eventType string, _ any) {
	r.events = append(r.events, eventType)
}

func TestFanoutDeliversToAll(t *testing.T) {
	a := &recording{}
	b := &recording{}
	f := Fanout{a, b}

	f.BroadcastEvent(context.Background(), EventAction, map[string]string{"account": "ember"})
	f.BroadcastEvent(context.Background(), EventQuota, nil)

	for _, r := range []*recording{a, b} {
		if len(r.events) != 2 || r.events[0] != EventAction || r.events[1] != EventQuota {
			t.Fatalf("unexpected events: %v", r.events)
		}
	}
}

func TestFanoutEmpty(t *testing.T) {
	var f Fanout
	// Must not panic.
	f.BroadcastEvent(context.Background(), EventLoopState, nil)
}
