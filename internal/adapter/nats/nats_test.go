package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Conn {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	c, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func TestBroadcastEvent_Published(t *testing.T) {
	c := testConnect(t)
	ctx := context.Background()

	// Raw consumer on the event subject, new messages only, so prior
	// runs do not leak into this test.
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subjectPrefix + "action.logged",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	var (
		got  []byte
		done = make(chan struct{})
		once sync.Once
	)
	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		once.Do(func() {
			got = msg.Data()
			close(done)
		})
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	defer sub.Stop()

	c.BroadcastEvent(ctx, "action.logged", map[string]string{
		"account": "ember",
		"outcome": "performed",
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	var payload map[string]string
	if err := json.Unmarshal(got, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["account"] != "ember" || payload["outcome"] != "performed" {
		t.Errorf("payload = %v", payload)
	}
}

func TestBroadcastEvent_UnmarshalablePayload(t *testing.T) {
	c := testConnect(t)

	// A channel cannot be marshaled; the event is dropped with a log,
	// never a panic.
	c.BroadcastEvent(context.Background(), "action.logged", make(chan int))
}

func TestKeyValue_RoundTrip(t *testing.T) {
	c := testConnect(t)
	ctx := context.Background()

	kv, err := c.KeyValue(ctx, "test-scores-"+t.Name(), 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}

	if _, err := kv.Put(ctx, "score", []byte("61")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, err := kv.Get(ctx, "score")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != "61" {
		t.Errorf("value = %q, want 61", entry.Value())
	}

	if err := kv.Delete(ctx, "score"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "score"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestIsConnected(t *testing.T) {
	c := testConnect(t)

	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}
