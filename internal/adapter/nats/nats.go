// Package nats connects the supervisor to a NATS cluster. It publishes
// live events to a JetStream stream, mirroring what WebSocket clients
// see, and hosts the KV bucket backing the shared L2 score cache.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName    = "CIRCADIAN"
	subjectPrefix = "circadian."
)

// streamMaxAge bounds how long published events are retained.
const streamMaxAge = 7 * 24 * time.Hour

// Conn wraps a NATS connection with the JetStream handles circadian uses.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection and ensures the event stream exists.
func Connect(ctx context.Context, url string) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("circadian"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
		MaxAge:   streamMaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Conn{nc: nc, js: js}, nil
}

// BroadcastEvent publishes one event to its subject, e.g. "action.logged"
// goes to "circadian.action.logged". Implements the broadcast port.
// Publishing is asynchronous so a slow broker never stalls an account loop.
func (c *Conn) BroadcastEvent(_ context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal nats event", "type", eventType, "error", err)
		return
	}
	if _, err := c.js.PublishAsync(subjectPrefix+eventType, data); err != nil {
		slog.Warn("nats publish", "type", eventType, "error", err)
	}
}

// KeyValue returns the named KV bucket, creating it with the given
// per-entry TTL when it does not exist yet.
func (c *Conn) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// IsConnected reports whether the underlying connection is up.
func (c *Conn) IsConnected() bool {
	return c.nc.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (c *Conn) Close() error {
	return c.nc.Drain()
}
