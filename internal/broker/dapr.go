package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cart-service/internal/sidecar"
)

// DaprBackend publishes through the sidecar pub/sub API. The envelope is sent
// as a structured CloudEvent so the sidecar forwards it unchanged.
type DaprBackend struct {
	client      *sidecar.Client
	pubsub      string
	sidecarWait time.Duration
}

func NewDaprBackend(client *sidecar.Client, pubsub string, sidecarWait time.Duration) *DaprBackend {
	return &DaprBackend{client: client, pubsub: pubsub, sidecarWait: sidecarWait}
}

func (d *DaprBackend) Name() string { return "dapr" }

func (d *DaprBackend) Init(ctx context.Context) error {
	return d.client.WaitForSidecar(ctx, d.sidecarWait)
}

func (d *DaprBackend) Send(ctx context.Context, topic string, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return d.client.Publish(ctx, d.pubsub, topic, body, CloudEventsContentType)
}

func (d *DaprBackend) Healthy(ctx context.Context) bool {
	return d.client.Healthy(ctx)
}

func (d *DaprBackend) Close() error { return nil }
