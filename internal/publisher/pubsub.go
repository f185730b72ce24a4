package publisher

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSub publishes events to Google Cloud Pub/Sub.
type PubSub struct {
	client *pubsub.Client
}

// NewPubSub connects a Pub/Sub client for the given project.
func NewPubSub(ctx context.Context, projectID string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	return &PubSub{client: client}, nil
}

// Publish sends the payload to the topic and blocks for the server-assigned
// message ID.
func (p *PubSub) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	result := p.client.Topic(topic).Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return id, nil
}

// Close releases the underlying client.
func (p *PubSub) Close() error {
	return p.client.Close()
}
