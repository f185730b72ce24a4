// Package publisher emits recall-found events for downstream consumers.
package publisher

import "context"

// Publisher delivers one event payload to a named topic and returns the
// broker's message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}
