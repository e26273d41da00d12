package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// natsPublisher implements Publisher on top of NATS JetStream.
type natsPublisher struct {
	js     jetstream.JetStream
	prefix string
}

// NewNATSPublisher creates a JetStream-backed publisher and ensures the stream
// exists. Subjects are <prefix>.<collection>.<op>.
func NewNATSPublisher(nc *nats.Conn, stream string, prefix string) (Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{prefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &natsPublisher{js: js, prefix: prefix}, nil
}

func (p *natsPublisher) Publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("%s.%s.%s", p.prefix, change.Collection, change.Op)
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithRetryAttempts(3))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
