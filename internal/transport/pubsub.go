package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	cloudpubsub "cloud.google.com/go/pubsub"
)

// PubSubBus is a Bus over Google Cloud Pub/Sub. Subscriptions are bound to topics on the
// server side.
type PubSubBus struct {
	client         *cloudpubsub.Client
	maxOutstanding int
	logger         *slog.Logger

	mu     sync.Mutex
	topics map[string]*cloudpubsub.Topic
}

// NewPubSubBus dials Pub/Sub for projectID.
func NewPubSubBus(ctx context.Context, projectID string, maxOutstanding int, logger *slog.Logger) (*PubSubBus, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := cloudpubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxOutstanding <= 0 {
		maxOutstanding = 10
	}
	return &PubSubBus{client: client, maxOutstanding: maxOutstanding, logger: logger, topics: make(map[string]*cloudpubsub.Topic)}, nil
}

// Publish sends msg and waits for the server to assign an id.
func (b *PubSubBus) Publish(ctx context.Context, topic string, msg Message) error {
	id, err := b.topic(topic).Publish(ctx, &cloudpubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	b.logger.Debug("published message", slog.String("topic", topic), slog.String("id", id))
	return nil
}

// Subscribe pulls from subscription until ctx is done, acking on nil and nacking on error.
func (b *PubSubBus) Subscribe(ctx context.Context, subscription string, handler Handler) error {
	sub := b.client.Subscription(subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = b.maxOutstanding

	b.logger.Info("starting pull", slog.String("subscription", subscription))
	err := sub.Receive(ctx, func(ctx context.Context, msg *cloudpubsub.Message) {
		if err := handler(ctx, msg.Data); err != nil {
			b.logger.Warn("message nacked", slog.String("subscription", subscription), slog.String("id", msg.ID), slog.Any("error", err))
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pull %s: %w", subscription, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (b *PubSubBus) Close() error {
	b.mu.Lock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.topics = map[string]*cloudpubsub.Topic{}
	b.mu.Unlock()
	return b.client.Close()
}

func (b *PubSubBus) topic(name string) *cloudpubsub.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = b.client.Topic(name)
		b.topics[name] = t
	}
	return t
}

type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushHandler adapts a Handler to a Pub/Sub push endpoint. A 2xx response acks the
// message; any other status makes Pub/Sub redeliver it.
func PushHandler(logger *slog.Logger, handler Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var envelope pushEnvelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := handler(r.Context(), envelope.Message.Data); err != nil {
			logger.Warn("push delivery failed", slog.String("subscription", envelope.Subscription),
				slog.String("id", envelope.Message.MessageID), slog.Any("error", err))
			http.Error(w, "retry", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
