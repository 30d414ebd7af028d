// Package events publishes document lifecycle events to the message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/vectordocs/pkg/logger"
)

type Publisher interface {
	// Publish sends event on topic. key groups events of one document.
	Publish(ctx context.Context, topic, key string, event any) error
}

// Envelope is the wire format on the bus.
type Envelope struct {
	Topic       string          `json:"topic"`
	Key         string          `json:"key"`
	PublishedAt time.Time       `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// RedisPublisher publishes envelopes on redis pub/sub channels named after
// the topic.
type RedisPublisher struct {
	client *redis.Client
	logger logger.Logger
}

func NewRedisPublisher(client *redis.Client, log logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	msg, err := json.Marshal(Envelope{Topic: topic, Key: key, PublishedAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	receivers, err := p.client.Publish(ctx, topic, msg).Result()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}
	p.logger.Debug("Published event",
		logger.String("topic", topic),
		logger.String("key", key),
		logger.Int64("receivers", receivers),
	)
	return nil
}

// Message is one event captured by a Recorder.
type Message struct {
	Topic string
	Key   string
	Event any
}

// Recorder keeps published events in memory. It backs single-process mode
// and tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, topic, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Topic: topic, Key: key, Event: event})
	return nil
}

// Messages returns the recorded events, optionally only those on topic.
func (r *Recorder) Messages(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Message
	for _, m := range r.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
