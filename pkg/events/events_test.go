package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/vectordocs/pkg/logger"
)

func TestRecorderFiltersByTopic(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, "a", "k1", 1))
	require.NoError(t, r.Publish(ctx, "b", "k1", 2))
	require.NoError(t, r.Publish(ctx, "a", "k2", 3))

	assert.Len(t, r.Messages(""), 3)
	a := r.Messages("a")
	require.Len(t, a, 2)
	assert.Equal(t, 3, a[1].Event)

	r.Reset()
	assert.Empty(t, r.Messages(""))
}

func TestRedisPublisherDeliversEnvelope(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer client.Close()

	sub := client.Subscribe(ctx, "documents.test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client, logger.NewNopLogger())
	require.NoError(t, p.Publish(ctx, "documents.test", "doc-1", map[string]int{"progressPercentage": 40}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, "doc-1", env.Key)
	assert.JSONEq(t, `{"progressPercentage":40}`, string(env.Payload))
}
