package batch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifierPublishesSessionEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, EventsChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	notifier := NewRedisNotifier(client)
	evt := Event{Kind: EventVerified, State: StateVerified, Batch: "B1", Count: 2, Expected: 2}
	require.NoError(t, notifier.Publish(ctx, "sess-1", evt))

	select {
	case msg := <-sub.Channel():
		var got notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, "sess-1", got.Session)
		require.Equal(t, EventVerified, got.Event.Kind)
		require.Equal(t, "B1", got.Event.Batch)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestNilNotifierIsNoop(t *testing.T) {
	var n *RedisNotifier
	require.NoError(t, n.Publish(context.Background(), "s", Event{}))
}
