package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBus(t *testing.T) (*Bus, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, nil), rdb
}

func TestBus_PublishInstanceReachesSubscribers(t *testing.T) {
	bus, _ := setupBus(t)
	ctx := context.Background()

	sub := bus.Subscribe(ctx, "inst-1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.PublishInstance("inst-1", map[string]interface{}{
		"type":       EventResponseCreated,
		"responseId": "r1",
	}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "instance:inst-1", msg.Channel)
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, EventResponseCreated, event["type"])
		assert.Equal(t, "r1", event["responseId"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestBus_ReplayInstance(t *testing.T) {
	bus, _ := setupBus(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, bus.PublishInstance("inst-1", map[string]interface{}{
			"type":       EventResponseUpdated,
			"responseId": id,
		}))
	}
	require.NoError(t, bus.PublishInstance("inst-2", map[string]interface{}{"type": EventInspectionCompleted}))

	all, err := bus.ReplayInstance(ctx, "inst-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].Sequence)
	assert.Equal(t, "instance:inst-1", all[0].Channel)
	assert.Equal(t, "r1", all[0].Event["responseId"])

	later, err := bus.ReplayInstance(ctx, "inst-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, int64(2), later[0].Sequence)
	assert.Equal(t, "r2", later[0].Event["responseId"])

	none, err := bus.ReplayInstance(ctx, "inst-9", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBus_PublishFailsWhenRedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer rdb.Close()
	bus := New(rdb, nil)

	s.Close()
	assert.Error(t, bus.PublishProject("proj-1", map[string]interface{}{"type": EventInspectionCompleted}))
}
