package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	redisclient "github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/redis"
)

func receive(t *testing.T, ch <-chan *entities.Event) *entities.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRedisBroadcaster_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b := NewRedisBroadcaster(redisclient.NewFromClient(client))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "onesystem_clinic:queue")
	require.NoError(t, err)

	ev := entities.NewEvent(entities.TopicLabOrderEnqueued, "origin-a", json.RawMessage(`{"pid":"P00001"}`))
	require.NoError(t, b.Publish(ctx, "onesystem_clinic:queue", ev))

	got := receive(t, ch)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, entities.TopicLabOrderEnqueued, got.Type)
	assert.Equal(t, "origin-a", got.Origin)
	assert.JSONEq(t, `{"pid":"P00001"}`, string(got.Payload))
}

func TestRedisBroadcaster_CancelClosesSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b := NewRedisBroadcaster(redisclient.NewFromClient(client))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "branding")
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalHub_SharedBetweenBroadcasters(t *testing.T) {
	hub := NewLocalHub()
	a, b := hub.Broadcaster(), hub.Broadcaster()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "queue")
	require.NoError(t, err)

	ev := entities.NewEvent(entities.TopicPharmacyRxEnqueued, "tab-1", nil)
	require.NoError(t, a.Publish(ctx, "queue", ev))
	assert.Equal(t, ev.ID, receive(t, ch).ID)

	require.NoError(t, a.Close())
	assert.Error(t, a.Publish(ctx, "queue", ev))
	require.NoError(t, b.Publish(ctx, "queue", ev))
	assert.Equal(t, ev.ID, receive(t, ch).ID)
}

func TestLocalBroadcaster_UnsubscribeClosesSubscribers(t *testing.T) {
	b := NewLocalBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "branding")
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe(ctx, "branding"))

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed")
	}

	// the later context cancel must not close the channel again
	cancel()
	time.Sleep(10 * time.Millisecond)
}

func TestFanout_SkipsFullSubscriber(t *testing.T) {
	hub := NewLocalHub()
	bc := hub.Broadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := bc.Subscribe(ctx, "queue")
	require.NoError(t, err)

	ev := entities.NewEvent(entities.TopicBookings, "o", nil)
	for i := 0; i < subscriberBuffer; i++ {
		delivered, dropped := hub.subs.deliver("queue", ev)
		require.Equal(t, 1, delivered)
		require.Equal(t, 0, dropped)
	}
	delivered, dropped := hub.subs.deliver("queue", ev)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, dropped)
}
