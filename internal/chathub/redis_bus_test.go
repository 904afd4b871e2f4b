package chathub_test

import (
	"clinicmsg/backend/internal/chathub"
	"clinicmsg/backend/internal/models"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBus(t *testing.T, rdb *redis.Client) *chathub.RedisBus {
	t.Helper()
	b := chathub.NewRedisBus(rdb)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func startRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func waitSubscribers(t *testing.T, mr *miniredis.Miniredis, g chathub.Group, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(string(g))[string(g)] == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRedisBus_DeliversAcrossInstances(t *testing.T) {
	// Arrange: two server instances share one Redis
	mr, rdb := startRedis(t)
	sender := newRedisBus(t, rdb)
	receiver := newRedisBus(t, rdb)
	g := chathub.InboxGroup("p1")

	got := make(chan chathub.Event, 32)
	_, err := receiver.Subscribe(context.Background(), g, func(ev chathub.Event) { got <- ev })
	require.NoError(t, err)
	waitSubscribers(t, mr, g, 1)

	// Act
	for i := 0; i < 10; i++ {
		ev, err := chathub.NewEvent(string(models.EventInboxUpdate), "p1", map[string]int{"seq": i})
		require.NoError(t, err)
		require.NoError(t, sender.Publish(context.Background(), g, ev))
	}

	// Assert: every event arrives in publish order
	for i := 0; i < 10; i++ {
		select {
		case ev := <-got:
			assert.Equal(t, string(models.EventInboxUpdate), ev.Type)
			assert.Equal(t, "p1", ev.Subject)
			assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(ev.Payload))
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestRedisBus_SubscribesOncePerGroup(t *testing.T) {
	mr, rdb := startRedis(t)
	b := newRedisBus(t, rdb)
	g := chathub.NotificationGroup("n1")

	s1, err := b.Subscribe(context.Background(), g, func(chathub.Event) {})
	require.NoError(t, err)
	s2, err := b.Subscribe(context.Background(), g, func(chathub.Event) {})
	require.NoError(t, err)
	waitSubscribers(t, mr, g, 1)

	require.NoError(t, s1.Close())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, mr.PubSubNumSub(string(g))[string(g)], "one local subscriber keeps the redis subscription")

	require.NoError(t, s2.Close())
	waitSubscribers(t, mr, g, 0)
}

func TestRedisBus_OtherGroupsAreNotDelivered(t *testing.T) {
	mr, rdb := startRedis(t)
	b := newRedisBus(t, rdb)

	var got []chathub.Event
	done := make(chan struct{}, 1)
	_, err := b.Subscribe(context.Background(), chathub.InboxGroup("p1"), func(ev chathub.Event) {
		got = append(got, ev)
		done <- struct{}{}
	})
	require.NoError(t, err)
	waitSubscribers(t, mr, chathub.InboxGroup("p1"), 1)

	other, err := chathub.NewEvent("inbox_update", "p2", map[string]string{"to": "p2"})
	require.NoError(t, err)
	mine, err := chathub.NewEvent("inbox_update", "p1", map[string]string{"to": "p1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), chathub.InboxGroup("p2"), other))
	require.NoError(t, b.Publish(context.Background(), chathub.InboxGroup("p1"), mine))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].Subject)
}

func TestRedisBus_ClosedBusRejectsSubscribers(t *testing.T) {
	_, rdb := startRedis(t)
	b := chathub.NewRedisBus(rdb)
	require.NoError(t, b.Close())

	_, err := b.Subscribe(context.Background(), chathub.InboxGroup("p1"), func(chathub.Event) {})

	assert.ErrorIs(t, err, chathub.ErrBusClosed)
}
