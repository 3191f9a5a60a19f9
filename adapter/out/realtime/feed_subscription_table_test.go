package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feed_server/core/domain"
	"feed_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionTable_NotifyDeliversOncePerSubscriber(t *testing.T) {
	table := NewSubscriptionTable(testLogger())
	key := domain.NewPostNotificationKey(7)

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, conn := range conns {
		handle := NewConnectionHandle(conn, 0)
		require.NoError(t, table.Subscribe(key, handle))
		// redundant subscribe must not duplicate delivery
		require.NoError(t, table.Subscribe(key, handle))
	}

	delivered := table.Notify(context.Background(), key, []byte(`{"event":"new_post_notification","content":null}`))

	assert.Equal(t, 3, delivered)
	for _, conn := range conns {
		assert.Len(t, conn.frames(t), 1)
	}
}

func TestSubscriptionTable_SlowPeerDoesNotDelayOthers(t *testing.T) {
	table := NewSubscriptionTable(testLogger())
	key := domain.NewPostNotificationKey(7)

	slow := newFakeConn()
	slow.block = make(chan struct{})
	fast := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, conn := range append([]*fakeConn{slow}, fast...) {
		require.NoError(t, table.Subscribe(key, NewConnectionHandle(conn, 0)))
	}

	done := make(chan int, 1)
	go func() {
		done <- table.Notify(context.Background(), key, []byte(`{"event":"new_post_notification","content":null}`))
	}()

	require.Eventually(t, func() bool {
		return len(fast[0].frames(t)) == 1 && len(fast[1].frames(t)) == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("notify returned while a send was still blocked")
	default:
	}
	assert.Empty(t, slow.frames(t))

	close(slow.block)
	select {
	case delivered := <-done:
		assert.Equal(t, 3, delivered)
	case <-time.After(2 * time.Second):
		t.Fatal("notify did not finish after the slow peer was released")
	}
	assert.Len(t, slow.frames(t), 1)
}

func TestSubscriptionTable_UnsubscribeStopsDelivery(t *testing.T) {
	table := NewSubscriptionTable(testLogger())
	key := domain.ConnectedUsersCountKey()

	kept := newFakeConn()
	dropped := newFakeConn()
	keptHandle := NewConnectionHandle(kept, 0)
	droppedHandle := NewConnectionHandle(dropped, 0)
	require.NoError(t, table.Subscribe(key, keptHandle))
	require.NoError(t, table.Subscribe(key, droppedHandle))

	table.Unsubscribe(key, droppedHandle)
	delivered, err := table.NotifyFrame(context.Background(), key, ConnectedUsersCountFrame(3))
	require.NoError(t, err)

	assert.Equal(t, 1, delivered)
	assert.Len(t, kept.frames(t), 1)
	assert.Empty(t, dropped.frames(t))
	assert.False(t, droppedHandle.IsSubscribed(key))
}

func TestSubscriptionTable_EntryRemovedWhenEmpty(t *testing.T) {
	table := NewSubscriptionTable(testLogger())
	handle := NewConnectionHandle(newFakeConn(), 0)
	first := domain.NewPostNotificationKey(1)
	second := domain.NewPostNotificationKey(2)

	require.NoError(t, table.Subscribe(first, handle))
	require.NoError(t, table.Subscribe(second, handle))
	assert.Equal(t, 2, table.Keys())

	table.Unsubscribe(first, handle)
	assert.Equal(t, 1, table.Keys())
	assert.Nil(t, table.Subscribers(first))
	assert.ElementsMatch(t, []domain.EventKey{second}, handle.SubscribedKeys())

	// unknown pairs are ignored
	table.Unsubscribe(first, handle)
	table.Unsubscribe(domain.NewPostNotificationKey(99), handle)
	assert.Equal(t, 1, table.Keys())
}

func TestSubscriptionTable_FailedSendKeepsSubscriber(t *testing.T) {
	table := NewSubscriptionTable(testLogger())
	key := domain.NewPostNotificationKey(5)

	broken := newFakeConn()
	broken.failWrites(errors.New("broken pipe"))
	healthy := newFakeConn()
	brokenHandle := NewConnectionHandle(broken, 0)
	require.NoError(t, table.Subscribe(key, brokenHandle))
	require.NoError(t, table.Subscribe(key, NewConnectionHandle(healthy, 0)))

	delivered := table.Notify(context.Background(), key, []byte(`{}`))

	assert.Equal(t, 1, delivered)
	assert.Len(t, healthy.frames(t), 1)
	assert.Len(t, table.Subscribers(key), 2)
	assert.True(t, brokenHandle.IsSubscribed(key))
	assert.EqualValues(t, 1, table.messagesFailed.Load())
	assert.EqualValues(t, 1, table.messagesSent.Load())
}

func TestSubscriptionTable_NotifyWithoutSubscribers(t *testing.T) {
	table := NewSubscriptionTable(testLogger())

	delivered := table.Notify(context.Background(), domain.NewPostNotificationKey(1), []byte(`{}`))

	assert.Zero(t, delivered)
	assert.Zero(t, table.Keys())
}

func TestSubscriptionTable_NotifyCancelledContext(t *testing.T) {
	table := NewSubscriptionTable(testLogger())
	key := domain.NewPostNotificationKey(1)
	conn := newFakeConn()
	require.NoError(t, table.Subscribe(key, NewConnectionHandle(conn, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Zero(t, table.Notify(ctx, key, []byte(`{}`)))
	assert.Empty(t, conn.frames(t))
}

func TestSubscriptionTable_ClosedHandleRejectsSubscribe(t *testing.T) {
	table := NewSubscriptionTable(testLogger())
	handle := NewConnectionHandle(newFakeConn(), 0)
	key := domain.NewPostNotificationKey(3)
	require.NoError(t, table.Subscribe(key, handle))

	keys := table.Close(handle)
	require.Equal(t, []domain.EventKey{key}, keys)

	err := table.Subscribe(domain.NewPostNotificationKey(4), handle)
	require.ErrorIs(t, err, apperr.ErrHandleClosed)

	for _, k := range keys {
		table.Unsubscribe(k, handle)
	}
	assert.Zero(t, table.Keys())
	assert.Empty(t, handle.SubscribedKeys())
}

func TestSubscriptionTable_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	table := NewSubscriptionTable(testLogger())
	key := domain.NewPostNotificationKey(11)

	handles := make([]*ConnectionHandle, 64)
	for i := range handles {
		handles[i] = NewConnectionHandle(newFakeConn(), 0)
	}

	var wg sync.WaitGroup
	for _, handle := range handles {
		wg.Add(1)
		go func(handle *ConnectionHandle) {
			defer wg.Done()
			_ = table.Subscribe(key, handle)
			table.Unsubscribe(key, handle)
			_ = table.Subscribe(key, handle)
		}(handle)
	}
	wg.Wait()

	assert.Len(t, table.Subscribers(key), len(handles))
	for _, handle := range handles {
		assert.True(t, handle.IsSubscribed(key))
	}
}
