package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"feed_server/core/domain"
	"feed_server/pkg/apperr"

	"github.com/rs/zerolog"
)

// SubscriptionTable maps an event key to the handles subscribed to it.
//
// A handle is in the entry of key iff key is in the handle's own subscribed
// set; both sides are updated under the table write lock. Entries are
// created on first subscribe and deleted when they become empty.
type SubscriptionTable struct {
	mu     sync.RWMutex
	events map[domain.EventKey]map[uint64]*ConnectionHandle
	log    zerolog.Logger

	messagesSent   atomic.Int64
	messagesFailed atomic.Int64
}

// NewSubscriptionTable creates an empty table.
func NewSubscriptionTable(log zerolog.Logger) *SubscriptionTable {
	return &SubscriptionTable{
		events: make(map[domain.EventKey]map[uint64]*ConnectionHandle),
		log:    log.With().Str("component", "subscription_table").Logger(),
	}
}

// Subscribe adds handle to the subscribers of key. Subscribing twice is a
// no-op. It fails only when the handle is already being torn down.
func (t *SubscriptionTable) Subscribe(key domain.EventKey, handle *ConnectionHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if handle.isClosed() {
		t.log.Debug().
			Uint64("connection_id", handle.ID()).
			Str("event", key.String()).
			Msg("subscribe on closed connection ignored")
		return apperr.ErrHandleClosed
	}

	if !handle.addKey(key) {
		t.log.Debug().
			Uint64("connection_id", handle.ID()).
			Str("event", key.String()).
			Msg("redundant subscribe")
		return nil
	}

	subscribers, ok := t.events[key]
	if !ok {
		subscribers = make(map[uint64]*ConnectionHandle)
		t.events[key] = subscribers
	}
	subscribers[handle.ID()] = handle

	t.log.Debug().
		Uint64("connection_id", handle.ID()).
		Str("event", key.String()).
		Int("subscribers", len(subscribers)).
		Msg("subscribed")
	return nil
}

// Unsubscribe removes handle from the subscribers of key. Unknown pairs are
// logged and otherwise ignored: disconnect cleanup may race an explicit
// unsubscribe.
func (t *SubscriptionTable) Unsubscribe(key domain.EventKey, handle *ConnectionHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked := handle.removeKey(key)
	subscribers := t.events[key]
	_, listed := subscribers[handle.ID()]

	switch {
	case !tracked && !listed:
		t.log.Debug().
			Uint64("connection_id", handle.ID()).
			Str("event", key.String()).
			Msg("unsubscribe from event the connection was not subscribed to")
		return
	case tracked != listed:
		t.log.Warn().
			Uint64("connection_id", handle.ID()).
			Str("event", key.String()).
			Bool("tracked", tracked).
			Bool("listed", listed).
			Msg("subscription table and connection disagree")
		if !listed {
			return
		}
	}

	delete(subscribers, handle.ID())
	if len(subscribers) == 0 {
		delete(t.events, key)
	}
}

// Close marks handle closed for new subscriptions and returns the keys it is
// subscribed to at that point. Unsubscribing those keys afterwards leaves no
// entry referencing the handle.
func (t *SubscriptionTable) Close(handle *ConnectionHandle) []domain.EventKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	handle.markClosed()
	return handle.SubscribedKeys()
}

// Notify pushes payload to every current subscriber of key. Each send runs
// in its own goroutine so that a slow peer only delays itself; failures are
// logged and never remove the subscriber. It returns the number of
// successful deliveries once every send has finished.
func (t *SubscriptionTable) Notify(ctx context.Context, key domain.EventKey, payload []byte) int {
	subscribers := t.Subscribers(key)
	if len(subscribers) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for _, handle := range subscribers {
		wg.Add(1)
		go func(handle *ConnectionHandle) {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				t.messagesFailed.Add(1)
				t.log.Warn().Err(err).
					Uint64("connection_id", handle.ID()).
					Str("event", key.String()).
					Msg("notification skipped")
				return
			}

			if err := handle.Send(payload); err != nil {
				t.messagesFailed.Add(1)
				t.log.Warn().Err(err).
					Uint64("connection_id", handle.ID()).
					Str("event", key.String()).
					Msg("failed to deliver notification")
				return
			}
			t.messagesSent.Add(1)
			delivered.Add(1)
		}(handle)
	}
	wg.Wait()

	return int(delivered.Load())
}

// NotifyFrame encodes frame once and notifies the subscribers of key.
func (t *SubscriptionTable) NotifyFrame(ctx context.Context, key domain.EventKey, frame ServerFrame) (int, error) {
	payload, err := EncodeFrame(frame)
	if err != nil {
		return 0, err
	}
	return t.Notify(ctx, key, payload), nil
}

// Subscribers returns a snapshot of the handles subscribed to key.
func (t *SubscriptionTable) Subscribers(key domain.EventKey) []*ConnectionHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	subscribers := t.events[key]
	if len(subscribers) == 0 {
		return nil
	}
	out := make([]*ConnectionHandle, 0, len(subscribers))
	for _, handle := range subscribers {
		out = append(out, handle)
	}
	return out
}

// Keys returns the number of event keys with at least one subscriber.
func (t *SubscriptionTable) Keys() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
