// Package stream moves realtime jobs through Redis streams so that events
// produced outside the websocket process reach its registry.
package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"feed_server/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	StreamPosts   = "feed:posts"
	StreamFollows = "feed:follows"

	maxDeliveries = 5
)

// RedisStream wraps XADD / XREADGROUP / XACK for one consumer group.
type RedisStream struct {
	client *redis.Client
	group  string
	block  time.Duration
	log    *logger.Logger
}

func NewRedisStream(client *redis.Client, group string, log *logger.Logger) *RedisStream {
	if log == nil {
		log = logger.Default()
	}
	return &RedisStream{
		client: client,
		group:  group,
		block:  5 * time.Second,
		log:    log.WithField("component", "redis_stream"),
	}
}

func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Consume reads new entries of stream until ctx is done. Entries whose
// handler succeeds are acknowledged; failed ones stay pending.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler func(id string, data []byte) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    s.block,
		}).Result()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				s.log.WithError(err).Warn("stream read error on %s", stream)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				s.deliver(ctx, st.Stream, msg, handler)
			}
		}
	}
}

// Reclaim takes over entries of stream that stayed pending for at least
// minIdle, whichever consumer read them, and runs handler on them again.
// An entry that keeps failing is dropped after maxDeliveries attempts.
func (s *RedisStream) Reclaim(ctx context.Context, stream, consumer string, minIdle time.Duration, handler func(id string, data []byte) error) (int, error) {
	reclaimed := 0
	start := "0-0"
	for {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    s.group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    50,
		}).Result()
		if err != nil {
			return reclaimed, err
		}

		for _, msg := range msgs {
			reclaimed++
			if err := s.deliver(ctx, stream, msg, handler); err != nil {
				s.dropIfExhausted(ctx, stream, msg.ID)
			}
		}

		if next == "0-0" || next == "" {
			return reclaimed, nil
		}
		start = next
	}
}

// deliver runs handler on one entry and acknowledges it on success. The
// handler error is returned; the entry then stays pending.
func (s *RedisStream) deliver(ctx context.Context, stream string, msg redis.XMessage, handler func(id string, data []byte) error) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		s.log.Warn("entry %s on %s has no data field", msg.ID, stream)
		s.Ack(ctx, stream, msg.ID)
		return nil
	}

	if err := handler(msg.ID, []byte(data)); err != nil {
		s.log.WithError(err).Error("handler failed for %s", msg.ID)
		return err
	}

	if err := s.Ack(ctx, stream, msg.ID); err != nil {
		s.log.WithError(err).Warn("ack failed for %s", msg.ID)
	}
	return nil
}

func (s *RedisStream) dropIfExhausted(ctx context.Context, stream, id string) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  s.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}
	if pending[0].RetryCount < maxDeliveries {
		return
	}

	s.log.Error("dropping %s on %s after %d deliveries", id, stream, pending[0].RetryCount)
	if err := s.Ack(ctx, stream, id); err != nil {
		s.log.WithError(err).Warn("ack failed for %s", id)
	}
}

func (s *RedisStream) Ack(ctx context.Context, stream, id string) error {
	return s.client.XAck(ctx, stream, s.group, id).Err()
}

// Pending returns how many entries of stream were read by the group but not
// acknowledged.
func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}
