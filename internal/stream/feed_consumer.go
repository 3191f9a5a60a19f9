package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"feed_server/core/domain"
	"feed_server/core/port/in"
	"feed_server/pkg/logger"
)

const (
	reclaimEvery = 30 * time.Second
	reclaimIdle  = time.Minute
)

// jobStream is the part of RedisStream the consumer drives.
type jobStream interface {
	CreateGroup(ctx context.Context, stream string) error
	Consume(ctx context.Context, stream, consumer string, handler func(id string, data []byte) error)
	Reclaim(ctx context.Context, stream, consumer string, minIdle time.Duration, handler func(id string, data []byte) error) (int, error)
	Pending(ctx context.Context, stream string) (int64, error)
}

// Consumer applies stream jobs to the realtime engine of this process.
type Consumer struct {
	stream  jobStream
	posts   in.PostService
	follows in.FollowService
	name    string
	log     *logger.Logger
}

func NewConsumer(stream jobStream, posts in.PostService, follows in.FollowService, name string, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Default()
	}
	return &Consumer{
		stream:  stream,
		posts:   posts,
		follows: follows,
		name:    name,
		log:     log.WithField("component", "stream_consumer").WithField("consumer", name),
	}
}

// Start creates the consumer groups and consumes every stream in the
// background until ctx is done. Entries left pending by a failed handler or
// a dead consumer are reclaimed periodically.
func (c *Consumer) Start(ctx context.Context) {
	streams := []string{StreamPosts, StreamFollows}
	for _, s := range streams {
		if err := c.stream.CreateGroup(ctx, s); err != nil {
			c.log.WithError(err).Error("failed to create group for %s", s)
		}
	}

	for _, s := range streams {
		go c.stream.Consume(ctx, s, c.name, c.handler(ctx))
		go c.reclaimLoop(ctx, s)
	}
}

func (c *Consumer) handler(ctx context.Context) func(id string, data []byte) error {
	return func(id string, data []byte) error {
		return c.HandleMessage(ctx, data)
	}
}

func (c *Consumer) reclaimLoop(ctx context.Context, stream string) {
	ticker := time.NewTicker(reclaimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reclaim(ctx, stream)
		}
	}
}

// reclaim retries the idle pending entries of stream once. It returns how
// many entries were taken over.
func (c *Consumer) reclaim(ctx context.Context, stream string) int {
	pending, err := c.stream.Pending(ctx, stream)
	if err != nil {
		c.log.WithError(err).Warn("pending count failed for %s", stream)
		return 0
	}
	if pending == 0 {
		return 0
	}

	reclaimed, err := c.stream.Reclaim(ctx, stream, c.name, reclaimIdle, c.handler(ctx))
	if err != nil {
		c.log.WithError(err).Warn("reclaim failed for %s", stream)
	}
	if reclaimed > 0 {
		c.log.Info("reclaimed %d of %d pending entries on %s", reclaimed, pending, stream)
	}
	return reclaimed
}

// HandleMessage decodes one stream entry and applies it.
func (c *Consumer) HandleMessage(ctx context.Context, data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("unmarshal job: %w", err)
	}
	return c.Handle(ctx, &job)
}

// Handle dispatches a job by type.
func (c *Consumer) Handle(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobPostPublished:
		var post domain.NotificationPost
		if err := json.Unmarshal(job.Payload, &post); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", job.Type, err)
		}
		delivered, err := c.posts.Announce(ctx, &post)
		if err != nil {
			return err
		}
		c.log.Debug("job %s: post %d delivered to %d connections", job.ID, post.ID, delivered)
		return nil

	case JobFollowCreated:
		var follow domain.Follow
		if err := json.Unmarshal(job.Payload, &follow); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", job.Type, err)
		}
		c.follows.ApplyFollow(ctx, follow)
		return nil

	default:
		// unknown jobs are acknowledged and dropped
		c.log.Warn("job %s has unknown type %q", job.ID, job.Type)
		return nil
	}
}
