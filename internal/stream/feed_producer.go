package stream

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"feed_server/core/domain"
	"feed_server/core/port/out"

	"github.com/google/uuid"
)

const (
	JobPostPublished = "post.published"
	JobFollowCreated = "follow.created"
)

type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func newJob(jobType string, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   data,
		CreatedAt: time.Now(),
	}, nil
}

type publisher interface {
	Publish(ctx context.Context, stream string, data any) (string, error)
}

type Producer struct {
	stream publisher
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

func (p *Producer) PublishPostPublished(ctx context.Context, post *domain.NotificationPost) (string, error) {
	job, err := newJob(JobPostPublished, post)
	if err != nil {
		return "", err
	}
	return p.stream.Publish(ctx, StreamPosts, job)
}

func (p *Producer) PublishFollowCreated(ctx context.Context, follow domain.Follow) (string, error) {
	job, err := newJob(JobFollowCreated, follow)
	if err != nil {
		return "", err
	}
	return p.stream.Publish(ctx, StreamFollows, job)
}

var _ out.EventProducer = (*Producer)(nil)
