package out

import (
	"context"

	"feed_server/core/domain"
)

// EventProducer - enqueue events for the in-process stream consumer
type EventProducer interface {
	PublishPostPublished(ctx context.Context, post *domain.NotificationPost) (string, error)
	PublishFollowCreated(ctx context.Context, follow domain.Follow) (string, error)
}
