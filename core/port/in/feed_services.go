package in

import (
	"context"

	"feed_server/core/domain"
)

// PostService - publish posts and notify followers
type PostService interface {
	Publish(ctx context.Context, authorID int64, post *domain.NewPost) (*domain.NotificationPost, error)

	// Deliver a post that was stored elsewhere
	Announce(ctx context.Context, post *domain.NotificationPost) (int, error)
}

// FollowService - follow graph mutations applied to live connections
type FollowService interface {
	Follow(ctx context.Context, followerID int64, username string) (*domain.Follow, error)
	Unfollow(ctx context.Context, followerID int64, username string) (*domain.Follow, error)

	// Subscribe live connections of a follower created elsewhere
	ApplyFollow(ctx context.Context, follow domain.Follow) int
}
