package out

import (
	"context"

	"feed_server/core/domain"
)

// FollowRepository - follow relationships
type FollowRepository interface {
	FollowGraph

	// Follow returns false when the relationship already existed
	Follow(ctx context.Context, followerID, followedID int64) (bool, error)

	// Unfollow returns false when there was no relationship
	Unfollow(ctx context.Context, followerID, followedID int64) (bool, error)
}

// AccountRepository - account lookups needed by the realtime routes.
// IDByUsername returns apperr.NotFound when no account matches.
type AccountRepository interface {
	IDByUsername(ctx context.Context, username string) (int64, error)
}

// PostRepository - post storage
type PostRepository interface {
	// Create stores the post and returns it joined with its author
	Create(ctx context.Context, authorID int64, title, content string) (*domain.NotificationPost, error)
}

// FollowCache - cached followed ids
type FollowCache interface {
	GetFollowed(ctx context.Context, followerID int64) ([]int64, bool, error)
	// Generation is read before the store so that SetFollowed can skip
	// writing a list that an Invalidate made stale.
	Generation(ctx context.Context, followerID int64) (int64, error)
	SetFollowed(ctx context.Context, followerID int64, ids []int64, gen int64) error
	Invalidate(ctx context.Context, followerID int64) error
}
