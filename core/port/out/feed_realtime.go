package out

import (
	"context"

	"feed_server/core/domain"
)

// RealtimePort - push notifications to connected clients
type RealtimePort interface {
	// Encode content as a frame for key and deliver it to every subscriber
	Notify(ctx context.Context, key domain.EventKey, content any) (int, error)

	// Subscribe every live connection of identity to key
	SubscribeLive(ctx context.Context, identity domain.Identity, key domain.EventKey) int

	// Unsubscribe every live connection of identity from key
	UnsubscribeLive(ctx context.Context, identity domain.Identity, key domain.EventKey) int

	// Number of distinct connected accounts
	ConnectedUsers() int64
}

// FollowGraph - followed accounts lookup used to bootstrap subscriptions
type FollowGraph interface {
	FollowedIDs(ctx context.Context, followerID int64) ([]int64, error)
}
