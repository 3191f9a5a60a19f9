package persistence

import (
	"context"
	"strconv"
	"time"

	"feed_server/core/port/out"
	"feed_server/pkg/cache"
)

// FollowCache caches followed ids per follower in Redis.
type FollowCache struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

// NewFollowCache creates a follow cache. Entries expire after ttl so that
// follows written by other services are eventually picked up.
func NewFollowCache(redisCache *cache.RedisCache, ttl time.Duration) *FollowCache {
	return &FollowCache{cache: redisCache, ttl: ttl}
}

func followCacheKey(followerID int64) string {
	return "followed:" + strconv.FormatInt(followerID, 10)
}

func followGenerationKey(followerID int64) string {
	return "followed:gen:" + strconv.FormatInt(followerID, 10)
}

// GetFollowed returns the cached ids. found is false on a miss.
func (c *FollowCache) GetFollowed(ctx context.Context, followerID int64) ([]int64, bool, error) {
	var ids []int64
	found, err := c.cache.GetJSON(ctx, followCacheKey(followerID), &ids)
	if err != nil || !found {
		return nil, false, err
	}
	if ids == nil {
		// negative entry: follows nobody
		ids = []int64{}
	}
	return ids, true, nil
}

// Generation returns the invalidation counter of followerID.
func (c *FollowCache) Generation(ctx context.Context, followerID int64) (int64, error) {
	return c.cache.Counter(ctx, followGenerationKey(followerID))
}

// SetFollowed stores ids for followerID unless the entry was invalidated
// after gen was read.
func (c *FollowCache) SetFollowed(ctx context.Context, followerID int64, ids []int64, gen int64) error {
	if ids == nil {
		ids = []int64{}
	}
	_, err := c.cache.SetJSONIfCounter(ctx, followCacheKey(followerID), ids, c.ttl, followGenerationKey(followerID), gen)
	return err
}

// Invalidate drops the entry of followerID and bumps its generation.
func (c *FollowCache) Invalidate(ctx context.Context, followerID int64) error {
	// the counter outlives the entry so a lookup started before it expired
	// still sees the bump
	return c.cache.Bump(ctx, followGenerationKey(followerID), c.ttl+time.Hour, followCacheKey(followerID))
}

var _ out.FollowCache = (*FollowCache)(nil)
