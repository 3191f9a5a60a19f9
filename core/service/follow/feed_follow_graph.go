// Package follow provides the follow graph used to bootstrap realtime
// subscriptions and the follow/unfollow use cases.
package follow

import (
	"context"
	"errors"
	"strconv"
	"time"

	"feed_server/core/port/out"
	"feed_server/pkg/apperr"
	"feed_server/pkg/logger"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// GraphConfig holds the breaker settings of the follow graph.
type GraphConfig struct {
	BreakerName        string
	MaxHalfOpen        uint32
	Interval           time.Duration
	OpenTimeout        time.Duration
	ConsecutiveFailure uint32
}

// DefaultGraphConfig returns the settings used in production.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		BreakerName:        "follow-graph",
		MaxHalfOpen:        3,
		Interval:           60 * time.Second,
		OpenTimeout:        15 * time.Second,
		ConsecutiveFailure: 5,
	}
}

// Graph answers "whom does this account follow" for connection bootstrap.
// Lookups go cache → singleflight → circuit breaker → store.
type Graph struct {
	store  out.FollowGraph
	cache  out.FollowCache
	flight singleflight.Group
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

// NewGraph wraps store. cache may be nil.
func NewGraph(store out.FollowGraph, cache out.FollowCache, cfg GraphConfig, log *logger.Logger) *Graph {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithField("component", "follow_graph")

	settings := gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.MaxHalfOpen,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	}

	return &Graph{
		store: store,
		cache: cache,
		cb:    gobreaker.NewCircuitBreaker(settings),
		log:   log,
	}
}

// FollowedIDs returns the ids followerID follows.
func (g *Graph) FollowedIDs(ctx context.Context, followerID int64) ([]int64, error) {
	if g.cache != nil {
		ids, found, err := g.cache.GetFollowed(ctx, followerID)
		if err != nil {
			g.log.WithError(err).Debug("follow cache read failed for %d", followerID)
		} else if found {
			return ids, nil
		}
	}

	v, err, shared := g.flight.Do(strconv.FormatInt(followerID, 10), func() (any, error) {
		return g.load(ctx, followerID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperr.Unavailable("follow graph", err)
		}
		return nil, err
	}

	ids := v.([]int64)
	if shared {
		// callers must not share the backing array
		ids = append([]int64(nil), ids...)
	}
	return ids, nil
}

// load reads the store and fills the cache. The generation is read first,
// so a follow committed after the read bumps it and the stale list is not
// cached.
func (g *Graph) load(ctx context.Context, followerID int64) (any, error) {
	var gen int64
	cacheable := false
	if g.cache != nil {
		var err error
		if gen, err = g.cache.Generation(ctx, followerID); err != nil {
			g.log.WithError(err).Debug("follow cache generation read failed for %d", followerID)
		} else {
			cacheable = true
		}
	}

	v, err := g.cb.Execute(func() (any, error) {
		return g.store.FollowedIDs(ctx, followerID)
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := g.cache.SetFollowed(ctx, followerID, v.([]int64), gen); err != nil {
			g.log.WithError(err).Debug("follow cache write failed for %d", followerID)
		}
	}
	return v, nil
}

// Invalidate drops the cached followed ids of followerID.
func (g *Graph) Invalidate(ctx context.Context, followerID int64) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Invalidate(ctx, followerID); err != nil {
		g.log.WithError(err).Warn("follow cache invalidation failed for %d", followerID)
	}
}

// BreakerState reports the state of the circuit breaker.
func (g *Graph) BreakerState() gobreaker.State {
	return g.cb.State()
}

var _ out.FollowGraph = (*Graph)(nil)
