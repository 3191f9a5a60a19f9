package follow

import (
	"context"
	"strings"

	"feed_server/core/domain"
	"feed_server/core/port/in"
	"feed_server/core/port/out"
	"feed_server/pkg/apperr"
	"feed_server/pkg/logger"
)

// Service persists follow relationships and applies them to the live
// connections of the follower.
type Service struct {
	follows  out.FollowRepository
	accounts out.AccountRepository
	graph    *Graph
	realtime out.RealtimePort
	producer out.EventProducer
	log      *logger.Logger
}

// NewService wires the follow use cases. When producer is non-nil, new
// follows are applied to live connections by the stream consumer instead of
// inline.
func NewService(
	follows out.FollowRepository,
	accounts out.AccountRepository,
	graph *Graph,
	realtime out.RealtimePort,
	producer out.EventProducer,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		follows:  follows,
		accounts: accounts,
		graph:    graph,
		realtime: realtime,
		producer: producer,
		log:      log.WithField("component", "follow_service"),
	}
}

// Follow makes followerID follow the account named username.
func (s *Service) Follow(ctx context.Context, followerID int64, username string) (*domain.Follow, error) {
	followedID, err := s.resolve(ctx, followerID, username)
	if err != nil {
		return nil, err
	}

	created, err := s.follows.Follow(ctx, followerID, followedID)
	if err != nil {
		return nil, apperr.DatabaseError("follow", err)
	}
	if !created {
		return nil, apperr.AlreadyExists("follow")
	}
	s.graph.Invalidate(ctx, followerID)

	follow := domain.Follow{FollowerID: followerID, FollowedID: followedID}

	if s.producer != nil {
		_, err := s.producer.PublishFollowCreated(ctx, follow)
		if err == nil {
			return &follow, nil
		}
		s.log.WithError(err).Warn("enqueue follow.created failed, applying inline")
	}

	s.ApplyFollow(ctx, follow)
	return &follow, nil
}

// Unfollow removes the relationship and stops live delivery of the
// unfollowed account's posts.
func (s *Service) Unfollow(ctx context.Context, followerID int64, username string) (*domain.Follow, error) {
	followedID, err := s.resolve(ctx, followerID, username)
	if err != nil {
		return nil, err
	}

	removed, err := s.follows.Unfollow(ctx, followerID, followedID)
	if err != nil {
		return nil, apperr.DatabaseError("unfollow", err)
	}
	if !removed {
		return nil, apperr.NotFound("follow")
	}
	s.graph.Invalidate(ctx, followerID)

	n := s.realtime.UnsubscribeLive(ctx, domain.Identity(followerID), domain.NewPostNotificationKey(followedID))
	s.log.Info("user %d unfollowed %d (%d live connections)", followerID, followedID, n)

	return &domain.Follow{FollowerID: followerID, FollowedID: followedID}, nil
}

// ApplyFollow subscribes every live connection of the follower to the posts
// of the followed account. It returns the number of connections subscribed.
func (s *Service) ApplyFollow(ctx context.Context, follow domain.Follow) int {
	n := s.realtime.SubscribeLive(ctx, domain.Identity(follow.FollowerID), domain.NewPostNotificationKey(follow.FollowedID))
	s.log.Info("user %d followed %d (%d live connections)", follow.FollowerID, follow.FollowedID, n)
	return n
}

func (s *Service) resolve(ctx context.Context, followerID int64, username string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, apperr.InvalidInput("username", "required")
	}

	followedID, err := s.accounts.IDByUsername(ctx, username)
	if err != nil {
		if apperr.IsAppError(err) {
			return 0, err
		}
		return 0, apperr.DatabaseError("account lookup", err)
	}
	if followedID == followerID {
		return 0, apperr.BadRequest("you cannot follow yourself")
	}
	return followedID, nil
}

var _ in.FollowService = (*Service)(nil)
