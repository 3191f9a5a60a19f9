// Package post provides the publish-post use case.
package post

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"feed_server/core/domain"
	"feed_server/core/port/in"
	"feed_server/core/port/out"
	"feed_server/pkg/apperr"
	"feed_server/pkg/logger"
)

// Limits bounds the trimmed length of a post, in characters.
type Limits struct {
	TitleMin   int
	TitleMax   int
	ContentMin int
	ContentMax int
}

// DefaultLimits returns the limits enforced when none are configured.
func DefaultLimits() Limits {
	return Limits{TitleMin: 3, TitleMax: 50, ContentMin: 10, ContentMax: 1000}
}

// Service stores posts and notifies the live followers of their author.
type Service struct {
	posts    out.PostRepository
	realtime out.RealtimePort
	producer out.EventProducer
	limits   Limits
	log      *logger.Logger
}

// NewService wires the post use cases. When producer is non-nil, published
// posts are fanned out by the stream consumer instead of inline.
func NewService(posts out.PostRepository, realtime out.RealtimePort, producer out.EventProducer, limits Limits, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		posts:    posts,
		realtime: realtime,
		producer: producer,
		limits:   limits,
		log:      log.WithField("component", "post_service"),
	}
}

// Publish validates and stores a post, then announces it.
func (s *Service) Publish(ctx context.Context, authorID int64, post *domain.NewPost) (*domain.NotificationPost, error) {
	if post == nil {
		return nil, apperr.BadRequest("missing post")
	}

	title := strings.TrimSpace(post.Title)
	content := strings.TrimSpace(post.Content)
	if err := s.validate(authorID, title, content); err != nil {
		return nil, err
	}

	created, err := s.posts.Create(ctx, authorID, title, content)
	if err != nil {
		s.log.WithError(err).Warn("inserting post of author %d failed", authorID)
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.DatabaseError("insert post", err)
	}

	if s.producer != nil {
		_, err := s.producer.PublishPostPublished(ctx, created)
		if err == nil {
			return created, nil
		}
		s.log.WithError(err).Warn("enqueue post.published failed, notifying inline")
	}

	if _, err := s.Announce(ctx, created); err != nil {
		// the post is stored; a failed fan-out is not the author's error
		s.log.WithError(err).Error("announcing post %d failed", created.ID)
	}
	return created, nil
}

// Announce notifies the live followers of the post's author. It returns the
// number of connections reached.
func (s *Service) Announce(ctx context.Context, post *domain.NotificationPost) (int, error) {
	if post == nil {
		return 0, apperr.BadRequest("missing post")
	}

	delivered, err := s.realtime.Notify(ctx, domain.NewPostNotificationKey(post.Author.ID), post)
	if err != nil {
		return 0, err
	}
	s.log.Debug("post %d of %d delivered to %d connections", post.ID, post.Author.ID, delivered)
	return delivered, nil
}

func (s *Service) validate(authorID int64, title, content string) error {
	if n := utf8.RuneCountInString(title); n < s.limits.TitleMin || n > s.limits.TitleMax {
		s.log.Warn("user %d sent a title of wrong length: %d/%d", authorID, n, s.limits.TitleMax)
		return apperr.InvalidInput("title", fmt.Sprintf("must contain between %d and %d characters", s.limits.TitleMin, s.limits.TitleMax))
	}
	if n := utf8.RuneCountInString(content); n < s.limits.ContentMin || n > s.limits.ContentMax {
		s.log.Warn("user %d sent a content of wrong length: %d/%d", authorID, n, s.limits.ContentMax)
		return apperr.InvalidInput("content", fmt.Sprintf("must contain between %d and %d characters", s.limits.ContentMin, s.limits.ContentMax))
	}
	return nil
}

var _ in.PostService = (*Service)(nil)
