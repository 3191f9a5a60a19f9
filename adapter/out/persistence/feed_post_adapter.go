package persistence

import (
	"context"
	"errors"

	"feed_server/core/domain"
	"feed_server/core/port/out"
	"feed_server/pkg/apperr"

	"github.com/jackc/pgx/v5"
)

// rowQuerier is the subset of *pgxpool.Pool used by PostAdapter.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostAdapter implements out.PostRepository with pgx.
type PostAdapter struct {
	pool rowQuerier
}

// NewPostAdapter creates a new post adapter.
func NewPostAdapter(pool rowQuerier) *PostAdapter {
	return &PostAdapter{pool: pool}
}

// Create inserts a post and returns it joined with its author.
func (a *PostAdapter) Create(ctx context.Context, authorID int64, title, content string) (*domain.NotificationPost, error) {
	query := `
		WITH inserted AS (
			INSERT INTO post (author_id, title, content, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())
			RETURNING id, author_id, title, content, created_at
		)
		SELECT i.id, i.title, i.content, i.created_at, a.id, a.username, a.permission
		FROM inserted i
		JOIN account a ON a.id = i.author_id
	`

	var post domain.NotificationPost
	err := a.pool.QueryRow(ctx, query, authorID, title, content).Scan(
		&post.ID,
		&post.Title,
		&post.Content,
		&post.CreatedAt,
		&post.Author.ID,
		&post.Author.Username,
		&post.Author.Permission,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("author").WithError(ErrNotFound)
		}
		return nil, err
	}
	return &post, nil
}

var _ out.PostRepository = (*PostAdapter)(nil)
