package persistence

import (
	"context"

	"feed_server/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// FollowAdapter implements out.FollowRepository on the follow table.
type FollowAdapter struct {
	db *sqlx.DB
}

// NewFollowAdapter creates a new follow adapter.
func NewFollowAdapter(db *sqlx.DB) *FollowAdapter {
	return &FollowAdapter{db: db}
}

// FollowedIDs returns the ids of the accounts followerID follows.
func (a *FollowAdapter) FollowedIDs(ctx context.Context, followerID int64) ([]int64, error) {
	query := `
		SELECT COALESCE(array_agg(followed_id ORDER BY followed_id), '{}')
		FROM follow
		WHERE follower_id = $1
	`

	var ids pq.Int64Array
	if err := a.db.GetContext(ctx, &ids, query, followerID); err != nil {
		return nil, err
	}
	return []int64(ids), nil
}

// Follow inserts the relationship unless it already exists.
func (a *FollowAdapter) Follow(ctx context.Context, followerID, followedID int64) (bool, error) {
	if followerID == followedID {
		return false, ErrInvalidInput
	}

	query := `
		INSERT INTO follow (follower_id, followed_id)
		SELECT $1, $2
		WHERE NOT EXISTS (
			SELECT 1 FROM follow WHERE follower_id = $1 AND followed_id = $2
		)
	`

	result, err := a.db.ExecContext(ctx, query, followerID, followedID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Unfollow deletes the relationship.
func (a *FollowAdapter) Unfollow(ctx context.Context, followerID, followedID int64) (bool, error) {
	query := `DELETE FROM follow WHERE follower_id = $1 AND followed_id = $2`

	result, err := a.db.ExecContext(ctx, query, followerID, followedID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

var _ out.FollowRepository = (*FollowAdapter)(nil)
