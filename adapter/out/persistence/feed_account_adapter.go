package persistence

import (
	"context"
	"database/sql"
	"errors"

	"feed_server/core/port/out"
	"feed_server/pkg/apperr"

	"github.com/jmoiron/sqlx"
)

// AccountAdapter implements out.AccountRepository.
type AccountAdapter struct {
	db *sqlx.DB
}

// NewAccountAdapter creates a new account adapter.
func NewAccountAdapter(db *sqlx.DB) *AccountAdapter {
	return &AccountAdapter{db: db}
}

// IDByUsername resolves an active account by username.
func (a *AccountAdapter) IDByUsername(ctx context.Context, username string) (int64, error) {
	query := `SELECT id FROM account WHERE username = $1 AND NOT is_banned`

	var id int64
	if err := a.db.GetContext(ctx, &id, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.NotFound("user").WithError(ErrNotFound)
		}
		return 0, err
	}
	return id, nil
}

var _ out.AccountRepository = (*AccountAdapter)(nil)
