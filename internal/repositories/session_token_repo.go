package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
)

type sessionTokenRow struct {
	Token    string `db:"token"`
	Username string `db:"username"`
	Created  int64  `db:"created"`
	Expires  int64  `db:"expires"`
	Used     bool   `db:"used"`
}

// SessionTokenRepository persists one-time bridge tokens
type SessionTokenRepository struct {
	db *database.DB
}

func NewSessionTokenRepository(db *database.DB) *SessionTokenRepository {
	return &SessionTokenRepository{db: db}
}

// Create stores a new unused token
func (r *SessionTokenRepository) Create(ctx context.Context, tok *models.SessionToken) error {
	query := r.db.Rebind(`
		INSERT INTO session_tokens (token, username, created, expires, used)
		VALUES (?, ?, ?, ?, FALSE)
	`)

	_, err := r.db.X.ExecContext(ctx, query,
		tok.Token,
		tok.Username,
		toMillis(tok.CreatedAt),
		toMillis(tok.ExpiresAt),
	)
	return database.MapError(err)
}

// Consume marks the token used and returns its username. Unknown, used and
// expired tokens all yield models.ErrTokenInvalid; expired rows are deleted.
func (r *SessionTokenRepository) Consume(ctx context.Context, token string, now time.Time) (string, error) {
	var (
		username string
		expired  bool
	)

	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var row sessionTokenRow
		err := tx.GetContext(ctx, &row,
			tx.Rebind(`SELECT token, username, created, expires, used FROM session_tokens WHERE token = ?`), token)
		if err != nil {
			err = database.MapError(err)
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrTokenInvalid
			}
			return err
		}

		if toMillis(now) > row.Expires {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM session_tokens WHERE token = ?`), token); err != nil {
				return database.MapError(err)
			}
			expired = true
			return nil
		}

		result, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE session_tokens SET used = TRUE WHERE token = ? AND used = FALSE`), token)
		if err != nil {
			return database.MapError(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return models.ErrTokenInvalid
		}

		username = row.Username
		return nil
	})

	if err != nil {
		return "", err
	}
	if expired {
		return "", models.ErrTokenInvalid
	}
	return username, nil
}

// DeleteExpired removes tokens past their expiry at now
func (r *SessionTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.X.ExecContext(ctx, r.db.Rebind(`DELETE FROM session_tokens WHERE expires < ?`), toMillis(now))
	if err != nil {
		return 0, database.MapError(err)
	}
	return result.RowsAffected()
}
