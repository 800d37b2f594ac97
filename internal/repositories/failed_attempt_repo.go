package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
)

type failedAttemptRow struct {
	Username     string `db:"username"`
	IPAddress    string `db:"ip_address"`
	LastAttempt  int64  `db:"last_attempt"`
	AttemptCount int    `db:"attempt_count"`
}

// FailedAttemptRepository keeps per (username, ip_address) failure counters
type FailedAttemptRepository struct {
	db *database.DB
}

func NewFailedAttemptRepository(db *database.DB) *FailedAttemptRepository {
	return &FailedAttemptRepository{db: db}
}

// RecordFailure increments the counter for the pair, creating it if needed
func (r *FailedAttemptRepository) RecordFailure(ctx context.Context, username, ipAddress string, at time.Time) error {
	query := r.db.Rebind(`
		INSERT INTO failed_attempts (username, ip_address, last_attempt, attempt_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (username, ip_address) DO UPDATE SET
			last_attempt = excluded.last_attempt,
			attempt_count = failed_attempts.attempt_count + 1
	`)

	_, err := r.db.X.ExecContext(ctx, query, username, ipAddress, toMillis(at))
	return database.MapError(err)
}

// Clear removes the counter after a successful login
func (r *FailedAttemptRepository) Clear(ctx context.Context, username, ipAddress string) error {
	_, err := r.db.X.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM failed_attempts WHERE username = ? AND ip_address = ?`), username, ipAddress)
	return database.MapError(err)
}

// Get returns the counter for the pair or models.ErrNotFound
func (r *FailedAttemptRepository) Get(ctx context.Context, username, ipAddress string) (*models.FailedAttempt, error) {
	query := r.db.Rebind(`
		SELECT username, ip_address, last_attempt, attempt_count
		FROM failed_attempts
		WHERE username = ? AND ip_address = ?
	`)

	var row failedAttemptRow
	if err := r.db.X.GetContext(ctx, &row, query, username, ipAddress); err != nil {
		return nil, database.MapError(err)
	}

	return &models.FailedAttempt{
		Username:     row.Username,
		IPAddress:    row.IPAddress,
		LastAttempt:  fromMillis(row.LastAttempt),
		AttemptCount: row.AttemptCount,
	}, nil
}

// DeleteBefore removes counters whose last attempt is older than cutoff
func (r *FailedAttemptRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.X.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM failed_attempts WHERE last_attempt < ?`), toMillis(cutoff))
	if err != nil {
		return 0, database.MapError(err)
	}
	return result.RowsAffected()
}
