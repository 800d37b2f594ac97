package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
)

type rateLimitRow struct {
	Key         string `db:"key"`
	Count       int    `db:"count"`
	WindowStart int64  `db:"window_start"`
	LastUpdate  int64  `db:"last_update"`
}

// RateLimitRepository persists fixed-window counters in the rate_limits table
type RateLimitRepository struct {
	db *database.DB
}

func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// Get returns the record for key or models.ErrNotFound
func (r *RateLimitRepository) Get(ctx context.Context, key string) (*models.AttemptRecord, error) {
	query := r.db.Rebind(`SELECT key, count, window_start, last_update FROM rate_limits WHERE key = ?`)

	var row rateLimitRow
	if err := r.db.X.GetContext(ctx, &row, query, key); err != nil {
		return nil, database.MapError(err)
	}

	return &models.AttemptRecord{
		Key:         row.Key,
		Count:       row.Count,
		WindowStart: fromMillis(row.WindowStart),
		LastUpdate:  fromMillis(row.LastUpdate),
	}, nil
}

// Upsert writes the record, replacing any existing row for the key
func (r *RateLimitRepository) Upsert(ctx context.Context, rec *models.AttemptRecord) error {
	query := r.db.Rebind(`
		INSERT INTO rate_limits (key, count, window_start, last_update)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			count = excluded.count,
			window_start = excluded.window_start,
			last_update = excluded.last_update
	`)

	_, err := r.db.X.ExecContext(ctx, query,
		rec.Key,
		rec.Count,
		toMillis(rec.WindowStart),
		toMillis(rec.LastUpdate),
	)
	return database.MapError(err)
}

// Delete removes the record for key. Deleting a missing key is not an error.
func (r *RateLimitRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.X.ExecContext(ctx, r.db.Rebind(`DELETE FROM rate_limits WHERE key = ?`), key)
	return database.MapError(err)
}

// DeleteIdleBefore removes records not updated since cutoff
func (r *RateLimitRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.X.ExecContext(ctx, r.db.Rebind(`DELETE FROM rate_limits WHERE last_update < ?`), toMillis(cutoff))
	if err != nil {
		return 0, database.MapError(err)
	}
	return result.RowsAffected()
}
