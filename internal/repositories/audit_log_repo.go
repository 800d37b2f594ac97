package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
)

type auditLogRow struct {
	ID        string              `db:"id"`
	Timestamp int64               `db:"timestamp"`
	Username  *string             `db:"username"`
	Action    string              `db:"action"`
	Success   *bool               `db:"success"`
	IPAddress *string             `db:"ip_address"`
	Details   models.AuditDetails `db:"details"`
}

func (row *auditLogRow) toModel() *models.AuditLog {
	return &models.AuditLog{
		ID:        row.ID,
		Timestamp: fromMillis(row.Timestamp),
		Username:  row.Username,
		Action:    row.Action,
		Success:   row.Success,
		IPAddress: row.IPAddress,
		Details:   row.Details,
	}
}

// AuditFilter narrows List results. Zero values match everything.
type AuditFilter struct {
	Username string
	Action   string
	Since    time.Time
	Limit    int
}

// AuditLogRepository persists the queryable copy of the audit trail
type AuditLogRepository struct {
	db *database.DB
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create inserts an audit row
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	query := r.db.Rebind(`
		INSERT INTO audit_log (id, timestamp, username, action, success, ip_address, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.X.ExecContext(ctx, query,
		log.ID,
		toMillis(log.Timestamp),
		log.Username,
		log.Action,
		log.Success,
		log.IPAddress,
		log.Details,
	)
	return database.MapError(err)
}

// List returns matching rows, newest first
func (r *AuditLogRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	if filter.Username != "" {
		where = append(where, "username = ?")
		args = append(args, filter.Username)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, toMillis(filter.Since))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, timestamp, username, action, success, ip_address, details FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	var rows []auditLogRow
	if err := r.db.X.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, database.MapError(err)
	}

	logs := make([]*models.AuditLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, rows[i].toModel())
	}
	return logs, nil
}

// DeleteBefore removes rows older than cutoff
func (r *AuditLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.X.ExecContext(ctx, r.db.Rebind(`DELETE FROM audit_log WHERE timestamp < ?`), toMillis(cutoff))
	if err != nil {
		return 0, database.MapError(err)
	}
	return result.RowsAffected()
}
