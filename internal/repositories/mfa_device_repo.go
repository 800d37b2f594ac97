package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
)

type mfaDeviceRow struct {
	Username        string `db:"username"`
	SecretEncrypted []byte `db:"secret_encrypted"`
	Nonce           []byte `db:"nonce"`
	CreatedAt       int64  `db:"created_at"`
	LastUsedAt      *int64 `db:"last_used_at"`
}

// MFADeviceRepository stores one encrypted TOTP secret per username
type MFADeviceRepository struct {
	db *database.DB
}

func NewMFADeviceRepository(db *database.DB) *MFADeviceRepository {
	return &MFADeviceRepository{db: db}
}

// Upsert enrols a device, replacing any previous secret for the user
func (r *MFADeviceRepository) Upsert(ctx context.Context, device *models.MFADevice) error {
	query := r.db.Rebind(`
		INSERT INTO mfa_devices (username, secret_encrypted, nonce, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			secret_encrypted = excluded.secret_encrypted,
			nonce = excluded.nonce,
			created_at = excluded.created_at,
			last_used_at = excluded.last_used_at
	`)

	_, err := r.db.X.ExecContext(ctx, query,
		device.Username,
		device.SecretEncrypted,
		device.Nonce,
		toMillis(device.CreatedAt),
		toNullMillis(device.LastUsedAt),
	)
	return database.MapError(err)
}

// GetByUsername returns the user's device or models.ErrNotFound
func (r *MFADeviceRepository) GetByUsername(ctx context.Context, username string) (*models.MFADevice, error) {
	query := r.db.Rebind(`
		SELECT username, secret_encrypted, nonce, created_at, last_used_at
		FROM mfa_devices
		WHERE username = ?
	`)

	var row mfaDeviceRow
	if err := r.db.X.GetContext(ctx, &row, query, username); err != nil {
		return nil, database.MapError(err)
	}

	return &models.MFADevice{
		Username:        row.Username,
		SecretEncrypted: row.SecretEncrypted,
		Nonce:           row.Nonce,
		CreatedAt:       fromMillis(row.CreatedAt),
		LastUsedAt:      fromNullMillis(row.LastUsedAt),
	}, nil
}

// UpdateLastUsedAt records a successful verification for replay prevention
func (r *MFADeviceRepository) UpdateLastUsedAt(ctx context.Context, username string, at time.Time) error {
	result, err := r.db.X.ExecContext(ctx,
		r.db.Rebind(`UPDATE mfa_devices SET last_used_at = ? WHERE username = ?`), toMillis(at), username)
	if err != nil {
		return database.MapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes the user's device. ErrNotFound when there is none.
func (r *MFADeviceRepository) Delete(ctx context.Context, username string) error {
	result, err := r.db.X.ExecContext(ctx, r.db.Rebind(`DELETE FROM mfa_devices WHERE username = ?`), username)
	if err != nil {
		return database.MapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
