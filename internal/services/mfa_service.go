package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
)

// MFADeviceRepository stores encrypted TOTP secrets
type MFADeviceRepository interface {
	Upsert(ctx context.Context, device *models.MFADevice) error
	GetByUsername(ctx context.Context, username string) (*models.MFADevice, error)
	UpdateLastUsedAt(ctx context.Context, username string, at time.Time) error
	Delete(ctx context.Context, username string) error
}

// SecurityEventLogger is the audit surface used outside the login path
type SecurityEventLogger interface {
	LogSecurityEvent(ctx context.Context, eventType string, details map[string]any)
}

// MFAService handles TOTP enrolment and verification for the second stage
type MFAService struct {
	repo   MFADeviceRepository
	totp   *auth.TOTPManager
	audit  SecurityEventLogger
	clock  Clock
	logger *slog.Logger
}

// NewMFAService creates a new MFA service
func NewMFAService(repo MFADeviceRepository, totp *auth.TOTPManager, audit SecurityEventLogger, logger *slog.Logger) *MFAService {
	return &MFAService{
		repo:   repo,
		totp:   totp,
		audit:  audit,
		clock:  systemClock,
		logger: logger,
	}
}

// SetClock replaces the time source (for testing)
func (s *MFAService) SetClock(clock Clock) {
	s.clock = clock
}

// Enroll creates (or replaces) the user's TOTP secret. The plaintext secret
// and QR code are returned once and never stored.
func (s *MFAService) Enroll(ctx context.Context, username string) (*models.MFAEnrollment, error) {
	e, err := s.totp.Enroll(username)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, err
	}

	device := &models.MFADevice{
		Username:        username,
		SecretEncrypted: e.Encrypted,
		Nonce:           e.Nonce,
		CreatedAt:       s.clock(),
	}
	if err := s.repo.Upsert(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to store MFA device: %w", err)
	}

	s.audit.LogSecurityEvent(ctx, models.AuditEventMFAEnrolled, map[string]any{
		"username": username,
	})

	return &models.MFAEnrollment{
		Username: username,
		Secret:   e.Secret,
		URL:      e.URL,
		QRCode:   e.QRCodePNG,
	}, nil
}

// IsEnrolled reports whether username has a second factor
func (s *MFAService) IsEnrolled(ctx context.Context, username string) (bool, error) {
	_, err := s.repo.GetByUsername(ctx, username)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Verify checks a TOTP code. Unknown users and wrong codes are (false, nil);
// a replayed code is (false, models.ErrCodeReplay).
func (s *MFAService) Verify(ctx context.Context, username, code string) (bool, error) {
	device, err := s.repo.GetByUsername(ctx, username)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	secret, err := s.totp.DecryptSecret(device.SecretEncrypted, device.Nonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.Any("error", err))
		return false, err
	}

	now := s.clock()
	ok, err := s.totp.Validate(string(secret), code, device.LastUsedAt, now)
	if err != nil || !ok {
		return false, err
	}

	if err := s.repo.UpdateLastUsedAt(ctx, username, now); err != nil {
		// Without a recorded use the replay check cannot hold, so fail closed.
		return false, fmt.Errorf("failed to record TOTP use: %w", err)
	}
	return true, nil
}

// Disable removes the user's second factor
func (s *MFAService) Disable(ctx context.Context, username string) error {
	err := s.repo.Delete(ctx, username)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrNotEnrolled
	}
	if err != nil {
		return fmt.Errorf("failed to remove MFA device: %w", err)
	}

	s.audit.LogSecurityEvent(ctx, models.AuditEventMFADisabled, map[string]any{
		"username": username,
	})
	return nil
}
