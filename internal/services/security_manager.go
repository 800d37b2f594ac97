package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/internal/repositories"
)

// RetentionPolicy bounds how long each kind of record is kept
type RetentionPolicy struct {
	AuditMaxAge   time.Duration
	RateLimitIdle time.Duration
	AttemptMaxAge time.Duration
}

// DefaultRetentionPolicy: audit 30 days, idle rate limits 1 hour, failed
// attempt counters 30 days
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		AuditMaxAge:   30 * 24 * time.Hour,
		RateLimitIdle: time.Hour,
		AttemptMaxAge: 30 * 24 * time.Hour,
	}
}

// CleanupReport counts the rows each cleanup pass removed
type CleanupReport struct {
	AuditLogs      int64 `json:"audit_logs"`
	RateLimits     int64 `json:"rate_limits"`
	SessionTokens  int64 `json:"session_tokens"`
	FailedAttempts int64 `json:"failed_attempts"`
}

// Total returns the number of rows removed
func (r CleanupReport) Total() int64 {
	return r.AuditLogs + r.RateLimits + r.SessionTokens + r.FailedAttempts
}

// SecurityManager owns the durable store: schema, repositories and
// retention
type SecurityManager struct {
	db     *database.DB
	policy RetentionPolicy
	clock  Clock

	rateLimits     *repositories.RateLimitRepository
	sessionTokens  *repositories.SessionTokenRepository
	auditLogs      *repositories.AuditLogRepository
	failedAttempts *repositories.FailedAttemptRepository
	mfaDevices     *repositories.MFADeviceRepository

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSecurityManager(db *database.DB, policy RetentionPolicy, m *metrics.Metrics, logger *slog.Logger) *SecurityManager {
	return &SecurityManager{
		db:             db,
		policy:         policy,
		clock:          systemClock,
		rateLimits:     repositories.NewRateLimitRepository(db),
		sessionTokens:  repositories.NewSessionTokenRepository(db),
		auditLogs:      repositories.NewAuditLogRepository(db),
		failedAttempts: repositories.NewFailedAttemptRepository(db),
		mfaDevices:     repositories.NewMFADeviceRepository(db),
		metrics:        m,
		logger:         logger,
	}
}

// SetClock replaces the time source (for testing)
func (m *SecurityManager) SetClock(clock Clock) {
	m.clock = clock
}

// Init creates or upgrades the schema. It is idempotent; an error must
// abort startup.
func (m *SecurityManager) Init(ctx context.Context) error {
	if err := m.db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to initialise security store: %w", err)
	}
	return nil
}

// CleanupOldRecords applies the retention policy. Each table is cleaned
// independently; failures are joined and the remaining tables still run.
func (m *SecurityManager) CleanupOldRecords(ctx context.Context) (CleanupReport, error) {
	now := m.clock()

	var (
		report CleanupReport
		errs   []error
	)

	steps := []struct {
		table string
		dest  *int64
		run   func() (int64, error)
	}{
		{"audit_log", &report.AuditLogs, func() (int64, error) {
			return m.auditLogs.DeleteBefore(ctx, now.Add(-m.policy.AuditMaxAge))
		}},
		{"rate_limits", &report.RateLimits, func() (int64, error) {
			return m.rateLimits.DeleteIdleBefore(ctx, now.Add(-m.policy.RateLimitIdle))
		}},
		{"session_tokens", &report.SessionTokens, func() (int64, error) {
			return m.sessionTokens.DeleteExpired(ctx, now)
		}},
		{"failed_attempts", &report.FailedAttempts, func() (int64, error) {
			return m.failedAttempts.DeleteBefore(ctx, now.Add(-m.policy.AttemptMaxAge))
		}},
	}

	for _, step := range steps {
		n, err := step.run()
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", step.table, err))
			continue
		}
		*step.dest = n
		m.metrics.CleanupDeleted.WithLabelValues(step.table).Add(float64(n))
	}

	if len(errs) > 0 {
		m.metrics.CleanupRuns.WithLabelValues("error").Inc()
		return report, errors.Join(errs...)
	}
	m.metrics.CleanupRuns.WithLabelValues("ok").Inc()
	return report, nil
}

func (m *SecurityManager) RateLimits() *repositories.RateLimitRepository         { return m.rateLimits }
func (m *SecurityManager) SessionTokens() *repositories.SessionTokenRepository   { return m.sessionTokens }
func (m *SecurityManager) AuditLogs() *repositories.AuditLogRepository           { return m.auditLogs }
func (m *SecurityManager) FailedAttempts() *repositories.FailedAttemptRepository { return m.failedAttempts }
func (m *SecurityManager) MFADevices() *repositories.MFADeviceRepository         { return m.mfaDevices }
