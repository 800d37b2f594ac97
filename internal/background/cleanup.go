package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/services"
)

// RecordCleaner applies the durable retention policy
type RecordCleaner interface {
	CleanupOldRecords(ctx context.Context) (services.CleanupReport, error)
}

// TokenCleaner removes expired bridge tokens
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// LimiterPruner drops idle rate-limit windows
type LimiterPruner interface {
	Prune(ctx context.Context, idle time.Duration) (int64, error)
}

// Tasks lists what a cleanup pass runs. Nil members are skipped: with the
// store backend the store covers tokens and windows; with the memory
// backend Tokens and Limiter prune process state.
type Tasks struct {
	Records       RecordCleaner
	Tokens        TokenCleaner
	Limiter       LimiterPruner
	RateLimitIdle time.Duration
	// Flush runs after every pass (metrics textfile)
	Flush func() error
}

// CleanupManager periodically applies retention to security state
type CleanupManager struct {
	tasks    Tasks
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(tasks Tasks, logger *slog.Logger, interval time.Duration) *CleanupManager {
	if tasks.RateLimitIdle <= 0 {
		tasks.RateLimitIdle = time.Hour
	}
	return &CleanupManager{
		tasks:    tasks,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a pass immediately and then every interval until Stop or ctx
// cancellation. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass and returns what the store pass
// removed. Failures are logged; later tasks still run.
func (cm *CleanupManager) RunOnce(ctx context.Context) services.CleanupReport {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var report services.CleanupReport

	if cm.tasks.Records != nil {
		r, err := cm.tasks.Records.CleanupOldRecords(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to clean up security records", slog.Any("error", err))
		}
		report = r
	}

	if cm.tasks.Tokens != nil {
		n, err := cm.tasks.Tokens.CleanupExpired(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to clean up session tokens", slog.Any("error", err))
		}
		report.SessionTokens += n
	}

	if cm.tasks.Limiter != nil {
		n, err := cm.tasks.Limiter.Prune(cleanupCtx, cm.tasks.RateLimitIdle)
		if err != nil {
			cm.logger.Error("failed to prune rate limit windows", slog.Any("error", err))
		}
		report.RateLimits += n
	}

	if total := report.Total(); total > 0 {
		cm.logger.Info("security state cleanup completed",
			slog.Int64("rows_deleted", total),
			slog.Int64("audit_logs", report.AuditLogs),
			slog.Int64("rate_limits", report.RateLimits),
			slog.Int64("session_tokens", report.SessionTokens),
			slog.Int64("failed_attempts", report.FailedAttempts))
	}

	if cm.tasks.Flush != nil {
		if err := cm.tasks.Flush(); err != nil {
			cm.logger.Warn("failed to flush metrics", slog.Any("error", err))
		}
	}
	return report
}

// Stop signals the cleanup manager to stop. It is safe to call twice.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
