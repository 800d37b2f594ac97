package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/internal/models"
)

// RateLimitRepository stores fixed-window counters. Get returns
// models.ErrNotFound for keys never seen (or pruned).
type RateLimitRepository interface {
	Get(ctx context.Context, key string) (*models.AttemptRecord, error)
	Upsert(ctx context.Context, rec *models.AttemptRecord) error
	Delete(ctx context.Context, key string) error
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimitConfig holds configuration for rate limiting behavior
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitService is a fixed-window limiter keyed by an arbitrary string
// (a username, or username:ip).
type RateLimitService struct {
	mu      sync.Mutex
	repo    RateLimitRepository
	config  RateLimitConfig
	clock   Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// evictionGuard is implemented by bounded repositories that can spare
// selected records from capacity eviction
type evictionGuard interface {
	SetRetain(retain func(models.AttemptRecord) bool)
}

// NewRateLimitService creates a new RateLimitService. A bounded repository
// is told to keep denying windows so key churn cannot lift a lockout.
func NewRateLimitService(repo RateLimitRepository, config RateLimitConfig, m *metrics.Metrics, logger *slog.Logger) *RateLimitService {
	s := &RateLimitService{
		repo:    repo,
		config:  config,
		clock:   systemClock,
		metrics: m,
		logger:  logger,
	}
	if g, ok := repo.(evictionGuard); ok {
		g.SetRetain(s.denying)
	}
	return s
}

// SetClock replaces the time source (for testing)
func (s *RateLimitService) SetClock(clock Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// UpdateConfig applies new limits. Existing windows keep their start time.
func (s *RateLimitService) UpdateConfig(config RateLimitConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
}

// IsAllowed records an attempt for key and reports whether it may proceed.
// When denied, retryAfter is the time left in the window, rounded up to
// whole seconds and never less than one second.
func (s *RateLimitService) IsAllowed(ctx context.Context, key string) (bool, *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	rec, err := s.repo.Get(ctx, key)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to read rate limit state", slog.Any("error", err))
		// Fail open for availability - store errors shouldn't lock out the console
		return true, nil
	}

	switch {
	case rec == nil || rec.Elapsed(now) >= s.config.Window:
		rec = &models.AttemptRecord{Key: key, Count: 1, WindowStart: now, LastUpdate: now}
	case rec.Count >= s.config.MaxAttempts:
		retryAfter := retryAfterFor(s.config.Window - rec.Elapsed(now))
		s.metrics.RateLimitDenials.Inc()
		s.logger.Warn("rate limit exceeded",
			slog.Int("attempts", rec.Count),
			slog.Duration("retry_after", retryAfter))
		return false, &retryAfter
	default:
		rec.Count++
		rec.LastUpdate = now
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		s.logger.Error("failed to persist rate limit state", slog.Any("error", err))
	}
	return true, nil
}

// Reset clears the counter for key
func (s *RateLimitService) Reset(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Delete(ctx, key); err != nil {
		s.logger.Error("failed to reset rate limit state", slog.Any("error", err))
	}
}

// Prune drops records idle for longer than idle
func (s *RateLimitService) Prune(ctx context.Context, idle time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo.DeleteIdleBefore(ctx, s.clock().Add(-idle))
}

// denying reports whether rec is an exhausted, still-open window. The
// repository calls it from Upsert, which only runs under s.mu.
func (s *RateLimitService) denying(rec models.AttemptRecord) bool {
	return rec.Count >= s.config.MaxAttempts && rec.Elapsed(s.clock()) < s.config.Window
}

func retryAfterFor(remaining time.Duration) time.Duration {
	secs := remaining / time.Second
	if remaining%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
