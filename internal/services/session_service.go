package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/pkg/auth"
)

// DefaultTokenTTL is used when CreateToken is called without a ttl
const DefaultTokenTTL = 300 * time.Second

// SessionTokenRepository stores one-time tokens. Consume must mark the
// token used atomically and return models.ErrTokenInvalid for unknown,
// used or expired tokens.
type SessionTokenRepository interface {
	Create(ctx context.Context, tok *models.SessionToken) error
	Consume(ctx context.Context, token string, now time.Time) (string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionService issues and consumes the bridge tokens between
// authentication stages
type SessionService struct {
	repo       SessionTokenRepository
	defaultTTL time.Duration
	clock      Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewSessionService(repo SessionTokenRepository, defaultTTL time.Duration, m *metrics.Metrics, logger *slog.Logger) *SessionService {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTokenTTL
	}
	return &SessionService{
		repo:       repo,
		defaultTTL: defaultTTL,
		clock:      systemClock,
		metrics:    m,
		logger:     logger,
	}
}

// SetClock replaces the time source (for testing)
func (s *SessionService) SetClock(clock Clock) {
	s.clock = clock
}

// CreateToken issues a token for username valid for ttl (default TTL when
// ttl <= 0)
func (s *SessionService) CreateToken(ctx context.Context, username string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		return "", err
	}

	now := s.clock()
	tok := &models.SessionToken{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.Create(ctx, tok); err != nil {
		return "", fmt.Errorf("failed to store session token: %w", err)
	}

	s.metrics.TokensIssued.Inc()
	return token, nil
}

// ValidateToken consumes token and returns its username. It succeeds at
// most once per token.
func (s *SessionService) ValidateToken(ctx context.Context, token string) (string, bool) {
	if token == "" {
		s.metrics.TokenValidations.WithLabelValues("invalid").Inc()
		return "", false
	}

	username, err := s.repo.Consume(ctx, token, s.clock())
	if err != nil {
		if !errors.Is(err, models.ErrTokenInvalid) {
			s.logger.Error("failed to validate session token", slog.Any("error", err))
			s.metrics.TokenValidations.WithLabelValues("error").Inc()
			return "", false
		}
		s.metrics.TokenValidations.WithLabelValues("invalid").Inc()
		return "", false
	}

	s.metrics.TokenValidations.WithLabelValues("valid").Inc()
	return username, true
}

// CleanupExpired removes tokens past their expiry
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.clock())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up session tokens: %w", err)
	}
	return n, nil
}
