package services

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/pkg/auth"
)

// RateLimiter is the subset of RateLimitService the validator consults
type RateLimiter interface {
	IsAllowed(ctx context.Context, key string) (bool, *time.Duration)
	Reset(ctx context.Context, key string)
}

// SecurePasswordValidator checks a password against an encoded reference
// hash behind the rate limiter. The comparison is constant time.
type SecurePasswordValidator struct {
	limiter RateLimiter
	failed  *lru.Cache[string, int]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSecurePasswordValidator tracks informational failure counters for at
// most maxTracked usernames.
func NewSecurePasswordValidator(limiter RateLimiter, maxTracked int, m *metrics.Metrics, logger *slog.Logger) (*SecurePasswordValidator, error) {
	failed, err := lru.New[string, int](maxTracked)
	if err != nil {
		return nil, err
	}
	return &SecurePasswordValidator{
		limiter: limiter,
		failed:  failed,
		metrics: m,
		logger:  logger,
	}, nil
}

// Validate consults the limiter first; a denial returns RateLimited
// without hashing. Otherwise the password is derived and compared against
// referenceHash. Success resets the limiter for username.
func (v *SecurePasswordValidator) Validate(ctx context.Context, username, password, referenceHash string) models.ValidationResult {
	allowed, retryAfter := v.limiter.IsAllowed(ctx, username)
	if !allowed {
		result := models.ValidationResult{Verdict: models.VerdictRateLimited}
		if retryAfter != nil {
			result.RetryAfter = *retryAfter
		}
		return result
	}

	start := time.Now()
	ok, err := auth.ComparePassword(referenceHash, password)
	v.metrics.KDFDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		v.logger.Error("unusable reference hash", slog.Any("error", err))
		ok = false
	}

	if ok && password != "" {
		v.limiter.Reset(ctx, username)
		v.failed.Remove(username)
		return models.ValidationResult{Verdict: models.VerdictValid}
	}

	count, _ := v.failed.Get(username)
	v.failed.Add(username, count+1)
	return models.ValidationResult{Verdict: models.VerdictInvalid}
}

// FailedAttempts returns the local failure counter for username
func (v *SecurePasswordValidator) FailedAttempts(username string) int {
	count, _ := v.failed.Peek(username)
	return count
}
