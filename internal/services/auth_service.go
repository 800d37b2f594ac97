package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/BradenHooton/sentinel/pkg/wire"
)

// Limiter bucket prefix for second factor codes
const mfaKeyPrefix = "mfa:"

// CredentialBackend verifies a username/password pair for a login service
type CredentialBackend interface {
	Authenticate(ctx context.Context, username, password, service string) (bool, error)
}

// CredentialLookup resolves a username to its encoded reference hash
type CredentialLookup interface {
	Lookup(username string) (string, bool)
}

// FailedAttemptRecorder persists per (username, ip) failure counters
type FailedAttemptRecorder interface {
	RecordFailure(ctx context.Context, username, ipAddress string, at time.Time) error
	Clear(ctx context.Context, username, ipAddress string) error
}

// SecondFactorVerifier is the MFA surface the login flow needs
type SecondFactorVerifier interface {
	IsEnrolled(ctx context.Context, username string) (bool, error)
	Verify(ctx context.Context, username, code string) (bool, error)
}

// AuthAuditor is the audit surface the login flow writes to
type AuthAuditor interface {
	LogLoginAttempt(ctx context.Context, username string, success bool, ipAddress string, details map[string]any)
	LogSecurityEvent(ctx context.Context, eventType string, details map[string]any)
}

// AuthConfig holds the tunables of the login flow
type AuthConfig struct {
	KDFIterations int
	TokenTTL      time.Duration
	PAMService    string
	Env           string
}

// AuthDeps bundles the collaborators of AuthService. MFA, FailedAttempts
// and Alerts may be nil.
type AuthDeps struct {
	Credentials    CredentialLookup
	Validator      *SecurePasswordValidator
	Limiter        RateLimiter
	Sessions       *SessionService
	MFA            SecondFactorVerifier
	FailedAttempts FailedAttemptRecorder
	Audit          AuthAuditor
	Alerts         AlertNotifier
	Timing         *auth.TimingDelay
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// AuthService orchestrates a login: credential lookup, validation behind
// the rate limiter, audit, timing equalisation and the optional second
// factor.
type AuthService struct {
	credentials CredentialLookup
	validator   *SecurePasswordValidator
	limiter     RateLimiter
	sessions    *SessionService
	mfa         SecondFactorVerifier
	attempts    FailedAttemptRecorder
	audit       AuthAuditor
	alerts      AlertNotifier
	timing      *auth.TimingDelay
	config      AuthConfig
	validate    *validator.Validate
	metrics     *metrics.Metrics
	logger      *slog.Logger
	clock       Clock

	dummyOnce sync.Once
	dummyHash string

	alertWG sync.WaitGroup
}

var _ CredentialBackend = (*AuthService)(nil)

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthDeps, config AuthConfig) *AuthService {
	if config.KDFIterations < pkgauth.MinIterations {
		config.KDFIterations = pkgauth.DefaultIterations
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = NoopAlertNotifier{}
	}
	return &AuthService{
		credentials: deps.Credentials,
		validator:   deps.Validator,
		limiter:     deps.Limiter,
		sessions:    deps.Sessions,
		mfa:         deps.MFA,
		attempts:    deps.FailedAttempts,
		audit:       deps.Audit,
		alerts:      alerts,
		timing:      deps.Timing,
		config:      config,
		validate:    validator.New(),
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		clock:       systemClock,
	}
}

// SetClock replaces the time source (for testing)
func (s *AuthService) SetClock(clock Clock) {
	s.clock = clock
}

// Login runs the password stage for a host login attempt
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) models.AuthResult {
	return s.login(ctx, req, s.config.PAMService)
}

// Authenticate satisfies CredentialBackend. The service name is recorded
// in the audit trail. Users with a second factor enrolled are refused here
// since the adapter has no way to carry the code.
func (s *AuthService) Authenticate(ctx context.Context, username, password, service string) (bool, error) {
	result := s.login(ctx, models.LoginRequest{
		Username:  username,
		Password:  password,
		IPAddress: wire.LocalAddress,
	}, service)
	return result.Outcome == models.OutcomeAuthenticated, nil
}

func (s *AuthService) login(ctx context.Context, req models.LoginRequest, service string) models.AuthResult {
	start := time.Now()
	if req.IPAddress == "" {
		req.IPAddress = wire.LocalAddress
	}
	result := models.AuthResult{Username: req.Username}

	if err := s.validate.Struct(req); err != nil {
		s.logger.Warn("rejected malformed login request", slog.Any("error", err))
		s.metrics.AuthAttempts.WithLabelValues("password", string(models.OutcomeInvalidCredentials)).Inc()
		s.timing.WaitFrom(start, false)
		result.Outcome = models.OutcomeInvalidCredentials
		return result
	}

	refHash, known := s.credentials.Lookup(req.Username)
	if !known {
		refHash = s.dummy()
	}

	verdict := s.validator.Validate(ctx, req.Username, req.Password, refHash)
	details := map[string]any{
		"stage":   "password",
		"service": service,
	}

	switch {
	case verdict.Verdict == models.VerdictRateLimited:
		result.Outcome = models.OutcomeRateLimited
		result.RetryAfter = verdict.RetryAfter
		s.rateLimited(ctx, req.Username, req.IPAddress, verdict.RetryAfter, details)

	case verdict.OK() && known:
		s.clearFailures(ctx, req.Username, req.IPAddress)
		result.Outcome = models.OutcomeAuthenticated

		enrolled, err := s.secondFactorEnrolled(ctx, req.Username)
		if err != nil {
			// The second factor cannot be skipped when its state is unknown.
			s.logger.Error("failed to check second factor enrolment", slog.Any("error", err))
			result.Outcome = models.OutcomeInvalidCredentials
			details["reason"] = "mfa_unavailable"
			s.audit.LogLoginAttempt(ctx, req.Username, false, req.IPAddress, details)
			break
		}
		if enrolled {
			token, err := s.sessions.CreateToken(ctx, req.Username, s.config.TokenTTL)
			if err != nil {
				s.logger.Error("failed to issue second factor token", slog.Any("error", err))
				result.Outcome = models.OutcomeInvalidCredentials
				details["reason"] = "token_unavailable"
				s.audit.LogLoginAttempt(ctx, req.Username, false, req.IPAddress, details)
				break
			}
			result.Outcome = models.OutcomeSecondFactorRequired
			result.Token = token
			details["second_factor"] = "required"
		}
		s.audit.LogLoginAttempt(ctx, req.Username, true, req.IPAddress, details)

	default:
		result.Outcome = models.OutcomeInvalidCredentials
		s.recordFailure(ctx, req.Username, req.IPAddress)
		details["reason"] = "invalid_credentials"
		details["known_user"] = known
		s.audit.LogLoginAttempt(ctx, req.Username, false, req.IPAddress, details)
	}

	s.metrics.AuthAttempts.WithLabelValues("password", string(result.Outcome)).Inc()
	s.logger.Info("login attempt",
		slog.String("outcome", string(result.Outcome)),
		pkglogger.UsernameAttr(req.Username, s.config.Env),
		slog.String("ip_address", req.IPAddress))

	s.timing.WaitFrom(start, result.Success())
	return result
}

// CompleteSecondFactor consumes the bridge token issued by Login and
// verifies the TOTP code for its user. A consumed token cannot be retried;
// the host restarts at the password stage.
func (s *AuthService) CompleteSecondFactor(ctx context.Context, token, code, ipAddress string) models.AuthResult {
	start := time.Now()
	if ipAddress == "" {
		ipAddress = wire.LocalAddress
	}
	result := models.AuthResult{Outcome: models.OutcomeInvalidCredentials}
	defer func() {
		s.metrics.AuthAttempts.WithLabelValues("second_factor", string(result.Outcome)).Inc()
		s.timing.WaitFrom(start, result.Success())
	}()

	if s.mfa == nil {
		return result
	}

	username, ok := s.sessions.ValidateToken(ctx, token)
	if !ok {
		s.audit.LogSecurityEvent(ctx, models.AuditEventSecondFactor, map[string]any{
			"success":    false,
			"ip_address": ipAddress,
			"reason":     "invalid_token",
		})
		return result
	}
	result.Username = username

	key := mfaKeyPrefix + username
	if allowed, retryAfter := s.limiter.IsAllowed(ctx, key); !allowed {
		result.Outcome = models.OutcomeRateLimited
		if retryAfter != nil {
			result.RetryAfter = *retryAfter
		}
		s.rateLimited(ctx, username, ipAddress, result.RetryAfter, map[string]any{"stage": "second_factor"})
		return result
	}

	details := map[string]any{"stage": "second_factor"}
	valid, err := s.mfa.Verify(ctx, username, code)
	switch {
	case errors.Is(err, models.ErrCodeReplay):
		details["reason"] = "replay"
	case err != nil:
		s.logger.Error("failed to verify second factor", slog.Any("error", err))
		details["reason"] = "verification_error"
	case !valid:
		details["reason"] = "invalid_code"
	}

	if valid && err == nil {
		s.limiter.Reset(ctx, key)
		result.Outcome = models.OutcomeAuthenticated
		s.audit.LogLoginAttempt(ctx, username, true, ipAddress, details)
		return result
	}

	s.recordFailure(ctx, username, ipAddress)
	s.audit.LogLoginAttempt(ctx, username, false, ipAddress, details)
	return result
}

// CheckPassword is the live-validation path. Every check is a password
// guess and draws from the same limiter budget as Login. It never issues
// tokens and leaves the failed attempt table alone.
func (s *AuthService) CheckPassword(ctx context.Context, username, password, ipAddress string) models.AuthResult {
	if ipAddress == "" {
		ipAddress = wire.LocalAddress
	}
	result := models.AuthResult{Username: username, Outcome: models.OutcomeInvalidCredentials}
	if username == "" {
		return result
	}

	refHash, known := s.credentials.Lookup(username)
	if !known {
		refHash = s.dummy()
	}

	verdict := s.validator.Validate(ctx, username, password, refHash)
	details := map[string]any{"mode": "live"}

	switch {
	case verdict.Verdict == models.VerdictRateLimited:
		result.Outcome = models.OutcomeRateLimited
		result.RetryAfter = verdict.RetryAfter
		s.rateLimited(ctx, username, ipAddress, verdict.RetryAfter, details)
	case verdict.OK() && known:
		result.Outcome = models.OutcomeAuthenticated
		s.audit.LogLoginAttempt(ctx, username, true, ipAddress, details)
	default:
		details["reason"] = "invalid_credentials"
		s.audit.LogLoginAttempt(ctx, username, false, ipAddress, details)
	}

	s.metrics.AuthAttempts.WithLabelValues("live", string(result.Outcome)).Inc()
	return result
}

// Wait blocks until in-flight lockout alerts have been sent
func (s *AuthService) Wait() {
	s.alertWG.Wait()
}

func (s *AuthService) rateLimited(ctx context.Context, username, ipAddress string, retryAfter time.Duration, details map[string]any) {
	details["reason"] = "rate_limited"
	s.audit.LogLoginAttempt(ctx, username, false, ipAddress, details)
	s.audit.LogSecurityEvent(ctx, models.AuditEventRateLimitExceeded, map[string]any{
		"username":    username,
		"ip_address":  ipAddress,
		"retry_after": models.AuthResult{RetryAfter: retryAfter}.RetryAfterSeconds(),
	})

	alert := LockoutAlert{
		Username:   username,
		IPAddress:  ipAddress,
		RetryAfter: retryAfter,
		At:         s.clock(),
	}
	s.alertWG.Add(1)
	go func() {
		defer s.alertWG.Done()
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.alerts.NotifyLockout(alertCtx, alert); err != nil {
			s.logger.Warn("failed to send lockout alert", slog.Any("error", err))
		}
	}()
}

func (s *AuthService) secondFactorEnrolled(ctx context.Context, username string) (bool, error) {
	if s.mfa == nil {
		return false, nil
	}
	return s.mfa.IsEnrolled(ctx, username)
}

func (s *AuthService) recordFailure(ctx context.Context, username, ipAddress string) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.RecordFailure(ctx, username, ipAddress, s.clock()); err != nil {
		s.logger.Warn("failed to record failed attempt", slog.Any("error", err))
	}
}

func (s *AuthService) clearFailures(ctx context.Context, username, ipAddress string) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.Clear(ctx, username, ipAddress); err != nil {
		s.logger.Warn("failed to clear failed attempts", slog.Any("error", err))
	}
}

// dummy returns a throwaway hash at the configured cost so unknown users
// take as long to reject as known ones
func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		secret, err := pkgauth.GenerateSessionToken()
		if err == nil {
			s.dummyHash, err = pkgauth.HashPasswordWithIterations(secret, s.config.KDFIterations)
		}
		if err != nil {
			s.logger.Error("failed to derive dummy hash", slog.Any("error", err))
		}
	})
	return s.dummyHash
}
