package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/background"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/services"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// store is the durable half of the runtime, enough for maintenance commands
type store struct {
	db      *database.DB
	manager *services.SecurityManager
	metrics *metrics.Metrics
}

func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*store, error) {
	db, err := database.NewConnection(ctx, &cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	manager := services.NewSecurityManager(db, services.RetentionPolicy{
		AuditMaxAge:   days(cfg.Security.AuditRetentionDays),
		RateLimitIdle: cfg.Security.RateLimitIdle,
		AttemptMaxAge: days(cfg.Security.AttemptRetentionDays),
	}, m, logger)

	if err := manager.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &store{db: db, manager: manager, metrics: m}, nil
}

// runtime holds every long-lived component of `sentinel serve`
type runtime struct {
	*store
	cfg    *config.Config
	logger *slog.Logger

	auditFile   *pkglogger.AuditLogger
	audit       *services.AuditService
	limiter     *services.RateLimitService
	sessions    *services.SessionService
	credentials *auth.CredentialStore
	mfa         *services.MFAService
	authn       *services.AuthService
	live        *services.LiveValidator
	cleanup     *background.CleanupManager
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	m := metrics.New()

	st, err := openStore(ctx, cfg, m, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{store: st, cfg: cfg, logger: logger}

	if err := rt.build(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) build(ctx context.Context) error {
	cfg, logger, m := rt.cfg, rt.logger, rt.metrics

	auditFile, err := pkglogger.NewAuditLogger(pkglogger.AuditFileConfig{
		Path:       cfg.Audit.LogPath,
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
		Compress:   cfg.Audit.Compress,
	})
	if err != nil {
		return err
	}
	rt.auditFile = auditFile
	rt.audit = services.NewAuditService(auditFile, rt.manager.AuditLogs(), m, logger)

	tasks := background.Tasks{
		Records:       rt.manager,
		RateLimitIdle: cfg.Security.RateLimitIdle,
		Flush:         func() error { return m.WriteTextfile(cfg.Metrics.TextfilePath) },
	}

	var (
		limiterRepo  services.RateLimitRepository
		sessionsRepo services.SessionTokenRepository
	)
	switch cfg.Security.StateBackend {
	case "memory":
		memLimits, err := repositories.NewMemoryRateLimitRepository(cfg.Security.MaxTrackedKeys, m.RateLimitEvictions.Inc)
		if err != nil {
			return err
		}
		limiterRepo = memLimits
		sessionsRepo = repositories.NewMemorySessionTokenRepository()
	default:
		limiterRepo = rt.manager.RateLimits()
		sessionsRepo = rt.manager.SessionTokens()
	}

	rt.limiter = services.NewRateLimitService(limiterRepo, services.RateLimitConfig{
		MaxAttempts: cfg.Settings.MaxAttempts,
		Window:      cfg.Settings.Window(),
	}, m, logger)
	rt.sessions = services.NewSessionService(sessionsRepo, cfg.Settings.TokenTTL(), m, logger)

	if cfg.Security.StateBackend == "memory" {
		tasks.Tokens = rt.sessions
		tasks.Limiter = rt.limiter
	}

	validator, err := services.NewSecurePasswordValidator(rt.limiter, cfg.Security.MaxTrackedKeys, m, logger)
	if err != nil {
		return err
	}

	rt.credentials, err = auth.LoadCredentialStore(cfg.Security.CredentialFile)
	if err != nil {
		return err
	}

	var secondFactor services.SecondFactorVerifier
	if cfg.MFA.Enabled {
		rt.mfa, err = newMFAService(cfg, rt.manager, rt.audit, logger)
		if err != nil {
			return err
		}
		secondFactor = rt.mfa
	}

	var alerts services.AlertNotifier = services.NoopAlertNotifier{}
	if cfg.Alerts.Enabled {
		ses, err := services.NewSESAlertService(ctx, cfg.Alerts.AWSRegion, cfg.Alerts.FromAddress,
			cfg.Alerts.Recipients, cfg.Log.Env, m, logger)
		if err != nil {
			return err
		}
		alerts = ses
	}

	rt.authn = services.NewAuthService(services.AuthDeps{
		Credentials:    rt.credentials,
		Validator:      validator,
		Limiter:        rt.limiter,
		Sessions:       rt.sessions,
		MFA:            secondFactor,
		FailedAttempts: rt.manager.FailedAttempts(),
		Audit:          rt.audit,
		Alerts:         alerts,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelayMs:   cfg.Security.TimingDelayBaseMs,
			RandomDelayMs: cfg.Security.TimingDelayRandomMs,
		}),
		Metrics: m,
		Logger:  logger,
	}, services.AuthConfig{
		KDFIterations: cfg.Security.KDFIterations,
		TokenTTL:      cfg.Settings.TokenTTL(),
		PAMService:    cfg.Security.PAMService,
		Env:           cfg.Log.Env,
	})

	rt.live = services.NewLiveValidator(rt.authn, cfg.Settings.ValidationDelay(), logger)
	rt.cleanup = background.NewCleanupManager(tasks, logger, cfg.Security.CleanupInterval)
	return nil
}

// applySettings pushes hot-reloadable settings into running components
func (rt *runtime) applySettings(cfg *config.Config) {
	rt.limiter.UpdateConfig(services.RateLimitConfig{
		MaxAttempts: cfg.Settings.MaxAttempts,
		Window:      cfg.Settings.Window(),
	})
	rt.live.SetDelay(cfg.Settings.ValidationDelay())
}

// Close flushes metrics and releases the audit file and the store
func (rt *runtime) Close() error {
	var errs []error
	if rt.cleanup != nil {
		rt.cleanup.Stop()
	}
	if rt.live != nil {
		rt.live.Close()
	}
	if rt.authn != nil {
		rt.authn.Wait()
	}
	if err := rt.metrics.WriteTextfile(rt.cfg.Metrics.TextfilePath); err != nil {
		errs = append(errs, err)
	}
	if rt.auditFile != nil {
		if err := rt.auditFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}
	if err := rt.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func newMFAService(cfg *config.Config, manager *services.SecurityManager, audit services.SecurityEventLogger, logger *slog.Logger) (*services.MFAService, error) {
	key, err := cfg.MFA.Key()
	if err != nil {
		return nil, err
	}
	tm, err := auth.NewTOTPManager(key, cfg.MFA.Issuer)
	if err != nil {
		return nil, err
	}
	return services.NewMFAService(manager.MFADevices(), tm, audit, logger), nil
}
