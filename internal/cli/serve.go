package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/handlers"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the greeter protocol on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
}

func (a *app) runServe(parent context.Context) error {
	loader := config.NewLoader(a.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	logger := pkglogger.New(a.stderr, cfg.Log.Level)
	logger.Info("configuration loaded",
		slog.String("path", loader.Path()),
		slog.String("state_backend", cfg.Security.StateBackend),
		slog.String("store", cfg.Store.Driver))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise security state", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	handler := handlers.NewGreeterHandler(rt.authn, rt.live, rt.sessions, auth.NewBiometricProber(),
		cfg.Settings.AutoSubmit, logger)

	go rt.cleanup.Start(ctx)

	if err := rt.credentials.Watch(ctx, logger); err != nil {
		logger.Warn("credential file changes will need a restart", slog.Any("error", err))
	}

	loader.Watch(logger, func(next *config.Config, changes []config.Change) {
		for _, c := range changes {
			rt.audit.LogConfigurationChange(ctx, c.Setting, c.OldValue, c.NewValue)
		}
		rt.applySettings(next)
		handler.SetAutoSubmit(next.Settings.AutoSubmit)
	})

	served := make(chan error, 1)
	go func() {
		served <- handler.Serve(ctx, a.stdin, a.stdout)
	}()

	logger.Info("serving greeter protocol")
	select {
	case err := <-served:
		if err != nil && ctx.Err() == nil {
			logger.Error("protocol stream failed", slog.Any("error", err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	rt.cleanup.Stop()
	logger.Info("sentinel stopped")
	return nil
}
