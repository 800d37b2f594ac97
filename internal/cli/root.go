// Package cli implements the sentinel command line.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/sentinel/internal/config"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

type app struct {
	configPath string
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
}

// NewRootCommand builds the sentinel command tree on the process streams
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(os.Stdin, os.Stdout, os.Stderr)
}

// NewRootCommandWithIO builds the command tree on the given streams
func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Security state service for desktop logins",
		Long: "sentinel rate-limits, validates and audits greeter logins. " +
			"Without a subcommand it serves the greeter protocol on stdin/stdout.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "path to the INI configuration file")

	cmd.AddCommand(
		newServeCmd(a),
		newCleanupCmd(a),
		newHashPasswordCmd(a),
		newStrengthCmd(a),
		newEnrollTOTPCmd(a),
		newDisableTOTPCmd(a),
		newBiometricsCmd(a),
		newAuditCmd(a),
	)
	return cmd
}

// Execute runs the root command with the process context
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// loadConfig reads the configuration and builds the application logger.
// Logs go to stderr; stdout belongs to the protocol or command output.
func (a *app) loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pkglogger.New(a.stderr, cfg.Log.Level), nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
