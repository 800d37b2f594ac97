package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/services"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Apply the retention policy to the security store once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.loadConfig()
			if err != nil {
				return err
			}
			m := metrics.New()
			st, err := openStore(cmd.Context(), cfg, m, logger)
			if err != nil {
				return err
			}
			defer st.db.Close()

			report, err := st.manager.CleanupOldRecords(cmd.Context())
			if werr := m.WriteTextfile(cfg.Metrics.TextfilePath); werr != nil {
				logger.Warn("failed to write metrics", "error", werr)
			}
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, report)
		},
	}
}

func newHashPasswordCmd(a *app) *cobra.Command {
	var iterations int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its encoded hash",
		Long: "hash-password reads one line from stdin and prints a credential " +
			"file entry value ($pbkdf2-sha256$...). Prefix it with \"username:\".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("iterations") {
				cfg, _, err := a.loadConfig()
				if err != nil {
					return err
				}
				iterations = cfg.Security.KDFIterations
			}

			password, err := readLine(a.stdin)
			if err != nil {
				return err
			}
			hash, err := pkgauth.HashPasswordWithIterations(password, iterations)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, hash)
			return err
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", pkgauth.DefaultIterations, "PBKDF2 iteration count")
	return cmd
}

func newStrengthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "strength",
		Short: "Score a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			password, err := readLine(a.stdin)
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, pkgauth.CheckStrength(password))
		},
	}
}

// openMFA wires an MFAService with its own store and audit file. The
// returned closer releases both.
func (a *app) openMFA(ctx context.Context) (*services.MFAService, func(), error) {
	cfg, logger, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.MFA.Enabled {
		return nil, nil, errors.New("second factor is disabled; set [mfa] enabled and encryption_key")
	}

	m := metrics.New()
	st, err := openStore(ctx, cfg, m, logger)
	if err != nil {
		return nil, nil, err
	}

	auditFile, err := pkglogger.NewAuditLogger(pkglogger.AuditFileConfig{
		Path:       cfg.Audit.LogPath,
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
		Compress:   cfg.Audit.Compress,
	})
	if err != nil {
		st.db.Close()
		return nil, nil, err
	}
	closer := func() {
		auditFile.Close()
		st.db.Close()
	}

	audit := services.NewAuditService(auditFile, st.manager.AuditLogs(), m, logger)
	mfa, err := newMFAService(cfg, st.manager, audit, logger)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return mfa, closer, nil
}

func newEnrollTOTPCmd(a *app) *cobra.Command {
	var qrOut string
	cmd := &cobra.Command{
		Use:   "enroll-totp <username>",
		Short: "Enrol (or re-enrol) a TOTP second factor for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mfa, closer, err := a.openMFA(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			enrollment, err := mfa.Enroll(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if qrOut != "" {
				if err := os.WriteFile(qrOut, enrollment.QRCode, 0o600); err != nil {
					return fmt.Errorf("write QR code: %w", err)
				}
			}
			return writeJSON(a.stdout, enrollment)
		},
	}
	cmd.Flags().StringVar(&qrOut, "qr-out", "", "write the provisioning QR code (PNG) to this path")
	return cmd
}

func newDisableTOTPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable-totp <username>",
		Short: "Remove a user's TOTP second factor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mfa, closer, err := a.openMFA(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			if err := mfa.Disable(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("disable %s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(a.stdout, "second factor removed for %s\n", args[0])
			return err
		},
	}
}

func newBiometricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "biometrics",
		Short: "Report available biometric login methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(a.stdout, auth.NewBiometricProber().Available(cmd.Context()))
		},
	}
}

func newAuditCmd(a *app) *cobra.Command {
	var (
		filter repositories.AuditFilter
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent persisted audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg, metrics.New(), logger)
			if err != nil {
				return err
			}
			defer st.db.Close()

			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			logs, err := st.manager.AuditLogs().List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.stdout)
			for _, l := range logs {
				if err := enc.Encode(l); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Username, "user", "", "only events for this username")
	cmd.Flags().StringVar(&filter.Action, "event-type", "", "only events of this type (e.g. LOGIN_ATTEMPT)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "maximum number of events (at most 1000)")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
