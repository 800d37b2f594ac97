package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/BradenHooton/sentinel/internal/models"
)

const (
	DefaultPath = "/etc/lightdm/sentinel.conf"
	EnvPrefix   = "SENTINEL"
)

type Config struct {
	Settings SettingsConfig `mapstructure:"settings"`
	Security SecurityConfig `mapstructure:"security"`
	Store    StoreConfig    `mapstructure:"store"`
	Audit    AuditConfig    `mapstructure:"audit"`
	MFA      MFAConfig      `mapstructure:"mfa"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// SettingsConfig is the [Settings] section shared with the greeter UI
type SettingsConfig struct {
	AutoSubmit        bool `mapstructure:"auto_submit"`
	ValidationDelayMs int  `mapstructure:"validation_delay_ms" validate:"min=0,max=10000"`
	MaxAttempts       int  `mapstructure:"max_attempts" validate:"min=1"`
	WindowSeconds     int  `mapstructure:"window_seconds" validate:"min=1"`
	TokenTTLSeconds   int  `mapstructure:"token_ttl_seconds" validate:"min=1"`
}

type SecurityConfig struct {
	MaxTrackedKeys       int           `mapstructure:"max_tracked_keys" validate:"min=1"`
	KDFIterations        int           `mapstructure:"kdf_iterations" validate:"min=10000"`
	TimingDelayBaseMs    int           `mapstructure:"timing_delay_base_ms" validate:"min=0"`
	TimingDelayRandomMs  int           `mapstructure:"timing_delay_random_ms" validate:"min=0"`
	StateBackend         string        `mapstructure:"state_backend" validate:"oneof=memory store"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval" validate:"min=1s"`
	CredentialFile       string        `mapstructure:"credential_file" validate:"required"`
	PAMService           string        `mapstructure:"pam_service" validate:"required"`
	AuditRetentionDays   int           `mapstructure:"audit_retention_days" validate:"min=1"`
	AttemptRetentionDays int           `mapstructure:"attempt_retention_days" validate:"min=1"`
	RateLimitIdle        time.Duration `mapstructure:"rate_limit_idle" validate:"min=1s"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

type AuditConfig struct {
	LogPath    string `mapstructure:"log_path" validate:"required"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

type MFAConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	EncryptionKey string `mapstructure:"encryption_key"`
	Issuer        string `mapstructure:"issuer" validate:"required"`
}

type AlertsConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	AWSRegion   string   `mapstructure:"aws_region" validate:"required_if=Enabled true"`
	FromAddress string   `mapstructure:"from_address" validate:"required_if=Enabled true,omitempty,email"`
	Recipients  []string `mapstructure:"recipients" validate:"dive,email"`
}

type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Env   string `mapstructure:"env" validate:"oneof=development production"`
}

// Window returns the rate-limit window
func (s SettingsConfig) Window() time.Duration {
	return time.Duration(s.WindowSeconds) * time.Second
}

// TokenTTL returns the session token lifetime
func (s SettingsConfig) TokenTTL() time.Duration {
	return time.Duration(s.TokenTTLSeconds) * time.Second
}

// ValidationDelay returns the live-validation debounce
func (s SettingsConfig) ValidationDelay() time.Duration {
	return time.Duration(s.ValidationDelayMs) * time.Millisecond
}

// Key decodes the base64 AES-256 key used to encrypt TOTP secrets
func (m MFAConfig) Key() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(m.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("mfa encryption_key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("mfa encryption_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Load reads the configuration at path. A missing file is not an error;
// defaults and SENTINEL_* environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg, _, err := NewLoader(path).load()
	return cfg, err
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("ini")
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("settings.auto_submit", true)
	v.SetDefault("settings.validation_delay_ms", 300)
	v.SetDefault("settings.max_attempts", 5)
	v.SetDefault("settings.window_seconds", 60)
	v.SetDefault("settings.token_ttl_seconds", 300)

	v.SetDefault("security.max_tracked_keys", 10000)
	v.SetDefault("security.kdf_iterations", 100000)
	v.SetDefault("security.timing_delay_base_ms", 500)
	v.SetDefault("security.timing_delay_random_ms", 250)
	v.SetDefault("security.state_backend", "store")
	v.SetDefault("security.cleanup_interval", 15*time.Minute)
	v.SetDefault("security.credential_file", "/etc/lightdm/sentinel.passwd")
	v.SetDefault("security.pam_service", "lightdm")
	v.SetDefault("security.audit_retention_days", 30)
	v.SetDefault("security.attempt_retention_days", 30)
	v.SetDefault("security.rate_limit_idle", time.Hour)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "/var/lib/lightdm/sentinel.db")
	v.SetDefault("store.dsn", "")

	v.SetDefault("audit.log_path", "/var/log/lightdm/security-audit.log")
	v.SetDefault("audit.max_size_mb", 10)
	v.SetDefault("audit.max_backups", 10)
	v.SetDefault("audit.max_age_days", 0)
	v.SetDefault("audit.compress", false)

	v.SetDefault("mfa.enabled", false)
	v.SetDefault("mfa.encryption_key", "")
	v.SetDefault("mfa.issuer", "sentinel")

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.aws_region", "")
	v.SetDefault("alerts.from_address", "")
	v.SetDefault("alerts.recipients", []string{})

	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "production")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = func() func(*Config) error {
	vd := validator.New(validator.WithRequiredStructEnabled())
	return func(cfg *Config) error {
		if err := vd.Struct(cfg); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				fe := verrs[0]
				return fmt.Errorf("%w: %s failed %q", models.ErrInvalidConfig, fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %w", models.ErrInvalidConfig, err)
		}
		if cfg.MFA.Enabled {
			if _, err := cfg.MFA.Key(); err != nil {
				return fmt.Errorf("%w: %w", models.ErrInvalidConfig, err)
			}
		}
		return nil
	}
}()

func readFile(v *viper.Viper) error {
	if v.ConfigFileUsed() == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func loadDotEnv() {
	_ = godotenv.Load()
}
