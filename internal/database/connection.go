package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/BradenHooton/sentinel/internal/config"
)

// Supported store drivers and the database/sql driver names they register
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqlDriverSQLite   = "sqlite"
	sqlDriverPostgres = "pgx"
)

var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

func init() {
	sqlx.BindDriver(sqlDriverSQLite, sqlx.QUESTION)
}

type DB struct {
	X      *sqlx.DB
	Driver string
	logger *slog.Logger
}

func NewConnection(ctx context.Context, cfg *config.StoreConfig, logger *slog.Logger) (*DB, error) {
	var (
		x   *sqlx.DB
		err error
	)

	switch cfg.Driver {
	case DriverSQLite:
		x, err = openSQLite(cfg.Path)
	case DriverPostgres:
		x, err = sqlx.Open(sqlDriverPostgres, cfg.DSN)
		if err == nil {
			x.SetMaxOpenConns(10)
			x.SetMaxIdleConns(2)
			x.SetConnMaxLifetime(5 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open store: %w", err)
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := x.PingContext(pingCtx); err != nil {
		_ = x.Close()
		return nil, fmt.Errorf("unable to ping store: %w", err)
	}

	logger.Info("store connection established", slog.String("driver", cfg.Driver))

	return &DB{X: x, Driver: cfg.Driver, logger: logger}, nil
}

func openSQLite(path string) (*sqlx.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	x, err := sqlx.Open(sqlDriverSQLite, "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection serialises access.
	x.SetMaxOpenConns(1)
	return x, nil
}

func (db *DB) Close() error {
	db.logger.Info("closing store connection")
	return db.X.Close()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.X.PingContext(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	return nil
}

// Rebind converts '?' placeholders to the driver's bind style
func (db *DB) Rebind(query string) string {
	return db.X.Rebind(query)
}
