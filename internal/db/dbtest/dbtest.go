// Package dbtest connects integration tests to a real PostgreSQL instance.
// Tests are skipped unless DB_HOST_TEST is set.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/tff-platform/internal/config"
	"github.com/vasiliy-maslov/tff-platform/internal/db"
)

var (
	once    sync.Once
	pool    *pgxpool.Pool
	cfg     config.PostgresConfig
	initErr error
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func migrationsPath() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "migrations")
}

// Config returns the connection settings used by Pool.
func Config() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            os.Getenv("DB_HOST_TEST"),
		Port:            env("DB_PORT_TEST", "5432"),
		User:            env("DB_USER_TEST", "postgres"),
		Password:        env("DB_PASSWORD_TEST", "123456"),
		DBName:          env("DB_NAME_TEST", "tff_test"),
		SSLMode:         env("DB_SSLMODE_TEST", "disable"),
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MigrationsPath:  migrationsPath(),
	}
}

// Pool returns a shared, migrated pool, or skips tb when no test database is
// configured.
func Pool(tb testing.TB) *pgxpool.Pool {
	tb.Helper()
	if os.Getenv("DB_HOST_TEST") == "" {
		tb.Skip("DB_HOST_TEST not set, skipping PostgreSQL integration test")
	}

	once.Do(func() {
		cfg = Config()
		if initErr = db.ApplyMigrations(cfg); initErr != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var pg *db.Postgres
		pg, initErr = db.New(ctx, cfg)
		if initErr == nil {
			pool = pg.Pool
		}
	})
	require.NoError(tb, initErr, "failed to prepare test database")

	return pool
}

// Truncate empties every table so each test starts from a clean schema.
func Truncate(tb testing.TB, p *pgxpool.Pool) {
	tb.Helper()
	_, err := p.Exec(context.Background(), `
		TRUNCATE TABLE tax_collections, order_ingredient_usage, order_items, orders, order_sequences,
			cart_items, carts, offers, menu_items, stock_requests, godown_stock, branch_stock,
			items, customers, employees, branches
		RESTART IDENTITY CASCADE`)
	require.NoError(tb, err, "failed to truncate tables")
}
