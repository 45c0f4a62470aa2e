package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/tff-platform/internal/config"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "stock_requests_parent_id_key"}
	wrapped := fmt.Errorf("repository: insert: %w", unique)

	assert.True(t, IsUniqueViolation(wrapped, ""))
	assert.True(t, IsUniqueViolation(wrapped, "stock_requests_parent_id_key"))
	assert.False(t, IsUniqueViolation(wrapped, "orders_code_key"))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: pgerrcode.CheckViolation}, ""))
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}))
	assert.True(t, IsRetryable(fmt.Errorf("x: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure})))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.True(t, IsCheckViolation(&pgconn.PgError{Code: pgerrcode.CheckViolation}))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}))
	assert.False(t, IsForeignKeyViolation(nil))
}

func TestConnStringAndMigrationDSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "db",
		Port:     "5433",
		User:     "tff",
		Password: "p@ss",
		DBName:   "tff",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db port=5433 user=tff password=p@ss dbname=tff sslmode=disable", ConnString(cfg))
	assert.Equal(t, "pgx5://tff:p%40ss@db:5433/tff?sslmode=disable", migrationDSN(cfg))
}
