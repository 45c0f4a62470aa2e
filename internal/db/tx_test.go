package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type fakeTx struct {
	pgx.Tx
	commits   int
	rollbacks int
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.commits++
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rollbacks++
	return nil
}

type fakeBeginner struct {
	tx     *fakeTx
	begins int
}

func (f *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	f.begins++
	return f.tx, nil
}

func TestWithRetryTx_RetriesDeadlock(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	calls := 0

	err := WithRetryTx(context.Background(), b, "transfer", func(tx pgx.Tx) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("stock: failed to lock stock row: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected})
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, b.tx.rollbacks)
	assert.Equal(t, 1, b.tx.commits)
}

func TestWithRetryTx_GivesUp(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	calls := 0

	err := WithRetryTx(context.Background(), b, "transfer", func(tx pgx.Tx) error {
		calls++
		return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	})

	assert.True(t, IsRetryable(err))
	assert.Equal(t, RetryAttempts, calls)
	assert.Zero(t, b.tx.commits)
}

func TestWithRetryTx_DomainErrorNotRetried(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	domainErr := errors.New("insufficient stock")
	calls := 0

	err := WithRetryTx(context.Background(), b, "transfer", func(tx pgx.Tx) error {
		calls++
		return domainErr
	})

	assert.ErrorIs(t, err, domainErr)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, b.tx.rollbacks)
}
