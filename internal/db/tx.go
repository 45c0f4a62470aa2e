package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// TxBeginner is satisfied by *pgxpool.Pool and pgx.Tx (nested savepoints).
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx runs fn inside a single transaction. The transaction is committed
// when fn returns nil and rolled back on error or panic.
func WithTx(ctx context.Context, db TxBeginner, op string, fn func(tx pgx.Tx) error) (err error) {
	tx, beginErr := db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: %s: failed to begin transaction: %w", op, beginErr)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Str("op", op).Msg("Panic recovered in transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("op", op).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			log.Debug().Err(err).Str("op", op).Msg("Transaction failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("op", op).Msg("Failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				log.Error().Err(commitErr).Str("op", op).Msg("Failed to commit transaction")
				err = fmt.Errorf("repository: %s: failed to commit transaction: %w", op, commitErr)
			}
		}
	}()

	return fn(tx)
}

// RetryAttempts bounds WithRetryTx.
const RetryAttempts = 3

// WithRetryTx runs fn through WithTx and reruns the whole transaction when it
// fails on a deadlock or serialization failure. fn must not keep state across
// attempts other than its final results.
func WithRetryTx(ctx context.Context, db TxBeginner, op string, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		err = WithTx(ctx, db, op, fn)
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Transaction conflict, retrying")
	}
	return err
}
