package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/db"
)

// Ledger moves stock between locations inside a caller-owned transaction.
// Every quantity change in the system goes through it so that row locks are
// always taken in the same order.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Adjust adds delta (which may be negative) to the stock of itemID at loc and
// returns the new quantity.
func (l *Ledger) Adjust(ctx context.Context, tx pgx.Tx, loc Location, itemID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if !ValidQuantity(delta.Abs()) {
		return decimal.Zero, ErrInvalidQuantity
	}

	if delta.IsPositive() {
		if err := l.ensureRow(ctx, tx, loc, itemID); err != nil {
			return decimal.Zero, err
		}
	}

	current, err := l.lock(ctx, tx, loc, itemID)
	if err != nil {
		return decimal.Zero, err
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientStock
	}

	if err := l.set(ctx, tx, loc, itemID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// Transfer moves qty of itemID from one location to another. The destination
// row is created when missing.
func (l *Ledger) Transfer(ctx context.Context, tx pgx.Tx, from, to Location, itemID int64, qty decimal.Decimal) (*Movement, error) {
	if !ValidQuantity(qty) {
		return nil, ErrInvalidQuantity
	}
	if from == to {
		return nil, ErrSameLocation
	}

	if err := l.ensureRow(ctx, tx, to, itemID); err != nil {
		return nil, err
	}

	first, second := from, to
	if to.before(from) {
		first, second = to, from
	}

	locked := make(map[Location]decimal.Decimal, 2)
	for _, loc := range []Location{first, second} {
		q, err := l.lock(ctx, tx, loc, itemID)
		if err != nil {
			return nil, err
		}
		locked[loc] = q
	}

	fromQty, toQty := locked[from], locked[to]
	if fromQty.LessThan(qty) {
		return nil, ErrInsufficientStock
	}

	if err := l.set(ctx, tx, from, itemID, fromQty.Sub(qty)); err != nil {
		return nil, err
	}
	if err := l.set(ctx, tx, to, itemID, toQty.Add(qty)); err != nil {
		return nil, err
	}

	return &Movement{
		From:       from,
		To:         to,
		ItemID:     itemID,
		Quantity:   qty,
		FromBefore: fromQty,
		ToBefore:   toQty,
	}, nil
}

func (l *Ledger) ensureRow(ctx context.Context, tx pgx.Tx, loc Location, itemID int64) error {
	var err error
	if loc.Godown {
		_, err = tx.Exec(ctx,
			`INSERT INTO godown_stock (item_id, quantity) VALUES ($1, 0) ON CONFLICT (item_id) DO NOTHING`,
			itemID)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO branch_stock (branch_id, item_id, quantity, min_level) VALUES ($1, $2, 0, 0)
			 ON CONFLICT (branch_id, item_id) DO NOTHING`,
			loc.BranchID, itemID)
	}
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stock: failed to create stock row: %w", err)
	}
	return nil
}

// lock takes a row lock and returns the current quantity. A missing source row
// means there is nothing to take.
func (l *Ledger) lock(ctx context.Context, tx pgx.Tx, loc Location, itemID int64) (decimal.Decimal, error) {
	var row pgx.Row
	if loc.Godown {
		row = tx.QueryRow(ctx, `SELECT quantity FROM godown_stock WHERE item_id = $1 FOR UPDATE`, itemID)
	} else {
		row = tx.QueryRow(ctx,
			`SELECT quantity FROM branch_stock WHERE branch_id = $1 AND item_id = $2 FOR UPDATE`,
			loc.BranchID, itemID)
	}

	var qty decimal.Decimal
	if err := row.Scan(&qty); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrInsufficientStock
		}
		return decimal.Zero, fmt.Errorf("stock: failed to lock stock row: %w", err)
	}
	return qty, nil
}

func (l *Ledger) set(ctx context.Context, tx pgx.Tx, loc Location, itemID int64, qty decimal.Decimal) error {
	var err error
	if loc.Godown {
		_, err = tx.Exec(ctx,
			`UPDATE godown_stock SET quantity = $2, updated_at = NOW() WHERE item_id = $1`,
			itemID, qty)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE branch_stock SET quantity = $3, updated_at = NOW() WHERE branch_id = $1 AND item_id = $2`,
			loc.BranchID, itemID, qty)
	}
	if err != nil {
		if db.IsCheckViolation(err) {
			return ErrInsufficientStock
		}
		return fmt.Errorf("stock: failed to update stock row: %w", err)
	}
	return nil
}
