package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/billing"
	"github.com/vasiliy-maslov/tff-platform/internal/codes"
	"github.com/vasiliy-maslov/tff-platform/internal/db"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
)

const maxDailySequence = 9999

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository interface {
	GetOrder(ctx context.Context, id int64) (*Order, error)
	PendingOrders(ctx context.Context, branchID int64) ([]Order, error)
	KitchenOrders(ctx context.Context, branchID int64) ([]Order, error)
	CurrentForChef(ctx context.Context, chefID int64) (*Order, error)
	CompletedForChef(ctx context.Context, chefID int64) ([]Order, error)
	CurrentForCustomer(ctx context.Context, customerID int64) ([]Order, error)
	HistoryForCustomer(ctx context.Context, customerID int64) ([]Order, error)
	Accept(ctx context.Context, orderID, chefID int64, now time.Time) (*Order, error)
	SubmitUsage(ctx context.Context, orderID, chefID int64, usage []IngredientUsage, now time.Time) (*Order, error)
	Cancel(ctx context.Context, orderID, customerID int64) error
}

type postgresRepository struct {
	db     *pgxpool.Pool
	ledger *stock.Ledger
}

func NewRepository(pool *pgxpool.Pool, ledger *stock.Ledger) Repository {
	return &postgresRepository{db: pool, ledger: ledger}
}

// Draft is an order about to be placed from a checked out cart.
type Draft struct {
	CustomerID int64
	BranchID   int64
	Items      []Item
	Breakdown  billing.Breakdown
	PlacedAt   time.Time
}

// nextSequence allocates the next per-day order number. The upsert holds the
// day's row lock until the surrounding transaction ends, so numbers are gapless.
func nextSequence(ctx context.Context, tx pgx.Tx, day time.Time) (int, error) {
	var seq int
	err := tx.QueryRow(ctx, `
		INSERT INTO order_sequences (day, last_seq) VALUES ($1::date, 1)
		ON CONFLICT (day) DO UPDATE SET last_seq = order_sequences.last_seq + 1
		RETURNING last_seq`, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to allocate order sequence: %w", err)
	}
	if seq > maxDailySequence {
		return 0, ErrSequenceExhausted
	}
	return seq, nil
}

// Insert places a new pending order with its items inside the caller's
// transaction.
func Insert(ctx context.Context, tx pgx.Tx, d Draft) (*Order, error) {
	if len(d.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	seq, err := nextSequence(ctx, tx, d.PlacedAt)
	if err != nil {
		return nil, err
	}

	o := &Order{
		Code:       codes.Order(d.PlacedAt, seq),
		CustomerID: d.CustomerID,
		BranchID:   d.BranchID,
		Subtotal:   d.Breakdown.Subtotal,
		CGST:       d.Breakdown.CGST,
		SGST:       d.Breakdown.SGST,
		Tax:        d.Breakdown.Tax,
		Total:      d.Breakdown.Total,
		Status:     StatusPending,
		CreatedAt:  d.PlacedAt,
	}
	o.SetCodes()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (code, customer_id, branch_id, subtotal, cgst, sgst, tax_amount, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		o.Code, o.CustomerID, o.BranchID, o.Subtotal, o.CGST, o.SGST, o.Tax, o.Total, string(o.Status), o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrBranchNotFound
		}
		return nil, fmt.Errorf("repository: failed to insert order: %w", err)
	}

	for _, it := range d.Items {
		item := it
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, quantity, unit_price, discount)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			o.ID, item.MenuItemID, item.Quantity, item.UnitPrice, item.Discount,
		).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to insert item for order %d: %w", o.ID, err)
		}
		o.Items = append(o.Items, item)
	}

	return o, nil
}

const orderColumns = `o.id, o.code, o.customer_id, o.branch_id, o.assigned_chef_id, o.subtotal, o.cgst, o.sgst,
	o.tax_amount, o.total_amount, o.status, o.created_at, o.accepted_at, o.completed_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(
		&o.ID,
		&o.Code,
		&o.CustomerID,
		&o.BranchID,
		&o.AssignedChefID,
		&o.Subtotal,
		&o.CGST,
		&o.SGST,
		&o.Tax,
		&o.Total,
		&status,
		&o.CreatedAt,
		&o.AcceptedAt,
		&o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.SetCodes()
	return &o, nil
}

func (r *postgresRepository) listOrders(ctx context.Context, where string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders o WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate orders: %w", err)
	}
	rows.Close()

	if err := attachItems(ctx, r.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func attachItems(ctx context.Context, q querier, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.menu_item_id, m.name, oi.quantity, oi.unit_price, oi.discount
		FROM order_items oi
		JOIN menu_items m ON m.id = oi.menu_item_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.id`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it      Item
			orderID int64
		)
		if err := rows.Scan(&it.ID, &orderID, &it.MenuItemID, &it.MenuItemName, &it.Quantity, &it.UnitPrice, &it.Discount); err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

func (r *postgresRepository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to get order %d: %w", id, err)
	}

	orders := []Order{*o}
	if err := attachItems(ctx, r.db, orders); err != nil {
		return nil, err
	}
	o = &orders[0]

	rows, err := r.db.Query(ctx, `
		SELECT u.item_id, i.name, u.quantity_used
		FROM order_ingredient_usage u
		JOIN items i ON i.id = u.item_id
		WHERE u.order_id = $1
		ORDER BY u.item_id`, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query ingredient usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u IngredientUsage
		if err := rows.Scan(&u.ItemID, &u.ItemName, &u.Quantity); err != nil {
			return nil, fmt.Errorf("repository: failed to scan ingredient usage: %w", err)
		}
		o.Ingredients = append(o.Ingredients, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate ingredient usage: %w", err)
	}
	return o, nil
}

var (
	activeStatuses = Statuses(Status.Active)
	openStatuses   = Statuses(Status.Open)
)

func (r *postgresRepository) PendingOrders(ctx context.Context, branchID int64) ([]Order, error) {
	return r.listOrders(ctx, `o.branch_id = $1 AND o.status = 'pending' ORDER BY o.created_at, o.id`, branchID)
}

func (r *postgresRepository) KitchenOrders(ctx context.Context, branchID int64) ([]Order, error) {
	return r.listOrders(ctx,
		`o.branch_id = $1 AND o.status = ANY($2) ORDER BY o.created_at, o.id`,
		branchID, openStatuses)
}

func (r *postgresRepository) CurrentForChef(ctx context.Context, chefID int64) (*Order, error) {
	orders, err := r.listOrders(ctx,
		`o.assigned_chef_id = $1 AND o.status = ANY($2) LIMIT 1`, chefID, activeStatuses)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}
	return &orders[0], nil
}

func (r *postgresRepository) CompletedForChef(ctx context.Context, chefID int64) ([]Order, error) {
	return r.listOrders(ctx,
		`o.assigned_chef_id = $1 AND o.status = 'completed' ORDER BY o.completed_at DESC`, chefID)
}

func (r *postgresRepository) CurrentForCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	return r.listOrders(ctx,
		`o.customer_id = $1 AND o.status = ANY($2) ORDER BY o.created_at DESC`,
		customerID, openStatuses)
}

func (r *postgresRepository) HistoryForCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	return r.listOrders(ctx,
		`o.customer_id = $1 AND NOT (o.status = ANY($2)) ORDER BY o.created_at DESC`,
		customerID, openStatuses)
}

type lockedOrder struct {
	branchID   int64
	customerID int64
	chefID     *int64
	status     Status
	total      decimal.Decimal
}

func lockOrder(ctx context.Context, tx pgx.Tx, id int64) (*lockedOrder, error) {
	var (
		lo     lockedOrder
		status string
	)
	err := tx.QueryRow(ctx, `
		SELECT branch_id, customer_id, assigned_chef_id, status, total_amount
		FROM orders WHERE id = $1 FOR UPDATE`, id).
		Scan(&lo.branchID, &lo.customerID, &lo.chefID, &status, &lo.total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %d: %w", id, err)
	}
	lo.status = Status(status)
	return &lo, nil
}

// lockChef is always called after lockOrder in the same transaction.
func lockChef(ctx context.Context, tx pgx.Tx, chefID int64) (int64, error) {
	var branchID *int64
	err := tx.QueryRow(ctx, `
		SELECT branch_id FROM employees
		WHERE id = $1 AND role = 'chef' AND is_active
		FOR UPDATE`, chefID).Scan(&branchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrChefNotFound
		}
		return 0, fmt.Errorf("repository: failed to lock chef %d: %w", chefID, err)
	}
	if branchID == nil {
		return 0, ErrChefNotFound
	}
	return *branchID, nil
}

// Accept assigns a pending order to a chef and moves it to preparing. The
// order row is locked before the chef row.
func (r *postgresRepository) Accept(ctx context.Context, orderID, chefID int64, now time.Time) (*Order, error) {
	err := db.WithTx(ctx, r.db, "Accept", func(tx pgx.Tx) error {
		lo, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		chefBranch, err := lockChef(ctx, tx, chefID)
		if err != nil {
			return err
		}

		var busy bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM orders
				WHERE assigned_chef_id = $1 AND status = ANY($3) AND id <> $2
			)`, chefID, orderID, activeStatuses).Scan(&busy)
		if err != nil {
			return fmt.Errorf("repository: failed to check active orders for chef %d: %w", chefID, err)
		}
		if busy {
			return ErrActiveOrderConflict
		}

		if lo.status != StatusPending || lo.branchID != chefBranch {
			return ErrOrderNotAvailable
		}

		_, err = tx.Exec(ctx, `
			UPDATE orders SET status = 'preparing', assigned_chef_id = $2, accepted_at = $3
			WHERE id = $1`, orderID, chefID, now)
		if err != nil {
			if db.IsUniqueViolation(err, "orders_one_active_per_chef") {
				return ErrActiveOrderConflict
			}
			return fmt.Errorf("repository: failed to accept order %d: %w", orderID, err)
		}

		if _, err := tx.Exec(ctx, `UPDATE employees SET is_available = FALSE WHERE id = $1`, chefID); err != nil {
			return fmt.Errorf("repository: failed to mark chef %d busy: %w", chefID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("order_id", orderID).Int64("chef_id", chefID).Msg("Repository: Order accepted")
	return r.GetOrder(ctx, orderID)
}

// SubmitUsage deducts the reported ingredients from the order's branch,
// records them and completes the order. Any shortage rolls everything back and
// leaves the order preparing.
func (r *postgresRepository) SubmitUsage(ctx context.Context, orderID, chefID int64, usage []IngredientUsage, now time.Time) (*Order, error) {
	lines, err := MergeUsage(usage)
	if err != nil {
		return nil, err
	}

	err = db.WithRetryTx(ctx, r.db, "SubmitUsage", func(tx pgx.Tx) error {
		lo, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if lo.chefID == nil || *lo.chefID != chefID {
			return ErrNotAssignedChef
		}
		if lo.status != StatusPreparing {
			return ErrOrderNotPreparing
		}
		if _, err := lockChef(ctx, tx, chefID); err != nil {
			return err
		}

		for _, l := range lines {
			if _, err := r.ledger.Adjust(ctx, tx, stock.AtBranch(lo.branchID), l.ItemID, l.Quantity.Neg()); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO order_ingredient_usage (order_id, item_id, quantity_used, created_at)
				VALUES ($1, $2, $3, $4)`, orderID, l.ItemID, l.Quantity, now)
			if err != nil {
				return fmt.Errorf("repository: failed to record usage of item %d: %w", l.ItemID, err)
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = 'completed', completed_at = $2 WHERE id = $1`, orderID, now); err != nil {
			return fmt.Errorf("repository: failed to complete order %d: %w", orderID, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE branches SET sales = sales + $2 WHERE id = $1`, lo.branchID, lo.total); err != nil {
			return fmt.Errorf("repository: failed to update branch sales: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE employees SET is_available = TRUE WHERE id = $1`, chefID); err != nil {
			return fmt.Errorf("repository: failed to release chef %d: %w", chefID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("order_id", orderID).Int64("chef_id", chefID).Int("ingredients", len(lines)).Msg("Repository: Order completed")
	return r.GetOrder(ctx, orderID)
}

// Cancel hard-deletes a customer's pending order. Its tax entry goes with it
// and the branch sales counted at checkout are reversed.
func (r *postgresRepository) Cancel(ctx context.Context, orderID, customerID int64) error {
	return db.WithTx(ctx, r.db, "Cancel", func(tx pgx.Tx) error {
		lo, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if lo.customerID != customerID {
			return ErrOrderNotFound
		}
		if !lo.status.CanTransitionTo(StatusCancelled) {
			return ErrOrderNotCancellable
		}

		if _, err := tx.Exec(ctx,
			`UPDATE branches SET sales = GREATEST(sales - $2, 0) WHERE id = $1`, lo.branchID, lo.total); err != nil {
			return fmt.Errorf("repository: failed to reverse branch sales: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
			return fmt.Errorf("repository: failed to delete order %d: %w", orderID, err)
		}
		return nil
	})
}
