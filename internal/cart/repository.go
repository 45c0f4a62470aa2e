package cart

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
	"github.com/vasiliy-maslov/tff-platform/internal/db"
	"github.com/vasiliy-maslov/tff-platform/internal/order"
)

type Repository interface {
	Get(ctx context.Context, customerID int64) (*Cart, error)
	AddItem(ctx context.Context, customerID, menuItemID int64, qty int, price decimal.Decimal, now time.Time) (*Line, error)
	SetQuantity(ctx context.Context, customerID, menuItemID int64, qty int) error
	RemoveItem(ctx context.Context, customerID, menuItemID int64) error
	Clear(ctx context.Context, customerID int64) error
	Checkout(ctx context.Context, customerID, branchID int64, quote Quote, now time.Time) (*order.Order, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{db: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, cartID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT ci.menu_item_id, m.name, ci.quantity, ci.price, ci.created_at
		FROM cart_items ci
		JOIN menu_items m ON m.id = ci.menu_item_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.menu_item_id`, cartID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.MenuItemID, &l.Name, &l.Quantity, &l.Price, &l.AddedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Get returns the customer's cart; a customer without one gets an empty cart.
func (r *postgresRepository) Get(ctx context.Context, customerID int64) (*Cart, error) {
	c := &Cart{CustomerID: customerID}
	err := r.db.QueryRow(ctx, `SELECT id FROM carts WHERE customer_id = $1`, customerID).Scan(&c.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, nil
		}
		return nil, fmt.Errorf("repository: failed to get cart for customer %d: %w", customerID, err)
	}

	if c.Lines, err = loadLines(ctx, r.db, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// AddItem creates the cart if needed and adds qty of the menu item. Repeat
// adds accumulate the quantity and keep the first captured price.
func (r *postgresRepository) AddItem(ctx context.Context, customerID, menuItemID int64, qty int, price decimal.Decimal, now time.Time) (*Line, error) {
	line := &Line{MenuItemID: menuItemID}
	err := db.WithTx(ctx, r.db, "AddItem", func(tx pgx.Tx) error {
		var cartID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO carts (customer_id) VALUES ($1)
			ON CONFLICT (customer_id) DO UPDATE SET customer_id = EXCLUDED.customer_id
			RETURNING id`, customerID).Scan(&cartID)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrCustomerNotFound
			}
			return fmt.Errorf("repository: failed to upsert cart: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO cart_items (cart_id, menu_item_id, quantity, price, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (cart_id, menu_item_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
			RETURNING quantity, price, created_at`,
			cartID, menuItemID, qty, price, now).Scan(&line.Quantity, &line.Price, &line.AddedAt)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrMenuItemNotActive
			}
			return fmt.Errorf("repository: failed to add cart item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// lockCart locks the customer's cart row. Every change to cart lines takes
// this lock so Checkout sees the lines it quoted.
func lockCart(ctx context.Context, tx pgx.Tx, customerID int64) (int64, bool, error) {
	var cartID int64
	err := tx.QueryRow(ctx, `SELECT id FROM carts WHERE customer_id = $1 FOR UPDATE`, customerID).Scan(&cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("repository: failed to lock cart: %w", err)
	}
	return cartID, true, nil
}

func (r *postgresRepository) SetQuantity(ctx context.Context, customerID, menuItemID int64, qty int) error {
	return db.WithTx(ctx, r.db, "SetQuantity", func(tx pgx.Tx) error {
		cartID, ok, err := lockCart(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrItemNotInCart
		}

		tag, err := tx.Exec(ctx, `UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND menu_item_id = $2`,
			cartID, menuItemID, qty)
		if err != nil {
			return fmt.Errorf("repository: failed to update cart item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrItemNotInCart
		}
		return nil
	})
}

func (r *postgresRepository) RemoveItem(ctx context.Context, customerID, menuItemID int64) error {
	return db.WithTx(ctx, r.db, "RemoveItem", func(tx pgx.Tx) error {
		cartID, ok, err := lockCart(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrItemNotInCart
		}

		tag, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND menu_item_id = $2`, cartID, menuItemID)
		if err != nil {
			return fmt.Errorf("repository: failed to remove cart item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrItemNotInCart
		}
		return nil
	})
}

func (r *postgresRepository) Clear(ctx context.Context, customerID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM carts WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("repository: failed to clear cart: %w", err)
	}
	return nil
}

// Checkout places the order for a quoted cart. Order, items, tax entry,
// branch sales and cart removal commit together or not at all.
func (r *postgresRepository) Checkout(ctx context.Context, customerID, branchID int64, quote Quote, now time.Time) (*order.Order, error) {
	var placed *order.Order
	err := db.WithTx(ctx, r.db, "Checkout", func(tx pgx.Tx) error {
		cartID, ok, err := lockCart(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrEmptyCart
		}

		lines, err := loadLines(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}
		if !quote.matches(lines) {
			return ErrCartChanged
		}

		items := make([]order.Item, 0, len(quote.Lines))
		for _, ql := range quote.Lines {
			items = append(items, order.Item{
				MenuItemID:   ql.MenuItemID,
				MenuItemName: ql.Name,
				Quantity:     ql.Quantity,
				UnitPrice:    ql.Price,
				Discount:     ql.Discount,
			})
		}

		placed, err = order.Insert(ctx, tx, order.Draft{
			CustomerID: customerID,
			BranchID:   branchID,
			Items:      items,
			Breakdown:  quote.Breakdown,
			PlacedAt:   now,
		})
		if err != nil {
			return err
		}

		if err := billing.RecordTaxCollection(ctx, tx, placed.ID, branchID, quote.Tax, now); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `UPDATE branches SET sales = sales + $2 WHERE id = $1`, branchID, quote.Total)
		if err != nil {
			return fmt.Errorf("repository: failed to update branch sales: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrBranchNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
			return fmt.Errorf("repository: failed to delete cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("order_id", placed.ID).Str("code", placed.Code).Int64("customer_id", customerID).Msg("Repository: Order placed")
	return placed, nil
}
