package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	GetMenuItem(ctx context.Context, id int64) (*MenuItem, error)
	// LatestOffer returns the most recently created enabled offer whose date
	// window contains day, or nil.
	LatestOffer(ctx context.Context, menuItemID int64, day time.Time) (*Offer, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetMenuItem(ctx context.Context, id int64) (*MenuItem, error) {
	query := `
		SELECT id, name, category, price, is_active
		FROM menu_items
		WHERE id = $1
	`

	var item MenuItem
	err := r.db.QueryRow(ctx, query, id).Scan(&item.ID, &item.Name, &item.Category, &item.Price, &item.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMenuItemNotFound
		}
		return nil, fmt.Errorf("repository: failed to select menu item %d: %w", id, err)
	}

	return &item, nil
}

func (r *postgresRepository) LatestOffer(ctx context.Context, menuItemID int64, day time.Time) (*Offer, error) {
	query := `
		SELECT id, menu_item_id, offer_type, discount_value, start_date, end_date, is_active
		FROM offers
		WHERE menu_item_id = $1 AND is_active AND start_date <= $2::date AND end_date >= $2::date
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var o Offer
	err := r.db.QueryRow(ctx, query, menuItemID, dateOf(day)).Scan(
		&o.ID, &o.MenuItemID, &o.Type, &o.DiscountValue, &o.StartDate, &o.EndDate, &o.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: failed to select offer for menu item %d: %w", menuItemID, err)
	}

	return &o, nil
}
