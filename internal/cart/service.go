package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/billing"
	"github.com/vasiliy-maslov/tff-platform/internal/order"
	"github.com/vasiliy-maslov/tff-platform/internal/pricing"
)

// Pricer is the menu and offer lookup the cart depends on.
type Pricer interface {
	MenuItem(ctx context.Context, id int64) (*pricing.MenuItem, error)
	CurrentDiscount(ctx context.Context, menuItemID int64, asOf time.Time) (decimal.Decimal, error)
}

type Service interface {
	AddItem(ctx context.Context, customerID, menuItemID int64, qty int) (*Line, error)
	UpdateQuantity(ctx context.Context, customerID, menuItemID int64, qty int) error
	RemoveItem(ctx context.Context, customerID, menuItemID int64) error
	Clear(ctx context.Context, customerID int64) error
	View(ctx context.Context, customerID int64) (*Quote, error)
	Checkout(ctx context.Context, customerID, branchID int64) (*order.Order, error)
}

type service struct {
	repo   Repository
	pricer Pricer
	rates  billing.Rates
	now    func() time.Time
}

func NewService(repo Repository, pricer Pricer, rates billing.Rates, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{repo: repo, pricer: pricer, rates: rates, now: now}
}

var domainErrors = []error{
	ErrInvalidQuantity,
	ErrEmptyCart,
	ErrItemNotInCart,
	ErrCustomerNotFound,
	ErrCartChanged,
	ErrMenuItemNotActive,
	pricing.ErrMenuItemNotFound,
	order.ErrBranchNotFound,
	order.ErrSequenceExhausted,
}

func wrap(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("service: %s: %w", op, err)
}

func (s *service) AddItem(ctx context.Context, customerID, menuItemID int64, qty int) (*Line, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	item, err := s.pricer.MenuItem(ctx, menuItemID)
	if err != nil {
		return nil, wrap("failed to fetch menu item", err)
	}
	if !item.IsActive {
		return nil, ErrMenuItemNotActive
	}

	line, err := s.repo.AddItem(ctx, customerID, menuItemID, qty, item.Price, s.now())
	if err != nil {
		log.Warn().Err(err).Int64("customer_id", customerID).Int64("menu_item_id", menuItemID).Msg("service: failed to add cart item")
		return nil, wrap("failed to add cart item", err)
	}
	line.Name = item.Name
	return line, nil
}

// UpdateQuantity sets a line's quantity; anything below 1 removes the line.
func (s *service) UpdateQuantity(ctx context.Context, customerID, menuItemID int64, qty int) error {
	if qty < 1 {
		return s.RemoveItem(ctx, customerID, menuItemID)
	}
	if err := s.repo.SetQuantity(ctx, customerID, menuItemID, qty); err != nil {
		return wrap("failed to update cart item", err)
	}
	return nil
}

func (s *service) RemoveItem(ctx context.Context, customerID, menuItemID int64) error {
	if err := s.repo.RemoveItem(ctx, customerID, menuItemID); err != nil {
		return wrap("failed to remove cart item", err)
	}
	return nil
}

func (s *service) Clear(ctx context.Context, customerID int64) error {
	if err := s.repo.Clear(ctx, customerID); err != nil {
		return wrap("failed to clear cart", err)
	}
	return nil
}

func (s *service) quote(ctx context.Context, c *Cart, asOf time.Time) (*Quote, error) {
	discounts := make(map[int64]decimal.Decimal, len(c.Lines))
	for _, l := range c.Lines {
		dsc, err := s.pricer.CurrentDiscount(ctx, l.MenuItemID, asOf)
		if err != nil {
			return nil, wrap("failed to resolve discount", err)
		}
		discounts[l.MenuItemID] = dsc
	}
	q := NewQuote(c.Lines, discounts, s.rates)
	return &q, nil
}

// View prices the cart as checkout would right now. An empty cart quotes to
// zero.
func (s *service) View(ctx context.Context, customerID int64) (*Quote, error) {
	c, err := s.repo.Get(ctx, customerID)
	if err != nil {
		return nil, wrap("failed to load cart", err)
	}
	return s.quote(ctx, c, s.now())
}

func (s *service) Checkout(ctx context.Context, customerID, branchID int64) (*order.Order, error) {
	now := s.now()

	c, err := s.repo.Get(ctx, customerID)
	if err != nil {
		return nil, wrap("failed to load cart", err)
	}
	if c.Empty() {
		return nil, ErrEmptyCart
	}

	q, err := s.quote(ctx, c, now)
	if err != nil {
		return nil, err
	}

	placed, err := s.repo.Checkout(ctx, customerID, branchID, *q, now)
	if err != nil {
		if errors.Is(err, ErrCartChanged) || errors.Is(err, ErrEmptyCart) {
			log.Warn().Err(err).Int64("customer_id", customerID).Msg("service: checkout rejected")
		} else {
			log.Error().Err(err).Int64("customer_id", customerID).Int64("branch_id", branchID).Msg("service: checkout failed")
		}
		return nil, wrap("failed to check out", err)
	}

	log.Info().
		Int64("order_id", placed.ID).
		Str("code", placed.Code).
		Str("total", placed.Total.StringFixed(2)).
		Msg("Service: Order placed from cart")
	return placed, nil
}
