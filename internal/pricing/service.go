package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Service interface {
	MenuItem(ctx context.Context, id int64) (*MenuItem, error)
	// CurrentDiscount returns the per-unit discount active for the menu item
	// on asOf, or zero when no enabled offer covers that day.
	CurrentDiscount(ctx context.Context, menuItemID int64, asOf time.Time) (decimal.Decimal, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) MenuItem(ctx context.Context, id int64) (*MenuItem, error) {
	item, err := s.repo.GetMenuItem(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMenuItemNotFound) {
			return nil, ErrMenuItemNotFound
		}
		log.Error().Err(err).Int64("menu_item_id", id).Msg("service: failed to fetch menu item")
		return nil, fmt.Errorf("service: failed to fetch menu item: %w", err)
	}
	return item, nil
}

func (s *service) CurrentDiscount(ctx context.Context, menuItemID int64, asOf time.Time) (decimal.Decimal, error) {
	offer, err := s.repo.LatestOffer(ctx, menuItemID, asOf)
	if err != nil {
		log.Error().Err(err).Int64("menu_item_id", menuItemID).Msg("service: failed to fetch offer")
		return decimal.Zero, fmt.Errorf("service: failed to fetch offer: %w", err)
	}
	if offer == nil || !offer.ActiveOn(asOf) {
		return decimal.Zero, nil
	}
	if offer.Type == OfferFlat {
		return offer.DiscountFor(decimal.Zero), nil
	}

	item, err := s.MenuItem(ctx, menuItemID)
	if err != nil {
		return decimal.Zero, err
	}
	return offer.DiscountFor(item.Price), nil
}
