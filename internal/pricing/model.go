package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMenuItemNotFound = errors.New("menu item not found")

type OfferType string

const (
	OfferUpto OfferType = "upto" // percentage of the menu price
	OfferFlat OfferType = "flat" // fixed amount off
)

type MenuItem struct {
	ID       int64           `json:"id" db:"id"`
	Name     string          `json:"name" db:"name"`
	Category string          `json:"category" db:"category"`
	Price    decimal.Decimal `json:"price" db:"price"`
	IsActive bool            `json:"is_active" db:"is_active"`
}

type Offer struct {
	ID            int64           `json:"id" db:"id"`
	MenuItemID    int64           `json:"menu_item_id" db:"menu_item_id"`
	Type          OfferType       `json:"offer_type" db:"offer_type"`
	DiscountValue decimal.Decimal `json:"discount_value" db:"discount_value"`
	StartDate     time.Time       `json:"start_date" db:"start_date"`
	EndDate       time.Time       `json:"end_date" db:"end_date"`
	IsActive      bool            `json:"is_active" db:"is_active"`
}

var hundred = decimal.NewFromInt(100)

// ActiveOn reports whether the offer applies on the calendar day of asOf.
// Both bounds are inclusive.
func (o Offer) ActiveOn(asOf time.Time) bool {
	if !o.IsActive {
		return false
	}
	day := dateOf(asOf)
	return !day.Before(dateOf(o.StartDate)) && !day.After(dateOf(o.EndDate))
}

// DiscountFor returns the per-unit discount the offer grants on price.
// Percentages are rounded half to even, to the cent.
func (o Offer) DiscountFor(price decimal.Decimal) decimal.Decimal {
	switch o.Type {
	case OfferUpto:
		return price.Mul(o.DiscountValue).Div(hundred).RoundBank(2)
	case OfferFlat:
		return o.DiscountValue
	default:
		return decimal.Zero
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
