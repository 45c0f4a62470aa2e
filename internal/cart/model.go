// Package cart stages a customer's menu selections and turns them into an
// order in a single transaction.
package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/tff-platform/internal/billing"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrItemNotInCart     = errors.New("menu item is not in the cart")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrCartChanged       = errors.New("cart changed during checkout, please retry")
	ErrMenuItemNotActive = errors.New("menu item is not available")
)

// Line is one menu item in a cart. Price is captured when the item is first
// added and kept for the life of the line.
type Line struct {
	MenuItemID int64           `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	AddedAt    time.Time       `json:"added_at"`
}

type Cart struct {
	ID         int64  `json:"id,omitempty"`
	CustomerID int64  `json:"customer_id"`
	Lines      []Line `json:"items"`
}

func (c *Cart) Empty() bool {
	return c == nil || len(c.Lines) == 0
}

type QuoteLine struct {
	Line
	Discount  decimal.Decimal `json:"discount"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Quote struct {
	Lines []QuoteLine `json:"items"`
	billing.Breakdown
}

// NewQuote prices the lines with the given per-unit discounts.
func NewQuote(lines []Line, discounts map[int64]decimal.Decimal, rates billing.Rates) Quote {
	q := Quote{Lines: make([]QuoteLine, 0, len(lines))}
	bl := make([]billing.Line, 0, len(lines))
	for _, l := range lines {
		b := billing.Line{UnitPrice: l.Price, Discount: discounts[l.MenuItemID], Quantity: l.Quantity}
		bl = append(bl, b)
		q.Lines = append(q.Lines, QuoteLine{Line: l, Discount: b.Discount, LineTotal: b.Total()})
	}
	q.Breakdown = billing.Compute(bl, rates)
	return q
}

// matches reports whether the stored lines are still the ones that were
// quoted.
func (q Quote) matches(lines []Line) bool {
	if len(lines) != len(q.Lines) {
		return false
	}
	quoted := make(map[int64]QuoteLine, len(q.Lines))
	for _, ql := range q.Lines {
		quoted[ql.MenuItemID] = ql
	}
	for _, l := range lines {
		ql, ok := quoted[l.MenuItemID]
		if !ok || ql.Quantity != l.Quantity || !ql.Price.Equal(l.Price) {
			return false
		}
	}
	return true
}
