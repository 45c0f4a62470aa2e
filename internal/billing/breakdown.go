// Package billing computes order tax breakdowns and owns the tax-collection
// ledger the monthly GST notification reads from.
package billing

import (
	"github.com/shopspring/decimal"
)

// Rates are the two independent GST components, as fractions (0.025 = 2.5%).
type Rates struct {
	CGST decimal.Decimal
	SGST decimal.Decimal
}

func DefaultRates() Rates {
	return Rates{
		CGST: decimal.RequireFromString("0.025"),
		SGST: decimal.RequireFromString("0.025"),
	}
}

type Line struct {
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	Quantity  int
}

// Total is max(0, UnitPrice-Discount) * Quantity.
func (l Line) Total() decimal.Decimal {
	net := l.UnitPrice.Sub(l.Discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return net.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	CGST     decimal.Decimal `json:"cgst"`
	SGST     decimal.Decimal `json:"sgst"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Discount decimal.Decimal `json:"total_discount"`
}

// Compute derives the monetary fields of an order. Each tax component is
// rounded to the cent on its own, half to even.
func Compute(lines []Line, rates Rates) Breakdown {
	subtotal := decimal.Zero
	discount := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
		discount = discount.Add(l.Discount.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.RoundBank(2)

	cgst := subtotal.Mul(rates.CGST).RoundBank(2)
	sgst := subtotal.Mul(rates.SGST).RoundBank(2)
	tax := cgst.Add(sgst)

	return Breakdown{
		Subtotal: subtotal,
		CGST:     cgst,
		SGST:     sgst,
		Tax:      tax,
		Total:    subtotal.Add(tax).RoundBank(2),
		Discount: discount.RoundBank(2),
	}
}
