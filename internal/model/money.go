package model

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals is the computed money summary of a cart.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Units    int             `json:"units"`
}

// ParsePrice converts a decimal string to a price.
// Empty or malformed strings yield zero, matching how snapshot fields degrade.
// Examples: "99.00" → 99, "1234.56" → 1234.56, "" → 0
func ParsePrice(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CalculateTotals sums the cart using the snapshotted line prices.
//
// Tax is a percentage rate per line. Tax-inclusive prices have the tax share
// extracted (gross - gross/(1+rate/100)); tax-exclusive prices have it added
// on top. Subtotal is always net of tax. Amounts are rounded to 2 places.
func CalculateTotals(items []CartItem) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero

	for _, item := range items {
		line := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		if item.Tax.IsZero() {
			subtotal = subtotal.Add(line)
			continue
		}
		rate := item.Tax.Div(hundred)
		if item.PriceIncludesTax {
			net := line.Div(decimal.NewFromInt(1).Add(rate))
			subtotal = subtotal.Add(net)
			tax = tax.Add(line.Sub(net))
		} else {
			subtotal = subtotal.Add(line)
			tax = tax.Add(line.Mul(rate))
		}
	}

	subtotal = subtotal.Round(2)
	tax = tax.Round(2)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
		Units:    CountUnits(items),
	}
}
