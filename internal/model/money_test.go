package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"whole number", "99.00", "99"},
		{"with cents", "123.45", "123.45"},
		{"zero", "0.00", "0"},
		{"empty string", "", "0"},
		{"large value", "1234567.89", "1234567.89"},
		{"invalid string", "abc", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.input)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParsePrice(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestCalculateTotals(t *testing.T) {
	tests := []struct {
		name         string
		items        []CartItem
		wantSubtotal string
		wantTax      string
		wantTotal    string
		wantUnits    int
	}{
		{
			name:         "empty cart",
			items:        nil,
			wantSubtotal: "0",
			wantTax:      "0",
			wantTotal:    "0",
		},
		{
			name: "untaxed lines",
			items: []CartItem{
				{ProductID: "A", Quantity: 2, Price: decimal.RequireFromString("10.50")},
				{ProductID: "B", Quantity: 1, Price: decimal.RequireFromString("4.00")},
			},
			wantSubtotal: "25",
			wantTax:      "0",
			wantTotal:    "25",
			wantUnits:    3,
		},
		{
			name: "tax exclusive",
			items: []CartItem{
				{ProductID: "A", Quantity: 2, Price: decimal.RequireFromString("50"), Tax: decimal.NewFromInt(10)},
			},
			wantSubtotal: "100",
			wantTax:      "10",
			wantTotal:    "110",
			wantUnits:    2,
		},
		{
			name: "tax inclusive",
			items: []CartItem{
				{ProductID: "A", Quantity: 1, Price: decimal.RequireFromString("118"), Tax: decimal.NewFromInt(18), PriceIncludesTax: true},
			},
			wantSubtotal: "100",
			wantTax:      "18",
			wantTotal:    "118",
			wantUnits:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTotals(tt.items)
			if !got.Subtotal.Equal(decimal.RequireFromString(tt.wantSubtotal)) {
				t.Errorf("Subtotal = %s, want %s", got.Subtotal, tt.wantSubtotal)
			}
			if !got.Tax.Equal(decimal.RequireFromString(tt.wantTax)) {
				t.Errorf("Tax = %s, want %s", got.Tax, tt.wantTax)
			}
			if !got.Total.Equal(decimal.RequireFromString(tt.wantTotal)) {
				t.Errorf("Total = %s, want %s", got.Total, tt.wantTotal)
			}
			if got.Units != tt.wantUnits {
				t.Errorf("Units = %d, want %d", got.Units, tt.wantUnits)
			}
		})
	}
}
