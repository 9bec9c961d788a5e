// Package warehouse enforces the single-warehouse rule: every line of a cart
// that names a warehouse must name the same one.
//
// The anchor is the first line in cart order carrying a warehouse. Lines and
// products without a warehouse impose no constraint and are always accepted.
package warehouse

import (
	"storefront-cart/internal/model"
)

// Anchor returns the warehouse the cart is pinned to, or nil if no line has one.
func Anchor(cart []model.CartItem) *model.Warehouse {
	for i := range cart {
		if cart[i].Warehouse != nil {
			return cart[i].Warehouse
		}
	}
	return nil
}

// CanAdd reports whether candidate may join cart.
func CanAdd(cart []model.CartItem, candidate model.Product) bool {
	return Check(cart, candidate) == nil
}

// Check validates candidate against cart. A rejection is a
// *model.WarehouseConflictError naming the anchor, identical in shape to the
// conflict the cart API returns.
func Check(cart []model.CartItem, candidate model.Product) error {
	if len(cart) == 0 || candidate.Warehouse == nil {
		return nil
	}
	anchor := Anchor(cart)
	if anchor == nil || anchor.ID == candidate.Warehouse.ID {
		return nil
	}
	return &model.WarehouseConflictError{
		Existing: anchor.DisplayName(),
		Incoming: candidate.Warehouse.DisplayName(),
	}
}

// Partition splits items into the subset compatible with the first warehouse
// encountered and the lines that conflict with it. Lines without a warehouse
// are always valid. Order is preserved within each subset.
func Partition(items []model.CartItem) (valid, conflicting []model.CartItem) {
	valid = []model.CartItem{}
	conflicting = []model.CartItem{}

	anchor := Anchor(items)
	for _, item := range items {
		if item.Warehouse == nil || anchor == nil || item.Warehouse.ID == anchor.ID {
			valid = append(valid, item)
			continue
		}
		conflicting = append(conflicting, item)
	}
	return valid, conflicting
}

// Distinct counts the different warehouse IDs present in items.
func Distinct(items []model.CartItem) int {
	seen := make(map[string]struct{})
	for _, item := range items {
		if item.Warehouse != nil {
			seen[item.Warehouse.ID] = struct{}{}
		}
	}
	return len(seen)
}
