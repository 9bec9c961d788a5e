// Package reconcile owns the authoritative cart of one tab: it decides whether
// the guest store or the account store is the source of truth, routes every
// mutation to that store, and runs the one-time guest-to-account merge.
package reconcile

import (
	"storefront-cart/internal/model"
)

// LineItemDiff describes how one cart differs from another.
type LineItemDiff struct {
	Added   []model.CartItem // Lines in next but not prev
	Removed []model.CartItem // Lines in prev but not next
	Changed []QuantityChange // Lines in both with different quantities
}

// QuantityChange is a shared line whose quantity moved.
type QuantityChange struct {
	Key         string
	OldQuantity int
	NewQuantity int
}

// IsEmpty returns true if the carts hold the same lines in the same quantities.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffLineItems compares two carts line by line.
// Matching is by line key (ProductID, plus VariantID when present). Price and
// snapshot fields are ignored; only presence and quantity count as change.
func DiffLineItems(prev, next []model.CartItem) *LineItemDiff {
	diff := &LineItemDiff{}

	prevByKey := make(map[string]model.CartItem, len(prev))
	for _, item := range prev {
		prevByKey[item.Key()] = item
	}
	nextByKey := make(map[string]model.CartItem, len(next))
	for _, item := range next {
		nextByKey[item.Key()] = item
	}

	// Walk slices, not maps, so results keep cart order
	for _, item := range next {
		old, exists := prevByKey[item.Key()]
		if !exists {
			diff.Added = append(diff.Added, item)
			continue
		}
		if old.Quantity != item.Quantity {
			diff.Changed = append(diff.Changed, QuantityChange{
				Key:         item.Key(),
				OldQuantity: old.Quantity,
				NewQuantity: item.Quantity,
			})
		}
	}
	for _, item := range prev {
		if _, exists := nextByKey[item.Key()]; !exists {
			diff.Removed = append(diff.Removed, item)
		}
	}

	return diff
}

// CartChanged reports whether next differs from prev enough to count as user
// activity: a different line count, or any line added, dropped, or re-quantified.
func CartChanged(prev, next []model.CartItem) bool {
	if len(prev) != len(next) {
		return true
	}
	return !DiffLineItems(prev, next).IsEmpty()
}
