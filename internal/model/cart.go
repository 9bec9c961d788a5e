// Package model defines the cart, wishlist, and identity types shared by every
// layer of the storefront cart engine, plus the error taxonomy callers branch on.
package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Warehouse is the fulfillment source of a cart line.
// DeliverySettings is carried through untouched; only ID takes part in the
// single-warehouse rule.
type Warehouse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	DeliverySettings json.RawMessage `json:"deliverySettings,omitempty"`
}

// DisplayName returns the name shown in conflict messages, falling back to the ID.
func (w *Warehouse) DisplayName() string {
	if w == nil {
		return ""
	}
	if w.Name != "" {
		return w.Name
	}
	return w.ID
}

// Product is a catalog entry offered for add-to-cart.
// VariantPrice wins over Price when the product is attribute-based.
type Product struct {
	ProductID        string           `json:"productId" validate:"required"`
	VariantID        string           `json:"variantId,omitempty"`
	Name             string           `json:"name,omitempty"`
	Image            string           `json:"image,omitempty"`
	Price            decimal.Decimal  `json:"price"`
	VariantPrice     *decimal.Decimal `json:"variantPrice,omitempty"`
	Tax              decimal.Decimal  `json:"tax"`
	PriceIncludesTax bool             `json:"priceIncludesTax"`
	Warehouse        *Warehouse       `json:"warehouse"`
	Stock            int              `json:"stock,omitempty" validate:"gte=0"`
}

// CartItem is one line of a cart.
// Price is snapshotted at add time and stays authoritative for totals until
// the next refresh from the server.
type CartItem struct {
	ProductID        string          `json:"productId" validate:"required"`
	VariantID        string          `json:"variantId,omitempty"`
	Quantity         int             `json:"quantity" validate:"min=1"`
	Price            decimal.Decimal `json:"price"`
	Warehouse        *Warehouse      `json:"warehouse"`
	Name             string          `json:"name,omitempty"`
	Image            string          `json:"image,omitempty"`
	Tax              decimal.Decimal `json:"tax"`
	PriceIncludesTax bool            `json:"priceIncludesTax"`
	Stock            int             `json:"stock,omitempty" validate:"gte=0"` // Units available when last added, 0 if unknown
}

// Key identifies the line: ProductID alone, or ProductID:VariantID for variants.
func (i CartItem) Key() string {
	return LineKey(i.ProductID, i.VariantID)
}

// LineKey builds the composite line identity used for matching cart lines.
func LineKey(productID, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + ":" + variantID
}

// NewCartItem snapshots a product into a cart line with the given quantity.
func NewCartItem(p Product, quantity int) CartItem {
	price := p.Price
	if p.VariantPrice != nil {
		price = *p.VariantPrice
	}
	return CartItem{
		ProductID:        p.ProductID,
		VariantID:        p.VariantID,
		Quantity:         quantity,
		Price:            price,
		Warehouse:        p.Warehouse,
		Name:             p.Name,
		Image:            p.Image,
		Tax:              p.Tax,
		PriceIncludesTax: p.PriceIncludesTax,
		Stock:            p.Stock,
	}
}

// Product returns the add-candidate view of a line, used when a stored line is
// re-validated against a cart.
func (i CartItem) Product() Product {
	return Product{
		ProductID:        i.ProductID,
		VariantID:        i.VariantID,
		Name:             i.Name,
		Image:            i.Image,
		Price:            i.Price,
		Tax:              i.Tax,
		PriceIncludesTax: i.PriceIncludesTax,
		Warehouse:        i.Warehouse,
		Stock:            i.Stock,
	}
}

// CountUnits returns the sum of quantities across all lines.
func CountUnits(items []CartItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

// CloneItems returns a shallow copy of the slice so callers can't mutate engine state.
func CloneItems(items []CartItem) []CartItem {
	if items == nil {
		return []CartItem{}
	}
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

// WishlistItem is a saved product. No quantity, no warehouse rule.
type WishlistItem struct {
	ProductID string          `json:"productId" validate:"required"`
	Name      string          `json:"name,omitempty"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
}

// Identity names whose cart is being reported.
// Exactly one of UserID and SessionID is set.
type Identity struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// IsGuest reports whether the identity belongs to an anonymous session.
func (id Identity) IsGuest() bool {
	return id.UserID == ""
}

// UserIdentity builds an authenticated identity.
func UserIdentity(userID string) Identity {
	return Identity{UserID: userID}
}

// GuestIdentity builds an anonymous identity.
func GuestIdentity(sessionID string) Identity {
	return Identity{SessionID: sessionID}
}

// ContactInfo is attached to abandoned-cart reports when known.
type ContactInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty"`
}

// User is the account profile stored alongside the token at login.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Contact returns the user's contact details for reporting.
func (u *User) Contact() ContactInfo {
	if u == nil {
		return ContactInfo{}
	}
	return ContactInfo{Name: u.Name, Email: u.Email, Phone: u.Phone}
}
