package remote

import (
	"context"
	"sync"

	"storefront-cart/internal/model"
)

// Mock implements the cart, wishlist and abandoned-cart API for tests.
// Each method can be configured via function fields; unset methods act on an
// in-memory cart and wishlist. Calls counts invocations per method name.
type Mock struct {
	GetCartFunc        func(ctx context.Context) ([]model.CartItem, error)
	AddToCartFunc      func(ctx context.Context, product model.Product, quantity int) ([]model.CartItem, error)
	UpdateCartItemFunc func(ctx context.Context, productID, variantID string, quantity int) ([]model.CartItem, error)
	RemoveCartItemFunc func(ctx context.Context, productID, variantID string) ([]model.CartItem, error)
	ClearCartFunc      func(ctx context.Context) ([]model.CartItem, error)
	SyncCartFunc       func(ctx context.Context, local []model.CartItem) (*SyncResult, error)

	GetWishlistFunc  func(ctx context.Context) ([]model.WishlistItem, error)
	SyncWishlistFunc func(ctx context.Context, local []model.WishlistItem) ([]model.WishlistItem, error)

	TrackAbandonedFunc func(ctx context.Context, req TrackRequest) error
	MarkRecoveredFunc  func(ctx context.Context, id model.Identity) error
	ClearGuestFunc     func(ctx context.Context, sessionID string) error

	mu       sync.Mutex
	cart     []model.CartItem
	wishlist []model.WishlistItem
	calls    map[string]int

	tracked   []TrackRequest
	recovered []model.Identity
	cleared   []string
}

// Reports returns copies of the abandoned-cart calls received so far.
func (m *Mock) Reports() (tracked []TrackRequest, recovered []model.Identity, cleared []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TrackRequest{}, m.tracked...),
		append([]model.Identity{}, m.recovered...),
		append([]string{}, m.cleared...)
}

// SetCart seeds the server-side cart.
func (m *Mock) SetCart(items []model.CartItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = model.CloneItems(items)
}

// Cart returns the server-side cart.
func (m *Mock) Cart() []model.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CloneItems(m.cart)
}

// Calls returns how many times method was invoked.
func (m *Mock) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// GetCart calls the configured GetCartFunc or returns the in-memory cart.
func (m *Mock) GetCart(ctx context.Context) ([]model.CartItem, error) {
	m.record("GetCart")
	if m.GetCartFunc != nil {
		return m.GetCartFunc(ctx)
	}
	return m.Cart(), nil
}

// AddToCart calls the configured AddToCartFunc or appends to the in-memory cart.
func (m *Mock) AddToCart(ctx context.Context, product model.Product, quantity int) ([]model.CartItem, error) {
	m.record("AddToCart")
	if m.AddToCartFunc != nil {
		return m.AddToCartFunc(ctx, product, quantity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := model.LineKey(product.ProductID, product.VariantID)
	for i := range m.cart {
		if m.cart[i].Key() == key {
			m.cart[i].Quantity += quantity
			return model.CloneItems(m.cart), nil
		}
	}
	m.cart = append(m.cart, model.NewCartItem(product, quantity))
	return model.CloneItems(m.cart), nil
}

// UpdateCartItem calls the configured UpdateCartItemFunc or sets the quantity.
func (m *Mock) UpdateCartItem(ctx context.Context, productID, variantID string, quantity int) ([]model.CartItem, error) {
	m.record("UpdateCartItem")
	if m.UpdateCartItemFunc != nil {
		return m.UpdateCartItemFunc(ctx, productID, variantID, quantity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := model.LineKey(productID, variantID)
	for i := range m.cart {
		if m.cart[i].Key() == key {
			m.cart[i].Quantity = quantity
			return model.CloneItems(m.cart), nil
		}
	}
	return nil, model.NewNotFoundError("cart item")
}

// RemoveCartItem calls the configured RemoveCartItemFunc or drops the line.
func (m *Mock) RemoveCartItem(ctx context.Context, productID, variantID string) ([]model.CartItem, error) {
	m.record("RemoveCartItem")
	if m.RemoveCartItemFunc != nil {
		return m.RemoveCartItemFunc(ctx, productID, variantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := model.LineKey(productID, variantID)
	kept := []model.CartItem{}
	for _, item := range m.cart {
		if item.Key() != key {
			kept = append(kept, item)
		}
	}
	m.cart = kept
	return model.CloneItems(m.cart), nil
}

// ClearCart calls the configured ClearCartFunc or empties the in-memory cart.
func (m *Mock) ClearCart(ctx context.Context) ([]model.CartItem, error) {
	m.record("ClearCart")
	if m.ClearCartFunc != nil {
		return m.ClearCartFunc(ctx)
	}
	m.SetCart(nil)
	return []model.CartItem{}, nil
}

// SyncCart calls the configured SyncCartFunc or appends every local line.
func (m *Mock) SyncCart(ctx context.Context, local []model.CartItem) (*SyncResult, error) {
	m.record("SyncCart")
	if m.SyncCartFunc != nil {
		return m.SyncCartFunc(ctx, local)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = append(m.cart, local...)
	return &SyncResult{
		Items:       model.CloneItems(m.cart),
		Valid:       model.CloneItems(local),
		Conflicting: []model.CartItem{},
	}, nil
}

// GetWishlist calls the configured GetWishlistFunc or returns the in-memory wishlist.
func (m *Mock) GetWishlist(ctx context.Context) ([]model.WishlistItem, error) {
	m.record("GetWishlist")
	if m.GetWishlistFunc != nil {
		return m.GetWishlistFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.WishlistItem{}, m.wishlist...), nil
}

// AddToWishlist saves productID in the in-memory wishlist.
func (m *Mock) AddToWishlist(_ context.Context, productID string) ([]model.WishlistItem, error) {
	m.record("AddToWishlist")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.wishlist {
		if item.ProductID == productID {
			return append([]model.WishlistItem{}, m.wishlist...), nil
		}
	}
	m.wishlist = append(m.wishlist, model.WishlistItem{ProductID: productID})
	return append([]model.WishlistItem{}, m.wishlist...), nil
}

// RemoveFromWishlist drops productID from the in-memory wishlist.
func (m *Mock) RemoveFromWishlist(_ context.Context, productID string) ([]model.WishlistItem, error) {
	m.record("RemoveFromWishlist")
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := []model.WishlistItem{}
	for _, item := range m.wishlist {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	m.wishlist = kept
	return append([]model.WishlistItem{}, kept...), nil
}

// ClearWishlist empties the in-memory wishlist.
func (m *Mock) ClearWishlist(_ context.Context) ([]model.WishlistItem, error) {
	m.record("ClearWishlist")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wishlist = nil
	return []model.WishlistItem{}, nil
}

// SyncWishlist calls the configured SyncWishlistFunc or merges local entries.
func (m *Mock) SyncWishlist(ctx context.Context, local []model.WishlistItem) ([]model.WishlistItem, error) {
	m.record("SyncWishlist")
	if m.SyncWishlistFunc != nil {
		return m.SyncWishlistFunc(ctx, local)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wishlist = append(m.wishlist, local...)
	return append([]model.WishlistItem{}, m.wishlist...), nil
}

// TrackAbandoned calls the configured TrackAbandonedFunc or records the report.
func (m *Mock) TrackAbandoned(ctx context.Context, req TrackRequest) error {
	m.record("TrackAbandoned")
	if m.TrackAbandonedFunc != nil {
		return m.TrackAbandonedFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = append(m.tracked, req)
	return nil
}

// MarkRecovered calls the configured MarkRecoveredFunc or records the identity.
func (m *Mock) MarkRecovered(ctx context.Context, id model.Identity) error {
	m.record("MarkRecovered")
	if m.MarkRecoveredFunc != nil {
		return m.MarkRecoveredFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovered = append(m.recovered, id)
	return nil
}

// ClearGuest calls the configured ClearGuestFunc or records the session id.
func (m *Mock) ClearGuest(ctx context.Context, sessionID string) error {
	m.record("ClearGuest")
	if m.ClearGuestFunc != nil {
		return m.ClearGuestFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, sessionID)
	return nil
}
