package remote

import (
	"context"
	"net/http"
	"net/url"

	"storefront-cart/internal/model"
)

// cartResponse is the envelope every cart endpoint returns.
type cartResponse struct {
	Cart []model.CartItem `json:"cart"`
}

// cartMutation is the request body for add and update.
type cartMutation struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// GetCart loads the authenticated user's cart.
func (c *Client) GetCart(ctx context.Context) ([]model.CartItem, error) {
	var resp cartResponse
	if _, err := c.do(ctx, http.MethodGet, "/cart", nil, &resp); err != nil {
		return nil, err
	}
	return model.CloneItems(resp.Cart), nil
}

// AddToCart adds quantity of a product. The server re-validates the warehouse
// rule and answers a conflict with *model.WarehouseConflictError.
func (c *Client) AddToCart(ctx context.Context, product model.Product, quantity int) ([]model.CartItem, error) {
	body := cartMutation{ProductID: product.ProductID, VariantID: product.VariantID, Quantity: quantity}
	var resp cartResponse
	if _, err := c.do(ctx, http.MethodPost, "/cart/add", body, &resp); err != nil {
		return nil, err
	}
	return model.CloneItems(resp.Cart), nil
}

// UpdateCartItem sets the quantity of a line.
func (c *Client) UpdateCartItem(ctx context.Context, productID, variantID string, quantity int) ([]model.CartItem, error) {
	body := cartMutation{ProductID: productID, VariantID: variantID, Quantity: quantity}
	var resp cartResponse
	if _, err := c.do(ctx, http.MethodPut, "/cart/update", body, &resp); err != nil {
		return nil, err
	}
	return model.CloneItems(resp.Cart), nil
}

// RemoveCartItem deletes a line.
func (c *Client) RemoveCartItem(ctx context.Context, productID, variantID string) ([]model.CartItem, error) {
	path := "/cart/remove/" + url.PathEscape(productID)
	if variantID != "" {
		path += "?variantId=" + url.QueryEscape(variantID)
	}
	var resp cartResponse
	if _, err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, err
	}
	return model.CloneItems(resp.Cart), nil
}

// ClearCart empties the cart.
func (c *Client) ClearCart(ctx context.Context) ([]model.CartItem, error) {
	var resp cartResponse
	if _, err := c.do(ctx, http.MethodDelete, "/cart/clear", nil, &resp); err != nil {
		return nil, err
	}
	return model.CloneItems(resp.Cart), nil
}

// SyncResult is the outcome of merging a guest cart into the server cart.
type SyncResult struct {
	Items       []model.CartItem // Server cart after the merge
	Valid       []model.CartItem // Local lines accepted (all of them on full success)
	Conflicting []model.CartItem // Local lines rejected for warehouse mismatch
	Partial     bool             // Server answered 207
}

// Message renders the single combined user message for the outcome.
func (r *SyncResult) Message() string {
	return model.SyncMessage(len(r.Valid), len(r.Conflicting))
}

type syncRequest struct {
	LocalCart []model.CartItem `json:"localCart"`
}

type syncResponse struct {
	Cart             []model.CartItem `json:"cart"`
	Warning          string           `json:"warning,omitempty"`
	ValidItems       []model.CartItem `json:"validItems,omitempty"`
	ConflictingItems []model.CartItem `json:"conflictingItems,omitempty"`
}

// SyncCart merges local lines into the server cart. HTTP 207 is a partial
// success, not a failure: the accepted subset is the new cart.
func (c *Client) SyncCart(ctx context.Context, local []model.CartItem) (*SyncResult, error) {
	var resp syncResponse
	status, err := c.do(ctx, http.MethodPost, "/cart/sync", syncRequest{LocalCart: local}, &resp)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Items: model.CloneItems(resp.Cart)}
	if status == http.StatusMultiStatus || resp.Warning == model.WarehouseConflictCode {
		result.Partial = true
		result.Valid = model.CloneItems(resp.ValidItems)
		result.Conflicting = model.CloneItems(resp.ConflictingItems)
		return result, nil
	}

	result.Valid = model.CloneItems(local)
	result.Conflicting = []model.CartItem{}
	return result, nil
}
