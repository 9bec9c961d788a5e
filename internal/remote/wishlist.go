package remote

import (
	"context"
	"net/http"
	"net/url"

	"storefront-cart/internal/model"
)

type wishlistResponse struct {
	Wishlist []model.WishlistItem `json:"wishlist"`
}

func wishlistItems(resp wishlistResponse) []model.WishlistItem {
	if resp.Wishlist == nil {
		return []model.WishlistItem{}
	}
	return resp.Wishlist
}

// GetWishlist loads the authenticated user's wishlist.
func (c *Client) GetWishlist(ctx context.Context) ([]model.WishlistItem, error) {
	var resp wishlistResponse
	if _, err := c.do(ctx, http.MethodGet, "/wishlist", nil, &resp); err != nil {
		return nil, err
	}
	return wishlistItems(resp), nil
}

// AddToWishlist saves a product.
func (c *Client) AddToWishlist(ctx context.Context, productID string) ([]model.WishlistItem, error) {
	body := map[string]string{"productId": productID}
	var resp wishlistResponse
	if _, err := c.do(ctx, http.MethodPost, "/wishlist/add", body, &resp); err != nil {
		return nil, err
	}
	return wishlistItems(resp), nil
}

// RemoveFromWishlist drops a product.
func (c *Client) RemoveFromWishlist(ctx context.Context, productID string) ([]model.WishlistItem, error) {
	var resp wishlistResponse
	if _, err := c.do(ctx, http.MethodDelete, "/wishlist/remove/"+url.PathEscape(productID), nil, &resp); err != nil {
		return nil, err
	}
	return wishlistItems(resp), nil
}

// ClearWishlist empties the wishlist.
func (c *Client) ClearWishlist(ctx context.Context) ([]model.WishlistItem, error) {
	var resp wishlistResponse
	if _, err := c.do(ctx, http.MethodDelete, "/wishlist/clear", nil, &resp); err != nil {
		return nil, err
	}
	return wishlistItems(resp), nil
}

// SyncWishlist merges guest wishlist entries into the server wishlist.
func (c *Client) SyncWishlist(ctx context.Context, local []model.WishlistItem) ([]model.WishlistItem, error) {
	body := map[string][]model.WishlistItem{"localWishlist": local}
	var resp wishlistResponse
	if _, err := c.do(ctx, http.MethodPost, "/wishlist/sync", body, &resp); err != nil {
		return nil, err
	}
	return wishlistItems(resp), nil
}
