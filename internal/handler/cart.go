package handler

import (
	"net/http"

	"storefront-cart/internal/model"
)

// cartResponse is the cart as served to clients.
type cartResponse struct {
	State   string           `json:"state"`
	Items   []model.CartItem `json:"items"`
	Totals  model.Totals     `json:"totals"`
	Loading bool             `json:"loading"`
}

func cartView(t *Tab) cartResponse {
	return cartResponse{
		State:   t.Engine.State().String(),
		Items:   t.Engine.Items(),
		Totals:  t.Engine.Totals(),
		Loading: t.Engine.Loading(),
	}
}

type wishlistResponse struct {
	State string               `json:"state"`
	Items []model.WishlistItem `json:"items"`
}

func wishlistView(t *Tab) wishlistResponse {
	return wishlistResponse{
		State: t.Wishlist.State().String(),
		Items: t.Wishlist.Items(),
	}
}

// addItemRequest is the body of POST /cart/items.
// Quantity defaults to 1 when omitted.
type addItemRequest struct {
	Product  model.Product `json:"product"`
	Quantity *int          `json:"quantity,omitempty"`
}

// updateItemRequest is the body of PUT /cart/items/{productId}.
// A quantity of zero or less removes the line.
type updateItemRequest struct {
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// handleGetCart returns the tab's cart.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(t))
}

// handleAddItem adds a product to the cart.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	if _, err := t.Engine.Add(r.Context(), req.Product, quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(t))
}

// handleUpdateItem sets the quantity of a line.
// PUT /cart/items/{productId}
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := t.Engine.Update(r.Context(), r.PathValue("productId"), req.VariantID, req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(t))
}

// handleRemoveItem drops a line. The variant is selected with ?variantId=.
// DELETE /cart/items/{productId}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	variantID := r.URL.Query().Get("variantId")
	if _, err := t.Engine.Remove(r.Context(), r.PathValue("productId"), variantID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(t))
}

// handleClearCart empties the cart.
// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := t.Engine.Clear(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(t))
}

// handleGetWishlist returns the tab's wishlist.
// GET /wishlist
func (h *Handler) handleGetWishlist(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wishlistView(t))
}

// handleAddWishlistItem saves a product.
// POST /wishlist/items
func (h *Handler) handleAddWishlistItem(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var item model.WishlistItem
	if err := decodeJSON(r, &item); err != nil {
		h.writeError(w, err)
		return
	}

	if err := t.Wishlist.Add(r.Context(), item); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wishlistView(t))
}

// handleRemoveWishlistItem drops a saved product.
// DELETE /wishlist/items/{productId}
func (h *Handler) handleRemoveWishlistItem(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := t.Wishlist.Remove(r.Context(), r.PathValue("productId")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wishlistView(t))
}

// handleGuestInfo stores the guest's contact details for abandoned-cart reports.
// PUT /guest-info
func (h *Handler) handleGuestInfo(w http.ResponseWriter, r *http.Request) {
	t, err := h.tab(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var info model.ContactInfo
	if err := decodeJSON(r, &info); err != nil {
		h.writeError(w, err)
		return
	}
	if err := model.Validate(info); err != nil {
		h.writeError(w, err)
		return
	}

	if err := t.Local.SetGuestInfo(r.Context(), info); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
