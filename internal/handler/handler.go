// Package handler hosts cart profiles and exposes them over REST and MCP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/negotiation"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	host       *Host
	metrics    *metrics.Metrics
	minVersion string
	logger     *slog.Logger
}

// New creates a new Handler serving the host's profiles.
// minVersion gates MCP callers the same way negotiation.Middleware gates REST
// callers; empty accepts every client.
func New(host *Host, m *metrics.Metrics, minVersion string, logger *slog.Logger) *Handler {
	return &Handler{
		host:       host,
		metrics:    m,
		minVersion: minVersion,
		logger:     logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Cart
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("PUT /cart/items/{productId}", h.handleUpdateItem)
	mux.HandleFunc("DELETE /cart/items/{productId}", h.handleRemoveItem)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)

	// Session
	mux.HandleFunc("POST /session/login", h.handleLogin)
	mux.HandleFunc("POST /session/logout", h.handleLogout)
	mux.HandleFunc("PUT /guest-info", h.handleGuestInfo)

	// Wishlist
	mux.HandleFunc("GET /wishlist", h.handleGetWishlist)
	mux.HandleFunc("POST /wishlist/items", h.handleAddWishlistItem)
	mux.HandleFunc("DELETE /wishlist/items/{productId}", h.handleRemoveWishlistItem)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Infrastructure
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", h.metrics.Handler())
}

// tab resolves the tab addressed by the request's Cart-Profile header.
func (h *Handler) tab(ctx context.Context) (*Tab, error) {
	ref, ok := negotiation.FromContext(ctx)
	if !ok {
		return nil, &model.APIError{
			Code:       "PROFILE_REQUIRED",
			Message:    "Cart-Profile header is required",
			StatusCode: http.StatusBadRequest,
			Err:        model.ErrInvalidRequest,
		}
	}
	return h.host.Tab(ctx, ref)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from the error chain.
// Warehouse conflicts become 409 with the anchor warehouse name.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if conflict, ok := model.AsWarehouseConflict(err); ok {
		h.writeJSON(w, http.StatusConflict, errorResponse{
			Error: errorBody{
				Code:      model.WarehouseConflictCode,
				Message:   conflict.Error(),
				Warehouse: conflict.Existing,
			},
		})
		return
	}

	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		// Found APIError in error chain - use it
	case errors.Is(err, ErrHostClosed):
		apiErr = &model.APIError{
			Code:       "UNAVAILABLE",
			Message:    "service is shutting down",
			StatusCode: http.StatusServiceUnavailable,
		}
	default:
		// Wrap unexpected errors
		apiErr = model.NewInternalError(err)
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Warehouse string `json:"warehouse,omitempty"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}
