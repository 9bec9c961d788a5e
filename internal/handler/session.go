package handler

import (
	"context"
	"net/http"

	"storefront-cart/internal/model"
	"storefront-cart/internal/remote"
)

// loginRequest is the body of POST /session/login.
type loginRequest struct {
	Token string      `json:"token"`
	User  *model.User `json:"user,omitempty"`
}

// sessionResponse reports the session and the cart it settled on.
type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *model.User  `json:"user,omitempty"`
	Cart          cartResponse `json:"cart"`
	Sync          *syncBody    `json:"sync,omitempty"`
	Warning       string       `json:"warning,omitempty"`
}

// syncBody is the outcome of merging the guest cart at login.
type syncBody struct {
	Message     string           `json:"message"`
	Partial     bool             `json:"partial"`
	Synced      []model.CartItem `json:"synced"`
	Conflicting []model.CartItem `json:"conflicting"`
}

func syncView(result *remote.SyncResult) *syncBody {
	if result == nil {
		return nil
	}
	return &syncBody{
		Message:     result.Message(),
		Partial:     result.Partial,
		Synced:      model.CloneItems(result.Valid),
		Conflicting: model.CloneItems(result.Conflicting),
	}
}

func (h *Handler) sessionView(ctx context.Context, t *Tab) sessionResponse {
	resp := sessionResponse{
		Authenticated: t.Bridge.Authenticated(ctx),
		Cart:          cartView(t),
	}
	if resp.Authenticated {
		if user, err := t.Bridge.User(ctx); err == nil {
			resp.User = user
		}
	}
	return resp
}

// handleLogin stores the token and settles the account cart.
// A partial sync answers 207 with the combined message. A failed sync or load
// still logs in; the response carries a warning and the cart that was loaded.
// POST /session/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.tab(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	wasAuthenticated := t.Bridge.Authenticated(ctx)
	result, err := h.host.Login(ctx, t, req.Token, req.User)

	status := http.StatusOK
	resp := h.sessionView(ctx, t)
	resp.Sync = syncView(result)
	switch {
	case err == nil:
	case model.IsPartialSync(err):
		status = http.StatusMultiStatus
	case !wasAuthenticated && resp.Authenticated:
		resp.Warning = err.Error()
	default:
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, status, resp)
}

// handleLogout ends the session and returns the tab to its guest cart.
// POST /session/logout
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.tab(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.host.Logout(ctx, t); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessionView(ctx, t))
}
