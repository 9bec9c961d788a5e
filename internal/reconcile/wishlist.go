package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/storage"
)

// LocalWishlist is the guest wishlist persistence.
type LocalWishlist interface {
	Wishlist(ctx context.Context) ([]model.WishlistItem, error)
	SetWishlist(ctx context.Context, items []model.WishlistItem) error
	ClearWishlist(ctx context.Context) error
}

// RemoteWishlist is the account wishlist API.
type RemoteWishlist interface {
	GetWishlist(ctx context.Context) ([]model.WishlistItem, error)
	AddToWishlist(ctx context.Context, productID string) ([]model.WishlistItem, error)
	RemoveFromWishlist(ctx context.Context, productID string) ([]model.WishlistItem, error)
	ClearWishlist(ctx context.Context) ([]model.WishlistItem, error)
	SyncWishlist(ctx context.Context, local []model.WishlistItem) ([]model.WishlistItem, error)
}

// Wishlist follows the cart's state machine and sync rule without the
// warehouse constraint.
type Wishlist struct {
	opMu sync.Mutex

	mu    sync.RWMutex
	state State
	items []model.WishlistItem

	local   LocalWishlist
	remote  RemoteWishlist
	session SessionStore

	logger         *slog.Logger
	metrics        *metrics.Metrics
	onUnauthorized func(ctx context.Context)
}

// NewWishlist creates a wishlist in the LoggedOut state.
func NewWishlist(local LocalWishlist, rw RemoteWishlist, session SessionStore, opts Options) *Wishlist {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Wishlist{
		items:          []model.WishlistItem{},
		local:          local,
		remote:         rw,
		session:        session,
		logger:         logger,
		metrics:        opts.Metrics,
		onUnauthorized: opts.OnUnauthorized,
	}
}

// State returns the current state.
func (w *Wishlist) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Items returns a copy of the wishlist.
func (w *Wishlist) Items() []model.WishlistItem {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneWishlist(w.items)
}

// Contains reports whether productID is saved.
func (w *Wishlist) Contains(productID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, item := range w.items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

func (w *Wishlist) set(state State, items []model.WishlistItem) {
	w.mu.Lock()
	w.state = state
	w.items = cloneWishlist(items)
	w.mu.Unlock()
}

// Start loads the wishlist for an existing session.
func (w *Wishlist) Start(ctx context.Context, authenticated bool) error {
	if authenticated {
		w.opMu.Lock()
		return w.loginLocked(ctx)
	}
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.set(LoggedOut, w.loadLocalLocked(ctx))
	return nil
}

// Login merges the guest wishlist at most once per login, then serves the
// account wishlist.
func (w *Wishlist) Login(ctx context.Context) error {
	w.opMu.Lock()
	if w.State().LoggedIn() {
		w.opMu.Unlock()
		return nil
	}
	return w.loginLocked(ctx)
}

// loginLocked is entered holding opMu and releases it.
func (w *Wishlist) loginLocked(ctx context.Context) error {
	w.set(LoggedInUnsynced, nil)
	err := w.settleLocked(ctx)
	forced := w.checkUnauthorizedLocked(ctx, err)
	w.opMu.Unlock()

	if forced && w.onUnauthorized != nil {
		w.onUnauthorized(ctx)
	}
	return err
}

func (w *Wishlist) settleLocked(ctx context.Context) error {
	if readFlag(ctx, w.session, storage.KeyWishSynced, w.logger) {
		return w.loadAccountLocked(ctx)
	}

	local := w.loadLocalLocked(ctx)
	writeFlag(ctx, w.session, storage.KeyWishSynced, w.logger)
	if len(local) == 0 {
		w.metrics.Sync("wishlist", metrics.SyncSkipped)
		return w.loadAccountLocked(ctx)
	}

	// Cleared before the request for the same isolation reason as the cart
	if err := w.local.ClearWishlist(ctx); err != nil {
		w.logger.ErrorContext(ctx, "clearing guest wishlist before sync", slog.String("error", err.Error()))
	}
	items, err := w.remote.SyncWishlist(ctx, local)
	if err != nil {
		w.metrics.Sync("wishlist", metrics.SyncFailed)
		if model.IsUnauthorized(err) {
			return err
		}
		w.logger.ErrorContext(ctx, "wishlist sync failed, loading account wishlist",
			slog.String("error", err.Error()))
		if loadErr := w.loadAccountLocked(ctx); model.IsUnauthorized(loadErr) {
			return loadErr
		}
		return fmt.Errorf("syncing wishlist: %w", err)
	}
	w.metrics.Sync("wishlist", metrics.SyncFull)
	w.set(LoggedInSynced, items)
	return nil
}

func (w *Wishlist) loadAccountLocked(ctx context.Context) error {
	items, err := w.remote.GetWishlist(ctx)
	if err != nil {
		w.set(LoggedInSynced, nil)
		w.logger.ErrorContext(ctx, "loading account wishlist", slog.String("error", err.Error()))
		return fmt.Errorf("loading wishlist: %w", err)
	}
	w.set(LoggedInSynced, items)
	return nil
}

func (w *Wishlist) loadLocalLocked(ctx context.Context) []model.WishlistItem {
	items, err := w.local.Wishlist(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "loading guest wishlist", slog.String("error", err.Error()))
		return nil
	}
	return items
}

// Logout clears the account wishlist and its sync flag and shows the guest
// wishlist again.
func (w *Wishlist) Logout(ctx context.Context) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if !w.State().LoggedIn() {
		return nil
	}
	w.resetLocked(ctx)
	return nil
}

func (w *Wishlist) resetLocked(ctx context.Context) {
	if err := w.session.Delete(ctx, storage.KeyWishSynced); err != nil {
		w.logger.WarnContext(ctx, "clearing wishlist sync flag", slog.String("error", err.Error()))
	}
	w.set(LoggedOut, w.loadLocalLocked(ctx))
}

func (w *Wishlist) checkUnauthorizedLocked(ctx context.Context, err error) bool {
	if err == nil || !model.IsUnauthorized(err) || !w.State().LoggedIn() {
		return false
	}
	w.resetLocked(ctx)
	return true
}

// Refresh reloads from the current source of truth.
func (w *Wishlist) Refresh(ctx context.Context) error {
	return w.dispatch(ctx,
		func(current []model.WishlistItem) ([]model.WishlistItem, error) {
			return w.loadLocalLocked(ctx), nil
		},
		func() ([]model.WishlistItem, error) { return w.remote.GetWishlist(ctx) },
	)
}

// Add saves an item. Adding a saved product is a no-op.
func (w *Wishlist) Add(ctx context.Context, item model.WishlistItem) error {
	if err := model.Validate(item); err != nil {
		return err
	}
	return w.dispatch(ctx,
		func(current []model.WishlistItem) ([]model.WishlistItem, error) {
			for _, existing := range current {
				if existing.ProductID == item.ProductID {
					return current, nil
				}
			}
			return append(current, item), nil
		},
		func() ([]model.WishlistItem, error) { return w.remote.AddToWishlist(ctx, item.ProductID) },
	)
}

// Remove drops a saved product.
func (w *Wishlist) Remove(ctx context.Context, productID string) error {
	return w.dispatch(ctx,
		func(current []model.WishlistItem) ([]model.WishlistItem, error) {
			kept := make([]model.WishlistItem, 0, len(current))
			for _, existing := range current {
				if existing.ProductID != productID {
					kept = append(kept, existing)
				}
			}
			return kept, nil
		},
		func() ([]model.WishlistItem, error) { return w.remote.RemoveFromWishlist(ctx, productID) },
	)
}

// Clear empties the wishlist.
func (w *Wishlist) Clear(ctx context.Context) error {
	return w.dispatch(ctx,
		func([]model.WishlistItem) ([]model.WishlistItem, error) { return []model.WishlistItem{}, nil },
		func() ([]model.WishlistItem, error) { return w.remote.ClearWishlist(ctx) },
	)
}

// dispatch routes a mutation by state. The guest branch receives the freshly
// read local wishlist and its result is persisted; the account branch's
// response replaces the wishlist.
func (w *Wishlist) dispatch(ctx context.Context,
	guest func(current []model.WishlistItem) ([]model.WishlistItem, error),
	account func() ([]model.WishlistItem, error),
) error {
	w.opMu.Lock()
	state := w.State()

	var items []model.WishlistItem
	var err error
	if state.LoggedIn() {
		items, err = account()
	} else {
		items, err = guest(w.loadLocalLocked(ctx))
		if err == nil {
			err = w.local.SetWishlist(ctx, items)
		}
	}

	if err != nil {
		forced := w.checkUnauthorizedLocked(ctx, err)
		w.opMu.Unlock()
		if forced && w.onUnauthorized != nil {
			w.onUnauthorized(ctx)
		}
		return err
	}
	w.set(state, items)
	w.opMu.Unlock()
	return nil
}

func cloneWishlist(items []model.WishlistItem) []model.WishlistItem {
	out := make([]model.WishlistItem, len(items))
	copy(out, items)
	return out
}
