package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/remote"
	"storefront-cart/internal/storage"
	"storefront-cart/internal/warehouse"
)

// settleLocked runs after authentication. It either merges the guest cart into
// the account cart (first time this login) or loads the account cart, and
// always ends in LoggedInSynced.
func (e *Engine) settleLocked(ctx context.Context) (*remote.SyncResult, error) {
	if readFlag(ctx, e.session, storage.KeyCartSynced, e.logger) {
		e.setState(LoggedInSynced)
		return nil, e.loadAccountLocked(ctx)
	}

	local := e.loadLocalLocked(ctx)
	if len(local) == 0 {
		writeFlag(ctx, e.session, storage.KeyCartSynced, e.logger)
		e.metrics.Sync("cart", metrics.SyncSkipped)
		e.setState(LoggedInSynced)
		return nil, e.loadAccountLocked(ctx)
	}
	return e.syncLocked(ctx, local)
}

// syncLocked merges local into the account cart exactly once.
//
// The guest cart is cleared before the request is sent, not after it
// resolves. If the call fails the guest lines are gone; they are never
// resubmitted and never shown to whichever account logs in next on this
// profile. The sync flag is recorded up front for the same reason.
func (e *Engine) syncLocked(ctx context.Context, local []model.CartItem) (*remote.SyncResult, error) {
	if valid, conflicting := warehouse.Partition(local); len(conflicting) > 0 {
		e.logger.InfoContext(ctx, "guest cart spans warehouses, expecting partial sync",
			slog.Int("warehouses", warehouse.Distinct(local)),
			slog.Int("valid", len(valid)),
			slog.Int("conflicting", len(conflicting)))
	}

	if err := e.local.Clear(ctx); err != nil {
		e.logger.ErrorContext(ctx, "clearing guest cart before sync", slog.String("error", err.Error()))
	}
	writeFlag(ctx, e.session, storage.KeyCartSynced, e.logger)

	var result *remote.SyncResult
	_, err := e.callRemote(func() ([]model.CartItem, error) {
		var syncErr error
		result, syncErr = e.remote.SyncCart(ctx, local)
		return nil, syncErr
	})
	e.setState(LoggedInSynced)

	if err != nil {
		e.metrics.Sync("cart", metrics.SyncFailed)
		if model.IsUnauthorized(err) {
			return nil, err
		}
		e.logger.ErrorContext(ctx, "cart sync failed, loading account cart",
			slog.Int("local_items", len(local)),
			slog.String("error", err.Error()))
		if loadErr := e.loadAccountLocked(ctx); model.IsUnauthorized(loadErr) {
			return nil, loadErr
		}
		return nil, fmt.Errorf("syncing cart: %w", err)
	}

	e.setItems(result.Items)

	if result.Partial {
		e.metrics.Sync("cart", metrics.SyncPartial)
		e.metrics.Conflict(metrics.ConflictSync)
		e.logger.InfoContext(ctx, "cart partially synced",
			slog.Int("synced", len(result.Valid)),
			slog.Int("conflicting", len(result.Conflicting)))
		return result, &model.PartialSyncError{Synced: result.Valid, Conflicting: result.Conflicting}
	}

	e.metrics.Sync("cart", metrics.SyncFull)
	return result, nil
}

// loadAccountLocked replaces the cart with the server cart. On failure the cart
// is empty: the guest cart is never a fallback for an authenticated identity.
func (e *Engine) loadAccountLocked(ctx context.Context) error {
	items, err := e.callRemote(func() ([]model.CartItem, error) { return e.remote.GetCart(ctx) })
	if err != nil {
		e.setItems(nil)
		e.logger.ErrorContext(ctx, "loading account cart", slog.String("error", err.Error()))
		return fmt.Errorf("loading cart: %w", err)
	}
	e.setItems(items)
	return nil
}

// readFlag reports whether a per-login flag is recorded. Unreadable flags
// count as unset.
func readFlag(ctx context.Context, s SessionStore, key string, logger *slog.Logger) bool {
	var set bool
	err := storage.GetJSON(ctx, s, key, &set)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.WarnContext(ctx, "reading session flag",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	return err == nil && set
}

func writeFlag(ctx context.Context, s SessionStore, key string, logger *slog.Logger) {
	if err := storage.SetJSON(ctx, s, key, true); err != nil {
		logger.WarnContext(ctx, "writing session flag",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}
