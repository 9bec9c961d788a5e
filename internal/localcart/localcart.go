// Package localcart persists the guest cart, guest wishlist, guest session id
// and guest contact details in a profile's local storage.
//
// It is pure read-modify-write persistence. Merge and routing decisions belong
// to the reconciliation engine.
package localcart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"storefront-cart/internal/model"
	"storefront-cart/internal/storage"
)

// Store is the guest-side view of a profile's local storage.
type Store struct {
	tab    *storage.Tab
	logger *slog.Logger
}

// New creates a local store bound to one tab of a profile.
func New(tab *storage.Tab, logger *slog.Logger) *Store {
	return &Store{tab: tab, logger: logger}
}

// Items returns the guest cart. A missing or unreadable value is an empty cart.
func (s *Store) Items(ctx context.Context) ([]model.CartItem, error) {
	var items []model.CartItem
	if err := s.read(ctx, storage.KeyCart, &items); err != nil {
		return nil, err
	}
	return model.CloneItems(items), nil
}

// SetItems replaces the guest cart. Lines with quantity below 1 are dropped,
// never stored.
func (s *Store) SetItems(ctx context.Context, items []model.CartItem) error {
	kept := make([]model.CartItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			continue
		}
		kept = append(kept, item)
	}
	if err := storage.SetJSON(ctx, s.tab, storage.KeyCart, kept); err != nil {
		return fmt.Errorf("saving local cart: %w", err)
	}
	return nil
}

// Clear removes the guest cart.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.tab.Delete(ctx, storage.KeyCart); err != nil {
		return fmt.Errorf("clearing local cart: %w", err)
	}
	return nil
}

// Wishlist returns the guest wishlist.
func (s *Store) Wishlist(ctx context.Context) ([]model.WishlistItem, error) {
	var items []model.WishlistItem
	if err := s.read(ctx, storage.KeyWishlist, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.WishlistItem{}
	}
	return items, nil
}

// SetWishlist replaces the guest wishlist.
func (s *Store) SetWishlist(ctx context.Context, items []model.WishlistItem) error {
	if items == nil {
		items = []model.WishlistItem{}
	}
	if err := storage.SetJSON(ctx, s.tab, storage.KeyWishlist, items); err != nil {
		return fmt.Errorf("saving local wishlist: %w", err)
	}
	return nil
}

// ClearWishlist removes the guest wishlist.
func (s *Store) ClearWishlist(ctx context.Context) error {
	if err := s.tab.Delete(ctx, storage.KeyWishlist); err != nil {
		return fmt.Errorf("clearing local wishlist: %w", err)
	}
	return nil
}

// SessionID returns the anonymous session id, creating it on first use.
// It stays stable for the life of the profile's storage.
func (s *Store) SessionID(ctx context.Context) (string, error) {
	var id string
	err := storage.GetJSON(ctx, s.tab, storage.KeySessionID, &id)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.WarnContext(ctx, "unreadable session id, regenerating",
			slog.String("error", err.Error()))
	}

	id = uuid.NewString()
	if err := storage.SetJSON(ctx, s.tab, storage.KeySessionID, id); err != nil {
		return "", fmt.Errorf("saving session id: %w", err)
	}
	return id, nil
}

// GuestInfo returns contact details a guest entered, if any.
func (s *Store) GuestInfo(ctx context.Context) (model.ContactInfo, error) {
	var info model.ContactInfo
	if err := s.read(ctx, storage.KeyGuestInfo, &info); err != nil {
		return model.ContactInfo{}, err
	}
	return info, nil
}

// SetGuestInfo stores guest contact details.
func (s *Store) SetGuestInfo(ctx context.Context, info model.ContactInfo) error {
	if err := model.Validate(info); err != nil {
		return err
	}
	if err := storage.SetJSON(ctx, s.tab, storage.KeyGuestInfo, info); err != nil {
		return fmt.Errorf("saving guest info: %w", err)
	}
	return nil
}

// Watch calls fn when another tab of the profile writes one of keys.
func (s *Store) Watch(ctx context.Context, fn func(key string), keys ...string) (func(), error) {
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	return s.tab.Watch(ctx, func(c storage.Change) {
		if len(wanted) == 0 || wanted[c.Key] {
			fn(c.Key)
		}
	})
}

// read decodes key into v. Missing keys leave v untouched; corrupt values are
// logged and treated as missing so one bad write can't wedge the guest cart.
func (s *Store) read(ctx context.Context, key string, v any) error {
	err := storage.GetJSON(ctx, s.tab, key, v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		var decodeErr *storage.DecodeError
		if errors.As(err, &decodeErr) {
			s.logger.WarnContext(ctx, "discarding unreadable local value",
				slog.String("key", key),
				slog.String("error", err.Error()))
			return nil
		}
		return fmt.Errorf("reading %s: %w", key, err)
	}
}
