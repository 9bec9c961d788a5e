// Package storage provides the key/value persistence that stands in for a
// browser profile's local storage: plain JSON values under string keys,
// shared by every tab of the profile, with best-effort change notification.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Keys persisted in a profile's local storage.
const (
	KeyToken       = "token"
	KeyCart        = "cart"
	KeyWishlist    = "wishlistItems"
	KeySessionID   = "cart_session_id"
	KeyGuestInfo   = "guest_info"
	KeyUser        = "user"
	KeyCartSynced  = "cartSynced"
	KeyWishSynced  = "wishlistSynced"
	changesChannel = "changes"
)

// Change describes a write observed on a shared store.
// Source is the ID of the tab that made the write.
type Change struct {
	Key    string `json:"key"`
	Source string `json:"source"`
}

// Store is a profile-wide key/value store.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Publish announces a change to every subscriber of the profile.
	Publish(ctx context.Context, change Change) error

	// Subscribe registers fn for change announcements until cancel is called.
	Subscribe(ctx context.Context, fn func(Change)) (cancel func(), err error)

	Close() error
}

// Opener opens the store for one profile. Backends namespace keys per profile.
type Opener interface {
	Open(ctx context.Context, profile string) (Store, error)
	Close() error
}

// Tab is one reader/writer of a shared store. Writes through a Tab are
// announced to other tabs; a tab never hears its own writes, matching the
// browser storage-event contract.
type Tab struct {
	store Store
	id    string
}

// NewTab binds a tab ID to a shared store.
func NewTab(store Store, id string) *Tab {
	return &Tab{store: store, id: id}
}

// ID returns the tab identifier.
func (t *Tab) ID() string { return t.id }

// Get reads a raw value.
func (t *Tab) Get(ctx context.Context, key string) ([]byte, error) {
	return t.store.Get(ctx, key)
}

// Set writes a raw value and announces it.
func (t *Tab) Set(ctx context.Context, key string, value []byte) error {
	if err := t.store.Set(ctx, key, value); err != nil {
		return err
	}
	return t.store.Publish(ctx, Change{Key: key, Source: t.id})
}

// Delete removes a key and announces it.
func (t *Tab) Delete(ctx context.Context, key string) error {
	if err := t.store.Delete(ctx, key); err != nil {
		return err
	}
	return t.store.Publish(ctx, Change{Key: key, Source: t.id})
}

// Watch calls fn for writes made by other tabs.
func (t *Tab) Watch(ctx context.Context, fn func(Change)) (func(), error) {
	return t.store.Subscribe(ctx, func(c Change) {
		if c.Source == t.id {
			return
		}
		fn(c)
	})
}

// GetJSON decodes the value under key into v.
// Returns ErrNotFound when the key is absent.
func GetJSON(ctx context.Context, r interface {
	Get(context.Context, string) ([]byte, error)
}, key string, v any) error {
	data, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Key: key, Err: err}
	}
	return nil
}

// DecodeError reports a stored value that is not valid JSON for its type.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, w interface {
	Set(context.Context, string, []byte) error
}, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return w.Set(ctx, key, data)
}
