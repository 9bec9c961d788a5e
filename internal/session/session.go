// Package session bridges authentication changes to the cart engine and the
// abandoned-cart tracker.
//
// Ordering is the point of this package. On login the engine settles the
// authoritative cart (sync or load) before the tracker looks at it. On logout
// the tracker reports against the outgoing identity before the token is
// purged and the engine falls back to the guest cart.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront-cart/internal/model"
	"storefront-cart/internal/remote"
	"storefront-cart/internal/storage"
)

// Engine is the cart engine as seen by the bridge.
type Engine interface {
	Start(ctx context.Context, authenticated bool) (*remote.SyncResult, error)
	Login(ctx context.Context) (*remote.SyncResult, error)
	Logout(ctx context.Context) error
	Items() []model.CartItem
	Observe(fn func(ctx context.Context, items []model.CartItem))
}

// Wishlist is the wishlist engine as seen by the bridge.
type Wishlist interface {
	Start(ctx context.Context, authenticated bool) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Tracker is the abandoned-cart tracker as seen by the bridge.
type Tracker interface {
	UpdateTracking(ctx context.Context, cart []model.CartItem, id model.Identity, contact model.ContactInfo)
	StopTracking(ctx context.Context, id model.Identity)
}

// Guest provides the anonymous identity and contact details.
type Guest interface {
	SessionID(ctx context.Context) (string, error)
	GuestInfo(ctx context.Context) (model.ContactInfo, error)
}

// Options configures a Bridge.
type Options struct {
	Wishlist Wishlist // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

// Bridge owns the token and drives engine and tracker on auth changes.
type Bridge struct {
	mu sync.Mutex // serializes Start, Login and Logout

	tab      *storage.Tab
	guest    Guest
	engine   Engine
	wishlist Wishlist
	tracker  Tracker
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a bridge and subscribes the tracker to engine changes.
func New(tab *storage.Tab, guest Guest, engine Engine, tracker Tracker, opts Options) *Bridge {
	b := &Bridge{
		tab:      tab,
		guest:    guest,
		engine:   engine,
		wishlist: opts.Wishlist,
		tracker:  tracker,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	engine.Observe(b.observe)
	return b
}

// TokenSource reads the bearer token from a profile tab. It is handed to the
// remote client so every request carries the current token.
func TokenSource(tab *storage.Tab) remote.TokenSource {
	return func(ctx context.Context) (string, error) {
		token, err := readToken(ctx, tab)
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return token, err
	}
}

func readToken(ctx context.Context, tab *storage.Tab) (string, error) {
	var token string
	if err := storage.GetJSON(ctx, tab, storage.KeyToken, &token); err != nil {
		return "", err
	}
	if token == "" {
		return "", storage.ErrNotFound
	}
	return token, nil
}

// =============================================================================
// IDENTITY
// =============================================================================

// Authenticated reports whether a token is stored.
func (b *Bridge) Authenticated(ctx context.Context) bool {
	_, err := readToken(ctx, b.tab)
	return err == nil
}

// Identity returns the account identity when a token is stored, otherwise
// the guest session identity.
func (b *Bridge) Identity(ctx context.Context) model.Identity {
	if userID := b.userID(ctx); userID != "" {
		return model.UserIdentity(userID)
	}
	sessionID, err := b.guest.SessionID(ctx)
	if err != nil {
		b.logger.WarnContext(ctx, "reading guest session id", slog.String("error", err.Error()))
	}
	return model.GuestIdentity(sessionID)
}

// Contact returns the logged-in user's details or the guest's entered details.
func (b *Bridge) Contact(ctx context.Context) model.ContactInfo {
	if b.Authenticated(ctx) {
		user, err := b.User(ctx)
		if err == nil {
			return user.Contact()
		}
		return model.ContactInfo{}
	}
	info, err := b.guest.GuestInfo(ctx)
	if err != nil {
		b.logger.WarnContext(ctx, "reading guest info", slog.String("error", err.Error()))
	}
	return info
}

// User returns the stored account profile.
func (b *Bridge) User(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := storage.GetJSON(ctx, b.tab, storage.KeyUser, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (b *Bridge) userID(ctx context.Context) string {
	token, err := readToken(ctx, b.tab)
	if err != nil {
		return ""
	}
	if claims, err := ParseClaims(token); err == nil && claims.UserID != "" {
		return claims.UserID
	}
	if user, err := b.User(ctx); err == nil {
		return user.ID
	}
	return ""
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Start restores the session on app start. An expired token is purged and the
// profile starts as a guest.
func (b *Bridge) Start(ctx context.Context) (*remote.SyncResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	authenticated := false
	if token, err := readToken(ctx, b.tab); err == nil {
		claims, parseErr := ParseClaims(token)
		if parseErr == nil && claims.Expired(b.now()) {
			b.logger.InfoContext(ctx, "stored token expired, starting as guest")
			b.purge(ctx)
		} else {
			authenticated = true
		}
	}

	result, err := b.engine.Start(ctx, authenticated)
	if b.wishlist != nil {
		if wErr := b.wishlist.Start(ctx, authenticated); wErr != nil {
			b.logger.WarnContext(ctx, "starting wishlist", slog.String("error", wErr.Error()))
		}
	}
	b.reevaluate(ctx)
	return result, err
}

// Login stores the token and user, lets the engine settle the authoritative
// cart, then has the tracker re-evaluate it under the account identity.
// Logging in as a different account than the one signed in ends that session
// first, exactly as Logout would.
func (b *Bridge) Login(ctx context.Context, token string, user *model.User) (*remote.SyncResult, error) {
	if token == "" {
		return nil, model.NewValidationError("token", "is required")
	}
	claims, err := ParseClaims(token)
	if err != nil && (user == nil || user.ID == "") {
		return nil, model.NewValidationError("token", "carries no user id and no user was given")
	}
	if err == nil && claims.Expired(b.now()) {
		return nil, model.NewUnauthorizedError("token expired")
	}
	incoming := ""
	if err == nil {
		incoming = claims.UserID
	}
	if incoming == "" && user != nil {
		incoming = user.ID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Another account is still signed in: close its session first so its
	// cart is neither shown nor tracked under the new identity.
	if current := b.userID(ctx); current != "" && current != incoming {
		b.logger.InfoContext(ctx, "switching account",
			slog.String("from_user_id", current),
			slog.String("to_user_id", incoming))
		if err := b.endSession(ctx); err != nil {
			return nil, fmt.Errorf("ending session of %s: %w", current, err)
		}
	}

	if err := storage.SetJSON(ctx, b.tab, storage.KeyToken, token); err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}
	if user != nil {
		if err := storage.SetJSON(ctx, b.tab, storage.KeyUser, user); err != nil {
			return nil, fmt.Errorf("storing user: %w", err)
		}
	}

	result, syncErr := b.engine.Login(ctx)
	if b.wishlist != nil {
		if wErr := b.wishlist.Login(ctx); wErr != nil {
			b.logger.WarnContext(ctx, "wishlist login", slog.String("error", wErr.Error()))
		}
	}
	b.reevaluate(ctx)

	b.logger.InfoContext(ctx, "logged in", slog.String("user_id", b.userID(ctx)))
	return result, syncErr
}

// Logout reports the outgoing cart to the tracker, purges the token and
// returns the engine to the guest cart.
func (b *Bridge) Logout(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endSession(ctx)
}

// ForceLogout ends the session after the cart API rejected the token. It is
// installed as the engine's unauthorized hook and can run inside a Login or
// Start that hit the 401, so it does not take the transition lock.
func (b *Bridge) ForceLogout(ctx context.Context) {
	b.logger.WarnContext(ctx, "forcing logout after authentication failure")
	if err := b.endSession(ctx); err != nil {
		b.logger.ErrorContext(ctx, "forced logout", slog.String("error", err.Error()))
	}
}

func (b *Bridge) endSession(ctx context.Context) error {
	if b.Authenticated(ctx) {
		b.tracker.StopTracking(ctx, b.Identity(ctx))
	}
	b.purge(ctx)

	err := b.engine.Logout(ctx)
	if b.wishlist != nil {
		if wErr := b.wishlist.Logout(ctx); wErr != nil {
			b.logger.WarnContext(ctx, "wishlist logout", slog.String("error", wErr.Error()))
		}
	}
	return err
}

func (b *Bridge) purge(ctx context.Context) {
	for _, key := range []string{storage.KeyToken, storage.KeyUser} {
		if err := b.tab.Delete(ctx, key); err != nil {
			b.logger.WarnContext(ctx, "purging session key",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
}

// reevaluate hands the settled cart to the tracker. Unchanged carts keep their
// deadline.
func (b *Bridge) reevaluate(ctx context.Context) {
	b.tracker.UpdateTracking(ctx, b.engine.Items(), b.Identity(ctx), b.Contact(ctx))
}

func (b *Bridge) observe(ctx context.Context, items []model.CartItem) {
	b.tracker.UpdateTracking(ctx, items, b.Identity(ctx), b.Contact(ctx))
}
