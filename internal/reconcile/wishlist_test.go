package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-cart/internal/model"
	"storefront-cart/internal/storage"
)

func (p *profile) wishlist(opts Options) *Wishlist {
	opts.Logger = testLogger()
	return NewWishlist(p.localStore("tab-1"), p.api, p.session, opts)
}

func wishIDs(items []model.WishlistItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ProductID
	}
	return out
}

func TestWishlist_GuestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	w := p.wishlist(Options{})
	require.NoError(t, w.Start(ctx, false))

	require.NoError(t, w.Add(ctx, model.WishlistItem{ProductID: "A"}))
	require.NoError(t, w.Add(ctx, model.WishlistItem{ProductID: "A"}))

	assert.Equal(t, []string{"A"}, wishIDs(w.Items()))
	assert.True(t, w.Contains("A"))
	stored, err := p.localStore("reader").Wishlist(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestWishlist_SyncOncePerLogin(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	require.NoError(t, p.localStore("seed").SetWishlist(ctx, []model.WishlistItem{{ProductID: "A"}}))

	for i := 0; i < 2; i++ {
		w := p.wishlist(Options{})
		require.NoError(t, w.Start(ctx, true))
		assert.Equal(t, []string{"A"}, wishIDs(w.Items()))
	}

	assert.Equal(t, 1, p.api.Calls("SyncWishlist"))
	stored, _ := p.localStore("reader").Wishlist(ctx)
	assert.Empty(t, stored)
}

func TestWishlist_LogoutRestoresGuestList(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	w := p.wishlist(Options{})
	require.NoError(t, w.Start(ctx, true))
	require.NoError(t, w.Add(ctx, model.WishlistItem{ProductID: "X"}))

	require.NoError(t, w.Logout(ctx))

	assert.Equal(t, LoggedOut, w.State())
	assert.Empty(t, w.Items())
	_, err := p.session.Get(ctx, storage.KeyWishSynced)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWishlist_UnauthorizedForcesLogout(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	forced := 0
	w := p.wishlist(Options{OnUnauthorized: func(context.Context) { forced++ }})
	p.api.GetWishlistFunc = func(context.Context) ([]model.WishlistItem, error) {
		return nil, model.NewUnauthorizedError("expired")
	}

	err := w.Start(ctx, true)

	assert.True(t, model.IsUnauthorized(err))
	assert.Equal(t, 1, forced)
	assert.Equal(t, LoggedOut, w.State())
}

func TestWishlist_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	w := newProfile().wishlist(Options{})
	require.NoError(t, w.Start(ctx, true))
	require.NoError(t, w.Add(ctx, model.WishlistItem{ProductID: "A"}))
	require.NoError(t, w.Add(ctx, model.WishlistItem{ProductID: "B"}))

	require.NoError(t, w.Remove(ctx, "A"))
	assert.Equal(t, []string{"B"}, wishIDs(w.Items()))

	require.NoError(t, w.Clear(ctx))
	assert.Empty(t, w.Items())
}
