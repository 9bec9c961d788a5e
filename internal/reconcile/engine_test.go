package reconcile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-cart/internal/localcart"
	"storefront-cart/internal/model"
	"storefront-cart/internal/remote"
	"storefront-cart/internal/storage"
)

var (
	w1 = &model.Warehouse{ID: "W1", Name: "W1"}
	w2 = &model.Warehouse{ID: "W2", Name: "W2"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// profile is the shared storage of one browser profile.
type profile struct {
	local   *storage.MemoryStore
	session *storage.MemoryStore
	api     *remote.Mock
}

func newProfile() *profile {
	return &profile{
		local:   storage.NewMemoryStore(),
		session: storage.NewMemoryStore(),
		api:     &remote.Mock{},
	}
}

func (p *profile) localStore(tabID string) *localcart.Store {
	return localcart.New(storage.NewTab(p.local, tabID), testLogger())
}

func (p *profile) engine(t *testing.T, tabID string, opts Options) *Engine {
	t.Helper()
	opts.Logger = testLogger()
	e := NewEngine(p.localStore(tabID), p.api, p.session, opts)
	t.Cleanup(e.Close)
	return e
}

func item(id string, w *model.Warehouse, qty int) model.CartItem {
	return model.CartItem{ProductID: id, Warehouse: w, Quantity: qty}
}

func prod(id string, w *model.Warehouse) model.Product {
	return model.Product{ProductID: id, Warehouse: w, Price: decimal.NewFromInt(10)}
}

func keys(items []model.CartItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ProductID
	}
	return out
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "LOGGED_OUT", LoggedOut.String())
	assert.Equal(t, "LOGGED_IN_UNSYNCED", LoggedInUnsynced.String())
	assert.Equal(t, "LOGGED_IN_SYNCED", LoggedInSynced.String())
}

func TestEngine_GuestMutationsStayLocal(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	e := p.engine(t, "tab-1", Options{})
	_, err := e.Start(ctx, false)
	require.NoError(t, err)

	_, err = e.Add(ctx, prod("A", w1), 1)
	require.NoError(t, err)
	items, err := e.Add(ctx, prod("A", w1), 2)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, 0, p.api.Calls("AddToCart"))

	stored, err := p.localStore("other").Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys(stored))
}

func TestEngine_UpdateToZeroRemoves(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	e := p.engine(t, "tab-1", Options{})
	_, _ = e.Start(ctx, false)
	_, _ = e.Add(ctx, prod("A", nil), 1)
	_, _ = e.Add(ctx, prod("B", nil), 1)

	items, err := e.Update(ctx, "A", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, keys(items))

	_, err = e.Update(ctx, "missing", "", 2)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEngine_StockLimit(t *testing.T) {
	ctx := context.Background()
	e := newProfile().engine(t, "tab-1", Options{})
	_, _ = e.Start(ctx, false)

	p := prod("A", nil)
	p.Stock = 2
	_, err := e.Add(ctx, p, 2)
	require.NoError(t, err)
	_, err = e.Add(ctx, p, 1)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
	assert.Equal(t, 2, e.Items()[0].Quantity)
}

func TestEngine_StockLimitOnUpdate(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	e := p.engine(t, "tab-1", Options{})
	_, _ = e.Start(ctx, false)

	a := prod("A", nil)
	a.Stock = 3
	_, err := e.Add(ctx, a, 1)
	require.NoError(t, err)

	_, err = e.Update(ctx, "A", "", 4)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
	assert.Equal(t, 1, e.Items()[0].Quantity)

	items, err := e.Update(ctx, "A", "", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, items[0].Quantity)

	// Unknown stock is not limited
	_, err = e.Add(ctx, prod("B", nil), 1)
	require.NoError(t, err)
	_, err = e.Update(ctx, "B", "", 50)
	assert.NoError(t, err)

	stored, _ := p.localStore("reader").Items(ctx)
	require.Len(t, stored, 2)
	assert.Equal(t, 3, stored[0].Stock, "stock snapshot survives storage")
}

// Empty cart, add A@W1, add B@W1, add C@W2 is rejected naming W1.
func TestEngine_WarehouseConflictExample(t *testing.T) {
	for _, authenticated := range []bool{false, true} {
		t.Run(map[bool]string{false: "guest", true: "account"}[authenticated], func(t *testing.T) {
			ctx := context.Background()
			p := newProfile()
			e := p.engine(t, "tab-1", Options{})
			_, err := e.Start(ctx, authenticated)
			require.NoError(t, err)

			_, err = e.Add(ctx, prod("A", w1), 1)
			require.NoError(t, err)
			_, err = e.Add(ctx, prod("B", w1), 1)
			require.NoError(t, err)

			_, err = e.Add(ctx, prod("C", w2), 1)
			conflict, ok := model.AsWarehouseConflict(err)
			require.True(t, ok, "error = %v", err)
			assert.Equal(t, "W1", conflict.Existing)
			assert.Equal(t, []string{"A", "B"}, keys(e.Items()))
			if authenticated {
				assert.Equal(t, 2, p.api.Calls("AddToCart"), "conflicting add must not reach the server")
			}
		})
	}
}

func TestEngine_ServerConflictMatchesClientConflict(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	p.api.AddToCartFunc = func(context.Context, model.Product, int) ([]model.CartItem, error) {
		return nil, &model.WarehouseConflictError{Existing: "North Hub", Incoming: "South Hub"}
	}
	p.api.SetCart([]model.CartItem{item("A", nil, 1)})
	e := p.engine(t, "tab-1", Options{})
	_, err := e.Start(ctx, true)
	require.NoError(t, err)

	_, err = e.Add(ctx, prod("C", w2), 1)
	assert.True(t, model.IsWarehouseConflict(err))
	assert.Equal(t, []string{"A"}, keys(e.Items()))
}

func TestEngine_SyncRunsOncePerLogin(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	require.NoError(t, p.localStore("seed").SetItems(ctx, []model.CartItem{item("A", w1, 1)}))

	// Three page loads within one authenticated session
	for i := 0; i < 3; i++ {
		e := p.engine(t, "tab-1", Options{})
		_, err := e.Start(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, LoggedInSynced, e.State())
		assert.Equal(t, []string{"A"}, keys(e.Items()))
	}

	assert.Equal(t, 1, p.api.Calls("SyncCart"))
	assert.Equal(t, 2, p.api.Calls("GetCart"))
}

func TestEngine_EmptyGuestCartSkipsSync(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	p.api.SetCart([]model.CartItem{item("S", nil, 1)})
	e := p.engine(t, "tab-1", Options{})

	result, err := e.Start(ctx, true)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, p.api.Calls("SyncCart"))
	assert.Equal(t, []string{"S"}, keys(e.Items()))
}

func TestEngine_SyncClearsLocalBeforeRequest(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	require.NoError(t, p.localStore("seed").SetItems(ctx, []model.CartItem{item("A", w1, 1)}))

	var localDuringSync []model.CartItem
	p.api.SyncCartFunc = func(ctx context.Context, local []model.CartItem) (*remote.SyncResult, error) {
		localDuringSync, _ = p.localStore("reader").Items(ctx)
		return nil, model.NewUpstreamError("cart API", errors.New("connection reset"))
	}
	p.api.SetCart([]model.CartItem{item("S", nil, 1)})
	e := p.engine(t, "tab-1", Options{})

	_, err := e.Login(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamError)

	assert.Empty(t, localDuringSync, "guest cart must be cleared before the sync request")
	assert.Equal(t, LoggedInSynced, e.State())
	assert.Equal(t, []string{"S"}, keys(e.Items()), "falls back to a plain account load")

	// The flag was recorded even though sync failed
	e2 := p.engine(t, "tab-2", Options{})
	_, err = e2.Start(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, p.api.Calls("SyncCart"))
}

// Guest [A@W1 x2, B@W2 x1]; server keeps A and rejects B.
func TestEngine_PartialSyncExample(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	require.NoError(t, p.localStore("seed").SetItems(ctx, []model.CartItem{
		item("A", w1, 2),
		item("B", w2, 1),
	}))
	p.api.SyncCartFunc = func(_ context.Context, local []model.CartItem) (*remote.SyncResult, error) {
		return &remote.SyncResult{
			Items:       []model.CartItem{local[0]},
			Valid:       []model.CartItem{local[0]},
			Conflicting: []model.CartItem{local[1]},
			Partial:     true,
		}, nil
	}
	e := p.engine(t, "tab-1", Options{})

	result, err := e.Login(ctx)

	require.True(t, model.IsPartialSync(err), "error = %v", err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"A"}, keys(e.Items()))
	assert.Equal(t, "1 item synced, 1 item could not be synced due to warehouse conflict", result.Message())
	assert.Equal(t, result.Message(), err.Error())
}

func TestEngine_MixedWarehouseSyncIsLogged(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	require.NoError(t, p.localStore("seed").SetItems(ctx, []model.CartItem{
		item("A", w1, 1),
		item("B", w2, 1),
		item("C", w2, 1),
	}))
	var buf bytes.Buffer
	e := NewEngine(p.localStore("tab-1"), p.api, p.session, Options{
		Logger: slog.New(slog.NewTextHandler(&buf, nil)),
	})
	t.Cleanup(e.Close)

	_, _ = e.Login(ctx)

	assert.Contains(t, buf.String(), "guest cart spans warehouses")
	assert.Contains(t, buf.String(), "warehouses=2")
	assert.Contains(t, buf.String(), "conflicting=2")
}

func TestEngine_LogoutIsolation(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	e := p.engine(t, "tab-1", Options{})
	_, _ = e.Start(ctx, false)
	_, err := e.Add(ctx, prod("G", nil), 1)
	require.NoError(t, err)

	_, err = e.Login(ctx)
	require.NoError(t, err)
	_, err = e.Add(ctx, prod("X", nil), 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"G", "X"}, keys(e.Items()))

	require.NoError(t, e.Logout(ctx))

	assert.Equal(t, LoggedOut, e.State())
	assert.Empty(t, e.Items(), "guest cart was consumed by sync and must not show account lines")
	stored, _ := p.localStore("reader").Items(ctx)
	assert.Empty(t, stored)

	_, err = p.session.Get(ctx, storage.KeyCartSynced)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_RestartReloadsAccountCart(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	p.api.SetCart([]model.CartItem{item("A", w1, 1)})
	e := p.engine(t, "tab-1", Options{})
	_, err := e.Start(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys(e.Items()))

	// The token now belongs to another account
	p.api.SetCart([]model.CartItem{item("B", w2, 1)})
	_, err = e.Start(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, LoggedInSynced, e.State())
	assert.Equal(t, []string{"B"}, keys(e.Items()))
}

func TestEngine_LoggedInMutationsNeverTouchLocal(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	e := p.engine(t, "tab-1", Options{})
	_, _ = e.Start(ctx, true)

	_, err := e.Add(ctx, prod("X", nil), 1)
	require.NoError(t, err)
	_, err = e.Clear(ctx)
	require.NoError(t, err)

	_, err = p.local.Get(ctx, storage.KeyCart)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_AccountLoadFailureShowsEmptyCart(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	require.NoError(t, p.localStore("seed").SetItems(ctx, []model.CartItem{item("G", nil, 1)}))
	require.NoError(t, storage.SetJSON(ctx, p.session, storage.KeyCartSynced, true))
	p.api.GetCartFunc = func(context.Context) ([]model.CartItem, error) {
		return nil, model.NewUpstreamError("cart API", errors.New("timeout"))
	}
	e := p.engine(t, "tab-1", Options{})

	_, err := e.Start(ctx, true)

	require.Error(t, err)
	assert.Equal(t, LoggedInSynced, e.State())
	assert.Empty(t, e.Items(), "guest cart must never stand in for the account cart")
}

func TestEngine_TransientErrorKeepsLastKnownCart(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	p.api.SetCart([]model.CartItem{item("A", nil, 1)})
	e := p.engine(t, "tab-1", Options{})
	_, err := e.Start(ctx, true)
	require.NoError(t, err)

	p.api.UpdateCartItemFunc = func(context.Context, string, string, int) ([]model.CartItem, error) {
		return nil, model.NewUpstreamError("cart API", errors.New("503"))
	}
	_, err = e.Update(ctx, "A", "", 4)
	require.Error(t, err)
	assert.Equal(t, 1, e.Items()[0].Quantity)

	p.api.GetCartFunc = func(context.Context) ([]model.CartItem, error) {
		return nil, model.NewUpstreamError("cart API", errors.New("503"))
	}
	require.Error(t, e.Refresh(ctx))
	assert.Equal(t, []string{"A"}, keys(e.Items()))
}

func TestEngine_UnauthorizedForcesLogout(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	var hookCalls atomic.Int32
	var stateInHook State
	var e *Engine
	e = p.engine(t, "tab-1", Options{OnUnauthorized: func(context.Context) {
		hookCalls.Add(1)
		stateInHook = e.State()
		_ = e.Logout(ctx) // must not deadlock
	}})
	_, err := e.Start(ctx, true)
	require.NoError(t, err)

	p.api.AddToCartFunc = func(context.Context, model.Product, int) ([]model.CartItem, error) {
		return nil, model.NewUnauthorizedError("token expired")
	}
	_, err = e.Add(ctx, prod("A", nil), 1)

	assert.True(t, model.IsUnauthorized(err))
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, LoggedOut, stateInHook)
	assert.Equal(t, LoggedOut, e.State())
	assert.Equal(t, 1, p.api.Calls("AddToCart"), "401 is not retried")
}

func TestEngine_ObserversSeeEveryChange(t *testing.T) {
	ctx := context.Background()
	e := newProfile().engine(t, "tab-1", Options{})
	var seen [][]string
	e.Observe(func(_ context.Context, items []model.CartItem) {
		seen = append(seen, keys(items))
	})

	_, _ = e.Start(ctx, false)
	_, _ = e.Add(ctx, prod("A", nil), 1)
	_, _ = e.Remove(ctx, "A", "")

	assert.Equal(t, [][]string{{}, {"A"}, {}}, seen)
}

func TestEngine_LoadingDuringRemoteCall(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	e := p.engine(t, "tab-1", Options{})
	_, _ = e.Start(ctx, true)

	release := make(chan struct{})
	entered := make(chan struct{})
	p.api.ClearCartFunc = func(context.Context) ([]model.CartItem, error) {
		close(entered)
		<-release
		return []model.CartItem{}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Clear(ctx)
	}()

	<-entered
	assert.True(t, e.Loading())
	close(release)
	<-done
	assert.False(t, e.Loading())
}

func TestEngine_OtherTabGuestWritesAreSeen(t *testing.T) {
	ctx := context.Background()
	p := newProfile()
	tab1 := p.engine(t, "tab-1", Options{})
	tab2 := p.engine(t, "tab-2", Options{})
	_, _ = tab1.Start(ctx, false)
	_, _ = tab2.Start(ctx, false)

	_, err := tab1.Add(ctx, prod("A", nil), 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(tab2.Items()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_Totals(t *testing.T) {
	ctx := context.Background()
	e := newProfile().engine(t, "tab-1", Options{})
	_, _ = e.Start(ctx, false)
	_, _ = e.Add(ctx, prod("A", nil), 3)

	totals := e.Totals()
	assert.True(t, totals.Total.Equal(decimal.NewFromInt(30)), "total = %s", totals.Total)
	assert.Equal(t, 3, totals.Units)
}
