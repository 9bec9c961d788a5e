package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/remote"
	"storefront-cart/internal/storage"
)

// State says which store is the source of truth for the cart.
type State int32

const (
	// LoggedOut: the guest cart in local storage is authoritative.
	LoggedOut State = iota
	// LoggedInUnsynced: authenticated, the one-time merge has not run yet.
	LoggedInUnsynced
	// LoggedInSynced: the account cart on the server is authoritative.
	LoggedInSynced
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "LOGGED_OUT"
	case LoggedInUnsynced:
		return "LOGGED_IN_UNSYNCED"
	case LoggedInSynced:
		return "LOGGED_IN_SYNCED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// LoggedIn reports whether the account store owns the cart.
func (s State) LoggedIn() bool {
	return s != LoggedOut
}

// LocalStore is the guest cart persistence (see internal/localcart).
type LocalStore interface {
	Items(ctx context.Context) ([]model.CartItem, error)
	SetItems(ctx context.Context, items []model.CartItem) error
	Clear(ctx context.Context) error
	Watch(ctx context.Context, fn func(key string), keys ...string) (func(), error)
}

// RemoteCart is the account cart API (see internal/remote).
type RemoteCart interface {
	GetCart(ctx context.Context) ([]model.CartItem, error)
	AddToCart(ctx context.Context, product model.Product, quantity int) ([]model.CartItem, error)
	UpdateCartItem(ctx context.Context, productID, variantID string, quantity int) ([]model.CartItem, error)
	RemoveCartItem(ctx context.Context, productID, variantID string) ([]model.CartItem, error)
	ClearCart(ctx context.Context) ([]model.CartItem, error)
	SyncCart(ctx context.Context, local []model.CartItem) (*remote.SyncResult, error)
}

// SessionStore is volatile per-login storage. It holds the sync flags.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Options configures an engine.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnUnauthorized runs after the engine has reset itself to LoggedOut
	// because the cart API rejected the token. It is called without any
	// engine lock held, so it may call back into the engine.
	OnUnauthorized func(ctx context.Context)
}

// Engine is the cart of one tab.
//
// Operations are serialized: the operation lock is held across remote calls, so
// a second mutation never races ahead of a pending one. Every remote response
// carries the full resulting cart, which replaces the in-memory cart.
type Engine struct {
	opMu sync.Mutex // serializes operations, held across network calls

	mu    sync.RWMutex // guards state and items for readers
	state State
	items []model.CartItem

	local   LocalStore
	remote  RemoteCart
	session SessionStore

	guest   backend
	account backend

	loading atomic.Bool

	logger         *slog.Logger
	metrics        *metrics.Metrics
	onUnauthorized func(ctx context.Context)

	obsMu     sync.RWMutex
	observers []func(ctx context.Context, items []model.CartItem)

	stopWatch func()
}

// NewEngine creates an engine in the LoggedOut state. Call Start before use.
func NewEngine(local LocalStore, rc RemoteCart, session SessionStore, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		state:          LoggedOut,
		items:          []model.CartItem{},
		local:          local,
		remote:         rc,
		session:        session,
		guest:          &localBackend{store: local, metrics: opts.Metrics},
		account:        &remoteBackend{client: rc, metrics: opts.Metrics},
		logger:         logger,
		metrics:        opts.Metrics,
		onUnauthorized: opts.OnUnauthorized,
	}
}

// =============================================================================
// STATE ACCESSORS
// =============================================================================

// State returns the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Items returns a copy of the authoritative cart.
func (e *Engine) Items() []model.CartItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return model.CloneItems(e.items)
}

// Totals computes money totals over the current cart.
func (e *Engine) Totals() model.Totals {
	return model.CalculateTotals(e.Items())
}

// Loading reports whether a remote call is outstanding.
func (e *Engine) Loading() bool {
	return e.loading.Load()
}

// Observe registers fn to receive the cart after every change.
func (e *Engine) Observe(fn func(ctx context.Context, items []model.CartItem)) {
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

func (e *Engine) notify(ctx context.Context, items []model.CartItem) {
	e.obsMu.RLock()
	observers := append([]func(context.Context, []model.CartItem){}, e.observers...)
	e.obsMu.RUnlock()
	for _, fn := range observers {
		fn(ctx, model.CloneItems(items))
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		e.logger.Debug("cart state changed",
			slog.String("from", prev.String()),
			slog.String("to", s.String()))
	}
}

func (e *Engine) setItems(items []model.CartItem) []model.CartItem {
	items = model.CloneItems(items)
	e.mu.Lock()
	e.items = items
	e.mu.Unlock()
	return model.CloneItems(items)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start initializes the engine for an existing session.
//
// Without a token the guest cart is loaded. With a token the engine runs the
// login path: merge the guest cart if this login has not synced yet, else load
// the account cart. A partial merge returns the result together with a
// *model.PartialSyncError.
func (e *Engine) Start(ctx context.Context, authenticated bool) (*remote.SyncResult, error) {
	if err := e.watchLocal(); err != nil {
		e.logger.WarnContext(ctx, "cross-tab cart updates unavailable", slog.String("error", err.Error()))
	}
	if authenticated {
		// The stored token may belong to a different account than the one
		// this engine settled for, so the account cart is always reloaded.
		e.opMu.Lock()
		e.setItems(nil)
		return e.loginLocked(ctx)
	}

	e.opMu.Lock()
	e.setState(LoggedOut)
	items := e.setItems(e.loadLocalLocked(ctx))
	e.opMu.Unlock()

	e.notify(ctx, items)
	return nil, nil
}

// Login moves a guest engine to the account store, merging the guest cart at
// most once per login.
func (e *Engine) Login(ctx context.Context) (*remote.SyncResult, error) {
	e.opMu.Lock()
	if e.State().LoggedIn() {
		e.opMu.Unlock()
		return nil, nil
	}
	return e.loginLocked(ctx)
}

// loginLocked settles the account cart. It is entered holding opMu and
// releases it.
func (e *Engine) loginLocked(ctx context.Context) (*remote.SyncResult, error) {
	e.setState(LoggedInUnsynced)
	result, err := e.settleLocked(ctx)
	forced := e.checkUnauthorizedLocked(ctx, err)
	items := e.Items()
	e.opMu.Unlock()

	e.finish(ctx, items, forced)
	return result, err
}

// Logout drops the account cart and the per-login sync flag, then shows the
// guest cart exactly as it was left before login.
func (e *Engine) Logout(ctx context.Context) error {
	e.opMu.Lock()
	if !e.State().LoggedIn() {
		e.opMu.Unlock()
		return nil
	}
	e.resetLocked(ctx)
	items := e.Items()
	e.opMu.Unlock()

	e.notify(ctx, items)
	return nil
}

// Refresh reloads the cart from its current source of truth. A failed remote
// refresh keeps the last known cart.
func (e *Engine) Refresh(ctx context.Context) error {
	e.opMu.Lock()
	if !e.State().LoggedIn() {
		items := e.setItems(e.loadLocalLocked(ctx))
		e.opMu.Unlock()
		e.notify(ctx, items)
		return nil
	}

	items, err := e.callRemote(func() ([]model.CartItem, error) { return e.remote.GetCart(ctx) })
	if err != nil {
		forced := e.checkUnauthorizedLocked(ctx, err)
		current := e.Items()
		e.opMu.Unlock()
		if forced {
			e.finish(ctx, current, true)
		}
		return fmt.Errorf("refreshing cart: %w", err)
	}
	items = e.setItems(items)
	e.opMu.Unlock()

	e.notify(ctx, items)
	return nil
}

// Close stops cross-tab observation.
func (e *Engine) Close() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.stopWatch != nil {
		e.stopWatch()
		e.stopWatch = nil
	}
}

// watchLocal re-reads the guest cart when another tab writes it. Best effort:
// concurrent guest tabs still race and the last write wins.
func (e *Engine) watchLocal() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.stopWatch != nil {
		return nil
	}
	stop, err := e.local.Watch(context.Background(), func(string) {
		e.onLocalChange()
	}, storage.KeyCart)
	if err != nil {
		return err
	}
	e.stopWatch = stop
	return nil
}

func (e *Engine) onLocalChange() {
	ctx := context.Background()
	e.opMu.Lock()
	if e.State().LoggedIn() {
		e.opMu.Unlock()
		return
	}
	items := e.setItems(e.loadLocalLocked(ctx))
	e.opMu.Unlock()

	e.notify(ctx, items)
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Add puts quantity units of product in the cart. A product from a different
// warehouse than the cart's anchor is rejected with
// *model.WarehouseConflictError before any remote call is made.
func (e *Engine) Add(ctx context.Context, product model.Product, quantity int) ([]model.CartItem, error) {
	if err := model.Validate(product); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, model.NewValidationError("quantity", "must be at least 1")
	}
	return e.dispatch(ctx, "add", func(b backend, current []model.CartItem) ([]model.CartItem, error) {
		return b.add(ctx, current, product, quantity)
	})
}

// Update sets a line's quantity. A quantity of zero or less removes the line.
func (e *Engine) Update(ctx context.Context, productID, variantID string, quantity int) ([]model.CartItem, error) {
	if productID == "" {
		return nil, model.NewValidationError("productId", "is required")
	}
	if quantity <= 0 {
		return e.Remove(ctx, productID, variantID)
	}
	return e.dispatch(ctx, "update", func(b backend, _ []model.CartItem) ([]model.CartItem, error) {
		return b.update(ctx, productID, variantID, quantity)
	})
}

// Remove deletes a line.
func (e *Engine) Remove(ctx context.Context, productID, variantID string) ([]model.CartItem, error) {
	if productID == "" {
		return nil, model.NewValidationError("productId", "is required")
	}
	return e.dispatch(ctx, "remove", func(b backend, _ []model.CartItem) ([]model.CartItem, error) {
		return b.remove(ctx, productID, variantID)
	})
}

// Clear empties the cart.
func (e *Engine) Clear(ctx context.Context) ([]model.CartItem, error) {
	return e.dispatch(ctx, "clear", func(b backend, _ []model.CartItem) ([]model.CartItem, error) {
		return b.clear(ctx)
	})
}

// dispatch is the single routing point for mutations: it picks the backend for
// the current state, runs op against it, and installs the resulting cart.
// On failure the cart stays at its last known value.
func (e *Engine) dispatch(ctx context.Context, op string, fn func(backend, []model.CartItem) ([]model.CartItem, error)) ([]model.CartItem, error) {
	e.opMu.Lock()

	b := e.guest
	if e.State().LoggedIn() {
		b = e.account
	}

	start := time.Now()
	var items []model.CartItem
	var err error
	if b == e.account {
		items, err = e.callRemote(func() ([]model.CartItem, error) { return fn(b, e.Items()) })
	} else {
		items, err = fn(b, e.Items())
	}
	e.metrics.ObserveMutation(op, b.name(), start)

	if err != nil {
		forced := e.checkUnauthorizedLocked(ctx, err)
		current := e.Items()
		e.opMu.Unlock()
		if forced {
			e.finish(ctx, current, true)
		}
		if !model.IsWarehouseConflict(err) {
			e.logger.WarnContext(ctx, "cart mutation failed",
				slog.String("op", op),
				slog.String("backend", b.name()),
				slog.String("error", err.Error()))
		}
		return nil, err
	}

	items = e.setItems(items)
	e.opMu.Unlock()

	e.notify(ctx, items)
	return items, nil
}

// callRemote marks the engine as loading for the duration of fn.
func (e *Engine) callRemote(fn func() ([]model.CartItem, error)) ([]model.CartItem, error) {
	e.loading.Store(true)
	defer e.loading.Store(false)
	return fn()
}

// =============================================================================
// RESET & FORCED LOGOUT
// =============================================================================

// checkUnauthorizedLocked resets the engine when err is a 401 from the cart
// API. It reports whether the caller must run finish with forced set.
func (e *Engine) checkUnauthorizedLocked(ctx context.Context, err error) bool {
	if err == nil || !model.IsUnauthorized(err) || !e.State().LoggedIn() {
		return false
	}
	e.logger.WarnContext(ctx, "cart API rejected token, logging out")
	e.resetLocked(ctx)
	return true
}

// resetLocked clears account state and reloads the guest cart.
func (e *Engine) resetLocked(ctx context.Context) {
	if err := e.session.Delete(ctx, storage.KeyCartSynced); err != nil {
		e.logger.WarnContext(ctx, "clearing cart sync flag", slog.String("error", err.Error()))
	}
	e.setItems(nil)
	e.setState(LoggedOut)
	e.setItems(e.loadLocalLocked(ctx))
}

// finish runs post-operation hooks outside the operation lock.
func (e *Engine) finish(ctx context.Context, items []model.CartItem, forced bool) {
	if forced {
		e.metrics.ForcedLogout()
		if e.onUnauthorized != nil {
			e.onUnauthorized(ctx)
		}
	}
	e.notify(ctx, items)
}

func (e *Engine) loadLocalLocked(ctx context.Context) []model.CartItem {
	items, err := e.local.Items(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "loading guest cart", slog.String("error", err.Error()))
		return []model.CartItem{}
	}
	return items
}
