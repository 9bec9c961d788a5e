package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"storefront-cart/internal/localcart"
	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/negotiation"
	"storefront-cart/internal/reconcile"
	"storefront-cart/internal/remote"
	"storefront-cart/internal/session"
	"storefront-cart/internal/storage"
	"storefront-cart/internal/tracker"
)

// API is everything a tab needs from the storefront backend.
type API interface {
	reconcile.RemoteCart
	reconcile.RemoteWishlist
	tracker.Reporter
}

// APIFactory builds a backend client that authenticates with token.
type APIFactory func(token remote.TokenSource) (API, error)

// RemoteFactory returns an APIFactory backed by the HTTP cart client.
func RemoteFactory(cfg remote.Config, logger *slog.Logger) APIFactory {
	return func(token remote.TokenSource) (API, error) {
		client, err := remote.New(cfg, token, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// HostOptions configures a Host.
type HostOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// TrackerOptions are applied to every tab's abandoned-cart tracker
	// (delay, clock). Logger and metrics are added automatically.
	TrackerOptions []tracker.Option
}

// Host keeps the profiles cartd serves. A profile is opened on first use and
// stays open until Close. Each profile owns its local storage, a
// login-scoped session store and one or more tabs.
type Host struct {
	opener  storage.Opener
	newAPI  APIFactory
	logger  *slog.Logger
	metrics *metrics.Metrics
	trkOpts []tracker.Option

	mu       sync.Mutex
	profiles map[string]*profile
	closed   bool
}

// ErrHostClosed is returned for requests that arrive after Close.
var ErrHostClosed = errors.New("profile host closed")

type profile struct {
	id      string
	store   storage.Store
	session *storage.MemoryStore

	mu   sync.Mutex
	tabs map[string]*Tab
}

// Tab is one fully wired cart: engine, wishlist, tracker and session bridge
// over a tab of the profile's storage.
type Tab struct {
	ID       string
	Profile  string
	Local    *localcart.Store
	Engine   *reconcile.Engine
	Wishlist *reconcile.Wishlist
	Tracker  *tracker.Tracker
	Bridge   *session.Bridge
}

// NewHost creates a host. The host takes ownership of opener.
func NewHost(opener storage.Opener, newAPI APIFactory, opts HostOptions) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		opener:   opener,
		newAPI:   newAPI,
		logger:   logger,
		metrics:  opts.Metrics,
		trkOpts:  opts.TrackerOptions,
		profiles: make(map[string]*profile),
	}
}

// Tab returns the tab ref addresses, opening the profile and starting the
// tab on first use.
func (h *Host) Tab(ctx context.Context, ref negotiation.ProfileRef) (*Tab, error) {
	p, err := h.profile(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	t, ok := p.tabs[ref.Tab]
	if ok {
		p.mu.Unlock()
		return t, nil
	}
	t, err = h.newTab(p, ref.Tab)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.tabs[ref.Tab] = t
	p.mu.Unlock()

	if result, err := t.Bridge.Start(ctx); err != nil {
		h.logger.WarnContext(ctx, "tab started with errors",
			slog.String("profile", p.id),
			slog.String("tab", t.ID),
			slog.String("error", err.Error()))
	} else if result != nil {
		h.logger.InfoContext(ctx, "tab started",
			slog.String("profile", p.id),
			slog.String("tab", t.ID),
			slog.String("sync", result.Message()))
	}
	return t, nil
}

func (h *Host) profile(ctx context.Context, id string) (*profile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHostClosed
	}
	if p, ok := h.profiles[id]; ok {
		return p, nil
	}

	store, err := h.opener.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("opening profile %s: %w", id, err)
	}
	p := &profile{
		id:      id,
		store:   store,
		session: storage.NewMemoryStore(),
		tabs:    make(map[string]*Tab),
	}
	h.profiles[id] = p
	h.metrics.ProfileOpened()
	h.logger.InfoContext(ctx, "profile opened", slog.String("profile", id))
	return p, nil
}

func (h *Host) newTab(p *profile, id string) (*Tab, error) {
	logger := h.logger.With(slog.String("profile", p.id), slog.String("tab", id))
	st := storage.NewTab(p.store, id)

	api, err := h.newAPI(session.TokenSource(st))
	if err != nil {
		return nil, fmt.Errorf("creating cart API client: %w", err)
	}

	local := localcart.New(st, logger)
	t := &Tab{ID: id, Profile: p.id, Local: local}

	// The bridge is created after the engines it is handed to, so the
	// unauthorized hooks resolve it lazily.
	forceLogout := func(ctx context.Context) { t.Bridge.ForceLogout(ctx) }
	engineOpts := reconcile.Options{Logger: logger, Metrics: h.metrics, OnUnauthorized: forceLogout}

	t.Engine = reconcile.NewEngine(local, api, p.session, engineOpts)
	t.Wishlist = reconcile.NewWishlist(local, api, p.session, engineOpts)

	trkOpts := append([]tracker.Option{tracker.WithLogger(logger), tracker.WithMetrics(h.metrics)}, h.trkOpts...)
	t.Tracker = tracker.New(api, trkOpts...)

	t.Bridge = session.New(st, local, t.Engine, t.Tracker, session.Options{
		Wishlist: t.Wishlist,
		Logger:   logger,
	})
	return t, nil
}

// siblings returns the other started tabs of the profile t belongs to.
func (h *Host) siblings(t *Tab) []*Tab {
	h.mu.Lock()
	p, ok := h.profiles[t.Profile]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Tab, 0, len(p.tabs))
	for id, other := range p.tabs {
		if id != t.ID {
			out = append(out, other)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Login authenticates t and lets the profile's other tabs pick up the new
// token. Only t syncs; the others find the sync flag set and load.
func (h *Host) Login(ctx context.Context, t *Tab, token string, user *model.User) (*remote.SyncResult, error) {
	result, err := t.Bridge.Login(ctx, token, user)
	if err != nil && !model.IsPartialSync(err) {
		return result, err
	}
	h.restartSiblings(ctx, t)
	return result, err
}

// Logout ends the session on t and returns the profile's other tabs to the
// guest cart.
func (h *Host) Logout(ctx context.Context, t *Tab) error {
	if err := t.Bridge.Logout(ctx); err != nil {
		return err
	}
	h.restartSiblings(ctx, t)
	return nil
}

func (h *Host) restartSiblings(ctx context.Context, t *Tab) {
	for _, other := range h.siblings(t) {
		if _, err := other.Bridge.Start(ctx); err != nil {
			h.logger.WarnContext(ctx, "restarting sibling tab",
				slog.String("profile", other.Profile),
				slog.String("tab", other.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Refresh reloads the server cart and wishlist of every logged-in tab. cartd
// runs it on the REFRESH_SCHEDULE cron so prices and stock stay current.
func (h *Host) Refresh(ctx context.Context) {
	for _, t := range h.tabs() {
		if !t.Engine.State().LoggedIn() {
			continue
		}
		if err := t.Engine.Refresh(ctx); err != nil {
			h.logger.WarnContext(ctx, "refreshing cart",
				slog.String("profile", t.Profile),
				slog.String("tab", t.ID),
				slog.String("error", err.Error()))
		}
		if err := t.Wishlist.Refresh(ctx); err != nil {
			h.logger.WarnContext(ctx, "refreshing wishlist",
				slog.String("profile", t.Profile),
				slog.String("tab", t.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (h *Host) tabs() []*Tab {
	h.mu.Lock()
	profiles := make([]*profile, 0, len(h.profiles))
	for _, p := range h.profiles {
		profiles = append(profiles, p)
	}
	h.mu.Unlock()

	var out []*Tab
	for _, p := range profiles {
		p.mu.Lock()
		for _, t := range p.tabs {
			out = append(out, t)
		}
		p.mu.Unlock()
	}
	return out
}

// Close disposes every tab, closes the profile stores and the opener.
// Pending abandoned-cart timers are cancelled without reporting.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	profiles := h.profiles
	h.profiles = make(map[string]*profile)
	h.mu.Unlock()

	var errs []error
	for _, p := range profiles {
		p.mu.Lock()
		for _, t := range p.tabs {
			t.Tracker.Dispose()
			t.Engine.Close()
		}
		p.mu.Unlock()
		if err := p.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing profile %s: %w", p.id, err))
		}
		h.metrics.ProfileClosed()
	}
	if err := h.opener.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
