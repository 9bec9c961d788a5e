// Package tracker reports carts left idle to the abandoned-cart endpoints.
//
// A Tracker watches one cart. Every real edit pushes the deadline out by the
// full delay; when the deadline passes with a non-empty cart it reports the
// cart once and goes idle. Reporting is best effort: failures are logged and
// never reach the caller.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/reconcile"
	"storefront-cart/internal/remote"
)

// DefaultDelay is the idle interval before a cart counts as abandoned.
const DefaultDelay = 30 * time.Minute

const defaultReportTimeout = 10 * time.Second

// Reporter is the abandoned-cart API (see internal/remote).
type Reporter interface {
	TrackAbandoned(ctx context.Context, req remote.TrackRequest) error
	MarkRecovered(ctx context.Context, id model.Identity) error
	ClearGuest(ctx context.Context, sessionID string) error
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// State is the tracker's timer state.
type State int

const (
	Idle State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "ARMED"
	}
	return "IDLE"
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithDelay overrides DefaultDelay.
func WithDelay(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithMetrics records report outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// Tracker debounces one cart. Create one per tab with New and release it with
// Dispose.
type Tracker struct {
	reporter Reporter
	clock    Clock
	delay    time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	state    State
	timer    Timer
	gen      uint64 // bumped on every arm/cancel; a firing timer with an old gen is stale
	last     []model.CartItem
	identity model.Identity
	contact  model.ContactInfo
	disposed bool
}

// New creates an idle tracker.
func New(reporter Reporter, opts ...Option) *Tracker {
	t := &Tracker{
		reporter: reporter,
		clock:    realClock{},
		delay:    DefaultDelay,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns Idle or Armed.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartTracking arms the timer for cart, replacing any pending one. An empty
// cart leaves the tracker idle without reporting.
func (t *Tracker) StartTracking(cart []model.CartItem, id model.Identity, contact model.ContactInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked(cart, id, contact)
}

func (t *Tracker) startLocked(cart []model.CartItem, id model.Identity, contact model.ContactInfo) {
	if t.disposed {
		return
	}
	t.cancelLocked()
	t.last = model.CloneItems(cart)
	t.identity = id
	t.contact = contact
	if len(cart) == 0 {
		return
	}

	gen := t.gen
	t.timer = t.clock.AfterFunc(t.delay, func() { t.fire(gen) })
	t.state = Armed
}

// UpdateTracking is called after every cart change. An empty cart stops
// tracking; a changed cart or identity re-arms; an unchanged cart leaves the
// deadline where it is.
func (t *Tracker) UpdateTracking(ctx context.Context, cart []model.CartItem, id model.Identity, contact model.ContactInfo) {
	if len(cart) == 0 {
		t.StopTracking(ctx, id)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id != t.identity || reconcile.CartChanged(t.last, cart) {
		t.startLocked(cart, id, contact)
		return
	}
	t.contact = contact
}

// StopTracking cancels the timer. If a non-empty cart was being tracked it
// sends exactly one report: recovered for an account, clear-guest for a guest
// session. After the timer has fired there is nothing tracked and this is a
// no-op.
func (t *Tracker) StopTracking(ctx context.Context, id model.Identity) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	wasArmed := t.state == Armed && len(t.last) > 0
	t.cancelLocked()
	t.last = nil
	t.mu.Unlock()

	if !wasArmed {
		return
	}
	if id.IsGuest() {
		err := t.reporter.ClearGuest(ctx, id.SessionID)
		t.logReport(ctx, "clear_guest", id, err)
		return
	}
	err := t.reporter.MarkRecovered(ctx, id)
	t.logReport(ctx, "recover", id, err)
}

// Dispose cancels any pending timer. Later calls are ignored.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.disposed = true
}

func (t *Tracker) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.state = Idle
}

// fire reports the tracked cart as abandoned and returns to Idle. The snapshot
// is kept as the comparison base, so an unchanged cart does not re-arm, but the
// tracker no longer counts it as tracked.
func (t *Tracker) fire(gen uint64) {
	t.mu.Lock()
	if t.disposed || gen != t.gen || t.state != Armed {
		t.mu.Unlock()
		return
	}
	req := remote.NewTrackRequest(t.identity, t.contact, t.last)
	id := t.identity
	t.timer = nil
	t.state = Idle
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultReportTimeout)
	defer cancel()
	err := t.reporter.TrackAbandoned(ctx, req)
	t.logReport(ctx, "track", id, err)
}

func (t *Tracker) logReport(ctx context.Context, kind string, id model.Identity, err error) {
	t.metrics.AbandonedReport(kind, err)
	attrs := []any{
		slog.String("kind", kind),
		slog.Bool("guest", id.IsGuest()),
	}
	if err != nil {
		t.logger.WarnContext(ctx, "abandoned-cart report failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	t.logger.DebugContext(ctx, "abandoned-cart report sent", attrs...)
}
