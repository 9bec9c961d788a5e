package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-cart/internal/model"
	"storefront-cart/internal/remote"
)

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due callbacks synchronously.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func newTracker(api *remote.Mock) (*Tracker, *manualClock) {
	clock := &manualClock{}
	tr := New(api,
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return tr, clock
}

var (
	user  = model.UserIdentity("u1")
	guest = model.GuestIdentity("s1")
	cart  = []model.CartItem{{ProductID: "A", Quantity: 1}}
)

func TestStartTracking_EmptyCartStaysIdle(t *testing.T) {
	tr, clock := newTracker(&remote.Mock{})
	tr.StartTracking(nil, user, model.ContactInfo{})

	assert.Equal(t, Idle, tr.State())
	assert.Empty(t, clock.timers)
}

// Non-empty at t=0, no edits: report at 30 min, stop at 31 min is a no-op.
func TestIdleTimeoutExample(t *testing.T) {
	ctx := context.Background()
	api := &remote.Mock{}
	tr, clock := newTracker(api)
	contact := model.ContactInfo{Name: "Ada", Email: "ada@example.com"}

	tr.StartTracking(cart, user, contact)
	require.Equal(t, Armed, tr.State())

	clock.Advance(29 * time.Minute)
	tracked, _, _ := api.Reports()
	assert.Empty(t, tracked)

	clock.Advance(time.Minute)
	tracked, _, _ = api.Reports()
	require.Len(t, tracked, 1)
	assert.Equal(t, "u1", tracked[0].UserID)
	assert.Empty(t, tracked[0].SessionID)
	assert.Equal(t, "Ada", tracked[0].UserInfo.Name)
	assert.Len(t, tracked[0].UserInfo.Items, 1)
	assert.Equal(t, Idle, tr.State())

	clock.Advance(time.Minute)
	tr.StopTracking(ctx, user)

	_, recovered, cleared := api.Reports()
	assert.Empty(t, recovered)
	assert.Empty(t, cleared)
}

func TestUpdateTracking_UnchangedCartKeepsDeadline(t *testing.T) {
	ctx := context.Background()
	api := &remote.Mock{}
	tr, clock := newTracker(api)

	tr.StartTracking(cart, user, model.ContactInfo{})
	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Minute)
		tr.UpdateTracking(ctx, []model.CartItem{{ProductID: "A", Quantity: 1}}, user, model.ContactInfo{})
	}
	clock.Advance(5 * time.Minute) // t = 30m

	tracked, _, _ := api.Reports()
	assert.Len(t, tracked, 1, "unchanged updates must not push the deadline")
}

func TestUpdateTracking_ChangeResetsDeadline(t *testing.T) {
	ctx := context.Background()
	api := &remote.Mock{}
	tr, clock := newTracker(api)

	tr.StartTracking(cart, user, model.ContactInfo{})
	clock.Advance(20 * time.Minute)
	tr.UpdateTracking(ctx, []model.CartItem{{ProductID: "A", Quantity: 2}}, user, model.ContactInfo{})

	clock.Advance(20 * time.Minute) // t = 40m, 20m after the edit
	tracked, _, _ := api.Reports()
	assert.Empty(t, tracked)

	clock.Advance(10 * time.Minute)
	tracked, _, _ = api.Reports()
	require.Len(t, tracked, 1)
	assert.Equal(t, 2, tracked[0].UserInfo.Items[0].Quantity)
}

func TestUpdateTracking_ConcurrentSameChangeArmsOnce(t *testing.T) {
	ctx := context.Background()
	api := &remote.Mock{}
	tr, clock := newTracker(api)
	tr.StartTracking(cart, user, model.ContactInfo{})

	changed := []model.CartItem{{ProductID: "A", Quantity: 2}}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.UpdateTracking(ctx, changed, user, model.ContactInfo{})
		}()
	}
	wg.Wait()

	clock.mu.Lock()
	armed := len(clock.timers)
	clock.mu.Unlock()
	assert.Equal(t, 2, armed, "the change re-arms once; later identical updates keep the deadline")

	clock.Advance(30 * time.Minute)
	tracked, _, _ := api.Reports()
	require.Len(t, tracked, 1)
	assert.Equal(t, 2, tracked[0].UserInfo.Items[0].Quantity)
}

func TestUpdateTracking_AfterFireUnchangedDoesNotRearm(t *testing.T) {
	ctx := context.Background()
	api := &remote.Mock{}
	tr, clock := newTracker(api)

	tr.StartTracking(cart, user, model.ContactInfo{})
	clock.Advance(DefaultDelay)
	tr.UpdateTracking(ctx, cart, user, model.ContactInfo{})
	clock.Advance(DefaultDelay)

	tracked, _, _ := api.Reports()
	assert.Len(t, tracked, 1)
	assert.Equal(t, Idle, tr.State())
}

func TestUpdateTracking_EmptyCartStops(t *testing.T) {
	ctx := context.Background()
	api := &remote.Mock{}
	tr, clock := newTracker(api)

	tr.StartTracking(cart, user, model.ContactInfo{})
	tr.UpdateTracking(ctx, nil, user, model.ContactInfo{})
	clock.Advance(time.Hour)

	tracked, recovered, _ := api.Reports()
	assert.Empty(t, tracked)
	assert.Equal(t, []model.Identity{user}, recovered)
}

func TestStopTracking_ExactlyOneReport(t *testing.T) {
	tests := []struct {
		name          string
		id            model.Identity
		wantRecovered int
		wantCleared   int
	}{
		{"account", user, 1, 0},
		{"guest", guest, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			api := &remote.Mock{}
			tr, _ := newTracker(api)

			tr.StartTracking(cart, tt.id, model.ContactInfo{})
			tr.StopTracking(ctx, tt.id)
			tr.StopTracking(ctx, tt.id)

			_, recovered, cleared := api.Reports()
			assert.Len(t, recovered, tt.wantRecovered)
			assert.Len(t, cleared, tt.wantCleared)
			assert.Equal(t, Idle, tr.State())
		})
	}
}

func TestStopTracking_NothingTrackedIsNoop(t *testing.T) {
	api := &remote.Mock{}
	tr, _ := newTracker(api)

	tr.StopTracking(context.Background(), user)

	assert.Equal(t, 0, api.Calls("MarkRecovered"))
	assert.Equal(t, 0, api.Calls("ClearGuest"))
}

func TestReportFailuresAreSwallowed(t *testing.T) {
	api := &remote.Mock{
		TrackAbandonedFunc: func(context.Context, remote.TrackRequest) error {
			return errors.New("backend down")
		},
		MarkRecoveredFunc: func(context.Context, model.Identity) error {
			return errors.New("backend down")
		},
	}
	tr, clock := newTracker(api)

	assert.NotPanics(t, func() {
		tr.StartTracking(cart, user, model.ContactInfo{})
		clock.Advance(DefaultDelay)
		tr.StartTracking(cart, user, model.ContactInfo{})
		tr.StopTracking(context.Background(), user)
	})
	assert.Equal(t, 1, api.Calls("TrackAbandoned"))
	assert.Equal(t, 1, api.Calls("MarkRecovered"))
}

func TestGuestReportCarriesSessionOnly(t *testing.T) {
	api := &remote.Mock{}
	tr, clock := newTracker(api)

	tr.StartTracking(cart, guest, model.ContactInfo{Phone: "555"})
	clock.Advance(DefaultDelay)

	tracked, _, _ := api.Reports()
	require.Len(t, tracked, 1)
	assert.Equal(t, "s1", tracked[0].SessionID)
	assert.Empty(t, tracked[0].UserID)
	assert.Equal(t, "555", tracked[0].UserInfo.Phone)
}

func TestStaleTimerIsDropped(t *testing.T) {
	api := &remote.Mock{}
	clock := &manualClock{}
	tr := New(api, WithClock(clock), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	tr.StartTracking(cart, user, model.ContactInfo{})
	stale := clock.timers[0].f
	tr.StartTracking([]model.CartItem{{ProductID: "B", Quantity: 1}}, user, model.ContactInfo{})

	stale() // fire racing the re-arm
	assert.Equal(t, 0, api.Calls("TrackAbandoned"))
	assert.Equal(t, Armed, tr.State())
}

func TestDispose(t *testing.T) {
	api := &remote.Mock{}
	tr, clock := newTracker(api)

	tr.StartTracking(cart, user, model.ContactInfo{})
	tr.Dispose()
	clock.Advance(time.Hour)
	tr.StartTracking(cart, user, model.ContactInfo{})
	tr.StopTracking(context.Background(), user)

	assert.Equal(t, 0, api.Calls("TrackAbandoned"))
	assert.Equal(t, 0, api.Calls("MarkRecovered"))
}

func TestWithDelay(t *testing.T) {
	api := &remote.Mock{}
	clock := &manualClock{}
	tr := New(api, WithClock(clock), WithDelay(time.Minute),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	tr.StartTracking(cart, user, model.ContactInfo{})
	clock.Advance(time.Minute)

	assert.Equal(t, 1, api.Calls("TrackAbandoned"))
}
