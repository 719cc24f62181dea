package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("influx", BreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	b.now = clock.Now
	return b, clock
}

var errSource = errors.New("source unavailable")

func fail(_ context.Context) error { return errSource }

func succeed(_ context.Context) error { return nil }

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	calls := 0
	err := b.Do(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Do(ctx, fail)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed below threshold, got %s", b.State())
	}
	_ = b.Do(ctx, fail)
	if b.State() != Open {
		t.Fatalf("expected open at threshold, got %s", b.State())
	}

	called := false
	err := b.Do(ctx, func(_ context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("open breaker must not invoke fn")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed)
	if b.Failures() != 0 {
		t.Errorf("expected failures reset, got %d", b.Failures())
	}
	_ = b.Do(ctx, fail)
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	clock.Advance(31 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", b.State())
	}

	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("trial call should pass: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("successful trial call should close, got %s", b.State())
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clock.Advance(31 * time.Second)

	if err := b.Do(ctx, fail); !errors.Is(err, errSource) {
		t.Fatalf("expected trial call error, got %v", err)
	}
	if b.State() != Open {
		t.Errorf("failed trial call should reopen, got %s", b.State())
	}
	if err := b.Do(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen right after reopening, got %v", err)
	}
}

func TestBreaker_SingleTrialInFlight(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(_ context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("second caller during trial call should be rejected, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_ShouldTripFiltersErrors(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.cfg.ShouldTrip = func(err error) bool { return !errors.Is(err, context.Canceled) }

	_ = b.Do(context.Background(), func(_ context.Context) error { return context.Canceled })
	if b.State() != Closed {
		t.Errorf("ignored error should not open, got %s", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b := NewBreaker("store", BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Do(context.Background(), fail)
	b.Reset()

	want := []string{"store:closed->open", "store:open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestGuard_ReturnsValue(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	v, err := Guard(context.Background(), b, func(_ context.Context) (float64, error) {
		return 0.42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.42 {
		t.Errorf("expected 0.42, got %v", v)
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{})
	if b.cfg.FailureThreshold != 5 || b.cfg.ResetTimeout != 30*time.Second {
		t.Errorf("unexpected defaults: %+v", b.cfg)
	}
	if b.Name() != "x" {
		t.Errorf("expected name x, got %s", b.Name())
	}
}

func TestBreakers_GetReusesByName(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	a := r.Get("error_rate")
	if r.Get("error_rate") != a {
		t.Error("expected the same breaker for the same name")
	}
	if r.Get("trust_score") == a {
		t.Error("expected distinct breakers per name")
	}

	_ = a.Do(context.Background(), fail)
	states := r.States()
	if states["error_rate"] != Open {
		t.Errorf("expected error_rate open, got %s", states["error_rate"])
	}
	if states["trust_score"] != Closed {
		t.Errorf("expected trust_score closed, got %s", states["trust_score"])
	}
}

func TestBreakers_ConcurrentGet(t *testing.T) {
	r := NewBreakers(DefaultBreakerConfig())
	var wg sync.WaitGroup
	got := make([]*Breaker, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("influx")
		}(i)
	}
	wg.Wait()
	for _, b := range got {
		if b != got[0] {
			t.Fatal("concurrent Get returned different breakers")
		}
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d): expected %s, got %s", s, want, s.String())
		}
	}
}
