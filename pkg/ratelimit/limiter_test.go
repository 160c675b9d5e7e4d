package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/clock"
)

var testStart = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(fake *clock.Fake, limits map[string]EndpointLimit) *Limiter {
	cfg := DefaultConfig()
	cfg.Clock = fake
	if limits != nil {
		cfg.Limits = limits
	}
	return NewLimiter(cfg)
}

func TestLimiter_ReserveSeedsFallbackWindow(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(fake, nil)

	calls := 0
	if err := l.Reserve(context.Background(), "tweets", func() { calls++ }); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}

	w, ok := l.Window("tweets")
	if !ok {
		t.Fatal("no window after Reserve()")
	}
	if w.Origin != OriginLocalFallback {
		t.Errorf("Origin = %s, want %s", w.Origin, OriginLocalFallback)
	}
	if w.Remaining != 300 {
		t.Errorf("Remaining = %d, want 300", w.Remaining)
	}
	if want := testStart.Add(FallbackHorizon).Unix(); w.ResetAt != want {
		t.Errorf("ResetAt = %d, want %d", w.ResetAt, want)
	}
	if slept := fake.TotalSlept(); slept != 0 {
		t.Errorf("first Reserve() slept %v, want 0", slept)
	}
}

func TestLimiter_UnknownEndpointUsesFallbackLimit(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(fake, nil)

	if err := l.Reserve(context.Background(), "users/by", nil); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	w, _ := l.Window("users/by")
	if w.Limit != fallbackLimit.Limit || w.Remaining != fallbackLimit.Remaining {
		t.Errorf("window = %d/%d, want the fallback %d/%d", w.Remaining, w.Limit, fallbackLimit.Remaining, fallbackLimit.Limit)
	}
}

func TestLimiter_ReserveEnforcesMinInterval(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(fake, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Reserve(ctx, "tweets", func() { l.Decrement("tweets") }); err != nil {
			t.Fatalf("Reserve() #%d error = %v", i, err)
		}
		fake.Advance(200 * time.Millisecond)
	}

	sleeps := fake.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %v, want two spacing waits", sleeps)
	}
	for _, d := range sleeps {
		if d != 800*time.Millisecond {
			t.Errorf("spacing wait = %v, want 800ms", d)
		}
	}

	w, _ := l.Window("tweets")
	if w.Remaining != 297 {
		t.Errorf("Remaining = %d, want 297", w.Remaining)
	}
}

func TestLimiter_ReserveWaitsForReset(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(fake, map[string]EndpointLimit{"items": {Limit: 300, Remaining: 300}})

	resetAt := testStart.Unix() + 30
	l.Tracker().Merge("items", &QuotaWindow{Limit: 300, Remaining: 0, ResetAt: resetAt, Origin: OriginServer})

	var hookAt time.Time
	if err := l.Reserve(context.Background(), "items", func() { hookAt = fake.Now() }); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	if earliest := time.Unix(resetAt, 0).Add(ResetMargin); hookAt.Before(earliest) {
		t.Errorf("hook ran at %v, before reset plus margin %v", hookAt, earliest)
	}
	if sleeps := fake.Sleeps(); len(sleeps) != 1 || sleeps[0] != 31*time.Second {
		t.Errorf("sleeps = %v, want [31s]", sleeps)
	}

	w, _ := l.Window("items")
	if w.Remaining != 300 || w.Origin != OriginLocalFallback {
		t.Errorf("window after reset = %+v, want a fresh fallback window", w)
	}
}

func TestLimiter_ReserveAfterResetPassedDoesNotSleep(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(fake, map[string]EndpointLimit{"items": {Limit: 300, Remaining: 300}})

	l.Tracker().Merge("items", &QuotaWindow{Limit: 300, Remaining: 1, ResetAt: testStart.Unix() - 10, Origin: OriginServer})

	if err := l.Reserve(context.Background(), "items", nil); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if slept := fake.TotalSlept(); slept != 0 {
		t.Errorf("slept %v for a window that already reset", slept)
	}
}

type staticSource struct {
	mu      sync.Mutex
	windows []*QuotaWindow
	err     error
	calls   int
}

func (s *staticSource) FetchWindow(ctx context.Context, endpoint string) (*QuotaWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.windows) == 0 {
		return nil, nil
	}
	w := s.windows[0]
	s.windows = s.windows[1:]
	return w, nil
}

func TestLimiter_ReserveUsesWindowSource(t *testing.T) {
	fake := clock.NewFake(testStart)
	resetAt := testStart.Unix() + 5

	tests := []struct {
		name          string
		source        *staticSource
		wantRemaining int
		wantOrigin    Origin
	}{
		{
			name: "server window",
			source: &staticSource{windows: []*QuotaWindow{
				{Limit: 450, Remaining: 450, ResetAt: resetAt + 900, Origin: OriginServer},
			}},
			wantRemaining: 450,
			wantOrigin:    OriginServer,
		},
		{
			name:          "source error falls back",
			source:        &staticSource{err: errors.New("boom")},
			wantRemaining: 300,
			wantOrigin:    OriginLocalFallback,
		},
		{
			name: "stale exhausted server window falls back",
			source: &staticSource{windows: []*QuotaWindow{
				{Limit: 450, Remaining: 0, ResetAt: resetAt, Origin: OriginServer},
			}},
			wantRemaining: 300,
			wantOrigin:    OriginLocalFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Clock = fake
			cfg.Limits = map[string]EndpointLimit{"items": {Limit: 300, Remaining: 300}}
			cfg.Source = tt.source
			l := NewLimiter(cfg)
			l.Tracker().Merge("items", &QuotaWindow{Limit: 300, Remaining: 0, ResetAt: resetAt, Origin: OriginServer})

			if err := l.Reserve(context.Background(), "items", nil); err != nil {
				t.Fatalf("Reserve() error = %v", err)
			}

			w, _ := l.Window("items")
			if w.Remaining != tt.wantRemaining || w.Origin != tt.wantOrigin {
				t.Errorf("window = %+v, want remaining %d from %s", w, tt.wantRemaining, tt.wantOrigin)
			}
			if tt.source.calls != 1 {
				t.Errorf("source called %d times, want 1", tt.source.calls)
			}
		})
	}
}

func TestLimiter_SleepAfterNewWindow(t *testing.T) {
	fake := clock.NewFake(testStart)
	cfg := DefaultConfig()
	cfg.Clock = fake
	cfg.Limits = map[string]EndpointLimit{"items": {Limit: 300, Remaining: 300}}
	cfg.SleepAfterNewWindow = 3 * time.Second
	l := NewLimiter(cfg)

	l.Tracker().Merge("items", &QuotaWindow{Limit: 300, Remaining: 0, ResetAt: testStart.Unix() + 1, Origin: OriginServer})

	if err := l.Reserve(context.Background(), "items", nil); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	sleeps := fake.Sleeps()
	want := []time.Duration{2 * time.Second, 3 * time.Second}
	if len(sleeps) != len(want) || sleeps[0] != want[0] || sleeps[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", sleeps, want)
	}
}

// TestLimiter_ConcurrentReserversBlockWithOneCallLeft runs two reservers
// against an endpoint whose window has one call left and resets in five
// seconds. Neither may pass before the reset plus margin, and the hooks never
// overlap. One call left is below SafetyThreshold; with two left the first
// reserver passes at once, which TestLimiter_LastCallsOfWindow covers.
func TestLimiter_ConcurrentReserversBlockWithOneCallLeft(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(fake, map[string]EndpointLimit{"items": {Limit: 300, Remaining: 300}})

	resetAt := testStart.Unix() + 5
	l.Tracker().Merge("items", &QuotaWindow{Limit: 300, Remaining: 1, ResetAt: resetAt, Origin: OriginServer})

	var (
		inside     atomic.Int32
		overlapped atomic.Bool
		mu         sync.Mutex
		hookTimes  []time.Time
		wg         sync.WaitGroup
	)

	hook := func() {
		if inside.Add(1) > 1 {
			overlapped.Store(true)
		}
		mu.Lock()
		hookTimes = append(hookTimes, fake.Now())
		mu.Unlock()
		l.Decrement("items")
		inside.Add(-1)
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Reserve(context.Background(), "items", hook)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
	}
	if overlapped.Load() {
		t.Error("hooks of two reservers overlapped")
	}
	if len(hookTimes) != 2 {
		t.Fatalf("hooks ran %d times, want 2", len(hookTimes))
	}

	earliest := time.Unix(resetAt, 0).Add(ResetMargin)
	for i, at := range hookTimes {
		if at.Before(earliest) {
			t.Errorf("reserver %d proceeded at %v, before %v", i, at, earliest)
		}
	}

	w, _ := l.Window("items")
	if w.ResetAt <= resetAt {
		t.Errorf("ResetAt = %d, want a window newer than %d", w.ResetAt, resetAt)
	}
	if w.Remaining != 298 {
		t.Errorf("Remaining = %d, want 298 after two decrements of a fresh window", w.Remaining)
	}
}

// With two calls left the first reserver passes straight away and its
// decrement leaves the second waiting for the next window.
func TestLimiter_LastCallsOfWindow(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(fake, map[string]EndpointLimit{"items": {Limit: 300, Remaining: 300}})

	resetAt := testStart.Unix() + 5
	l.Tracker().Merge("items", &QuotaWindow{Limit: 300, Remaining: 2, ResetAt: resetAt, Origin: OriginServer})

	var times []time.Time
	hook := func() {
		times = append(times, fake.Now())
		l.Decrement("items")
	}
	for i := 0; i < 2; i++ {
		if err := l.Reserve(context.Background(), "items", hook); err != nil {
			t.Fatalf("Reserve() #%d error = %v", i, err)
		}
	}

	if !times[0].Equal(testStart) {
		t.Errorf("first reserver proceeded at %v, want %v", times[0], testStart)
	}
	if earliest := time.Unix(resetAt, 0).Add(ResetMargin); times[1].Before(earliest) {
		t.Errorf("second reserver proceeded at %v, before %v", times[1], earliest)
	}
}

func TestLimiter_DistinctEndpointsDoNotBlockEachOther(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits = map[string]EndpointLimit{
		"slow": {Limit: 300, Remaining: 300},
		"fast": {Limit: 300, Remaining: 300},
	}
	l := NewLimiter(cfg)
	l.Tracker().Merge("slow", &QuotaWindow{Limit: 300, Remaining: 0, ResetAt: time.Now().Add(time.Hour).Unix()})

	ctx, cancel := context.WithCancel(context.Background())
	blocked := make(chan error, 1)
	go func() { blocked <- l.Reserve(ctx, "slow", nil) }()

	done := make(chan error, 1)
	go func() { done <- l.Reserve(context.Background(), "fast", nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Reserve(fast) error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Reserve(fast) blocked behind an exhausted endpoint")
	}

	cancel()
	if err := <-blocked; !errors.Is(err, context.Canceled) {
		t.Errorf("Reserve(slow) error = %v, want context.Canceled", err)
	}
}

func TestLimiter_ReserveCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits = map[string]EndpointLimit{"items": {Limit: 300, Remaining: 300}}
	l := NewLimiter(cfg)
	l.Tracker().Merge("items", &QuotaWindow{Limit: 300, Remaining: 0, ResetAt: time.Now().Add(time.Hour).Unix()})

	holderCtx, cancelHolder := context.WithCancel(context.Background())
	holder := make(chan error, 1)
	hookRan := false
	go func() { holder <- l.Reserve(holderCtx, "items", func() { hookRan = true }) }()

	// A second caller queued behind the holder gives up on its own deadline.
	time.Sleep(50 * time.Millisecond)
	waiterCtx, cancelWaiter := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelWaiter()
	start := time.Now()
	if err := l.Reserve(waiterCtx, "items", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("queued Reserve() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("queued Reserve() took %v to give up", elapsed)
	}

	cancelHolder()
	select {
	case err := <-holder:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Reserve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reserve() did not return after cancellation")
	}
	if hookRan {
		t.Error("hook ran for a cancelled reservation")
	}
}

func TestLimiter_RecordFromHeaders(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(fake, nil)
	resetAt := testStart.Unix() + 600

	headers := http.Header{}
	headers.Set(HeaderLimit, "300")
	headers.Set(HeaderRemaining, "250")
	headers.Set(HeaderReset, strconv.FormatInt(resetAt, 10))
	l.RecordFromHeaders("tweets", headers)

	w, ok := l.Window("tweets")
	if !ok {
		t.Fatal("no window after RecordFromHeaders()")
	}
	want := QuotaWindow{Limit: 300, Remaining: 250, ResetAt: resetAt, LastRequestAt: testStart.UnixMilli(), Origin: OriginServer}
	if w != want {
		t.Errorf("window = %+v, want %+v", w, want)
	}

	l.RecordFromHeaders("tweets", http.Header{})
	if after, _ := l.Window("tweets"); after != want {
		t.Errorf("headerless response changed the window to %+v", after)
	}
}

func TestLimiter_RealClockWait(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall clock wait in short mode")
	}

	cfg := DefaultConfig()
	cfg.Limits = map[string]EndpointLimit{"items": {Limit: 300, Remaining: 300}}
	l := NewLimiter(cfg)

	resetAt := time.Now().Unix()
	l.Tracker().Merge("items", &QuotaWindow{Limit: 300, Remaining: 0, ResetAt: resetAt, Origin: OriginServer})

	if err := l.Reserve(context.Background(), "items", nil); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if earliest := time.Unix(resetAt, 0).Add(ResetMargin); time.Now().Before(earliest) {
		t.Errorf("Reserve() returned at %v, before %v", time.Now(), earliest)
	}
}
