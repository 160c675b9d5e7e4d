package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for quota tracking.
var (
	quotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tweetfetch_quota_remaining",
		Help: "Calls remaining in the current quota window by endpoint",
	}, []string{"endpoint"})

	quotaWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_quota_waits_total",
		Help: "Total number of reserve suspensions by endpoint and reason",
	}, []string{"endpoint", "reason"})

	quotaWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tweetfetch_quota_wait_seconds",
		Help:    "Time spent suspended in reserve by endpoint and reason",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900},
	}, []string{"endpoint", "reason"})

	quotaWindowsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_quota_windows_opened_total",
		Help: "Total number of quota windows refreshed by a waiting reserve, by origin",
	}, []string{"endpoint", "origin"})
)

// Wait reasons used as metric labels.
const (
	reasonSpacing   = "spacing"
	reasonExhausted = "exhausted"
	reasonNewWindow = "new_window"
)

// WindowSource fetches the authoritative quota window of an endpoint, if the
// API offers one. A nil window with a nil error means no data.
type WindowSource interface {
	FetchWindow(ctx context.Context, endpoint string) (*QuotaWindow, error)
}

// Config holds the limiter configuration.
type Config struct {
	// Name prefixes log lines when several limiters share a process.
	Name string

	// Limits is the default quota table. Endpoints missing from it use a
	// low fallback quota.
	Limits map[string]EndpointLimit

	// SleepAfterNewWindow paces the first request of a freshly opened
	// window so that workers sharing the limiter do not burst together.
	SleepAfterNewWindow time.Duration

	// Source is consulted when a window is exhausted. Optional.
	Source WindowSource

	// Clock drives every wait. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns a limiter configuration over DefaultLimits.
func DefaultConfig() Config {
	return Config{
		Limits: DefaultLimits,
		Clock:  clock.Real{},
	}
}

// Limiter serializes and paces requests per endpoint. Every endpoint owns an
// exclusive primitive held for the whole reserve decision; distinct endpoints
// never block each other.
type Limiter struct {
	tracker *Tracker
	config  Config
	clock   clock.Clock
	logger  zerolog.Logger

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLimiter creates a limiter with its own tracker.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Limits == nil {
		cfg.Limits = DefaultLimits
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	logger := log.With().Str("component", "ratelimit").Logger()
	if cfg.Name != "" {
		logger = logger.With().Str("limiter", cfg.Name).Logger()
	}

	sems := make(map[string]*semaphore.Weighted, len(cfg.Limits))
	for endpoint := range cfg.Limits {
		sems[endpoint] = semaphore.NewWeighted(1)
	}

	return &Limiter{
		tracker: NewTracker(),
		config:  cfg,
		clock:   cfg.Clock,
		logger:  logger,
		sems:    sems,
	}
}

// Tracker returns the quota tracker of the limiter.
func (l *Limiter) Tracker() *Tracker {
	return l.tracker
}

// Reserve blocks until it is safe to send one request to endpoint, then runs
// beforeRelease (typically Decrement) exactly once while still holding the
// endpoint primitive. It returns early with the context error when ctx ends
// during any wait.
func (l *Limiter) Reserve(ctx context.Context, endpoint string, beforeRelease func()) error {
	sem := l.semaphore(endpoint)
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("reserve %s: %w", endpoint, err)
	}
	defer sem.Release(1)

	limit := l.Limit(endpoint)

	w, ok := l.tracker.Get(endpoint)
	if !ok {
		w = l.refresh(ctx, endpoint, limit)
	}

	if limit.MinInterval > 0 {
		if elapsed := w.SinceLastRequest(l.clock.Now()); elapsed < limit.MinInterval {
			if err := l.wait(ctx, endpoint, reasonSpacing, limit.MinInterval-elapsed); err != nil {
				return err
			}
			w, _ = l.tracker.Get(endpoint)
		}
	}

	for w.Exhausted(SafetyThreshold) {
		now := l.clock.Now()
		if d := w.WaitUntilReset(now); d > 0 {
			l.logger.Warn().
				Str("endpoint", endpoint).
				Int("remaining", w.Remaining).
				Int64("reset_at", w.ResetAt).
				Dur("wait", d).
				Time("resume_at", now.Add(d)).
				Msg("Quota exhausted, waiting for next window")
			if err := l.wait(ctx, endpoint, reasonExhausted, d); err != nil {
				return err
			}
		}

		w = l.refresh(ctx, endpoint, limit)
		quotaWindowsOpenedTotal.WithLabelValues(endpoint, string(w.Origin)).Inc()

		if !w.Exhausted(SafetyThreshold) && l.config.SleepAfterNewWindow > 0 {
			if err := l.wait(ctx, endpoint, reasonNewWindow, l.config.SleepAfterNewWindow); err != nil {
				return err
			}
		}
	}

	if beforeRelease != nil {
		beforeRelease()
	}
	return nil
}

// Decrement consumes one call of the window of endpoint before the response
// confirms it.
func (l *Limiter) Decrement(endpoint string) {
	if w, ok := l.tracker.Decrement(endpoint, l.clock.Now()); ok {
		quotaRemaining.WithLabelValues(endpoint).Set(float64(w.Remaining))
	}
}

// RecordFromHeaders merges the quota headers of a response into the window
// of endpoint. Responses without usable headers leave the window untouched.
func (l *Limiter) RecordFromHeaders(endpoint string, headers http.Header) {
	candidate := ParseHeaders(headers, l.clock.Now())
	if candidate == nil {
		l.logger.Debug().Str("endpoint", endpoint).Msg("Response carries no quota headers")
		return
	}

	w, _ := l.tracker.Merge(endpoint, candidate)
	quotaRemaining.WithLabelValues(endpoint).Set(float64(w.Remaining))

	l.logger.Debug().
		Str("endpoint", endpoint).
		Int("limit", w.Limit).
		Int("remaining", w.Remaining).
		Int64("reset_at", w.ResetAt).
		Msg("Quota state updated")
}

// Window returns the current window of endpoint.
func (l *Limiter) Window(endpoint string) (QuotaWindow, bool) {
	return l.tracker.Get(endpoint)
}

// Limit returns the configured default quota of endpoint, or the fallback
// quota for endpoints missing from the table.
func (l *Limiter) Limit(endpoint string) EndpointLimit {
	if limit, ok := l.config.Limits[endpoint]; ok {
		return limit
	}
	l.logger.Error().Str("endpoint", endpoint).Msg("Unknown endpoint in quota table, using fallback limit")
	return fallbackLimit
}

func (l *Limiter) semaphore(endpoint string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.sems[endpoint]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[endpoint] = sem
	}
	return sem
}

// refresh replaces an exhausted or missing window with the best data
// available: the window source when it reports a usable window, otherwise a
// local fallback window starting now.
func (l *Limiter) refresh(ctx context.Context, endpoint string, limit EndpointLimit) QuotaWindow {
	now := l.clock.Now()

	var candidate *QuotaWindow
	if l.config.Source != nil {
		w, err := l.config.Source.FetchWindow(ctx, endpoint)
		switch {
		case err != nil:
			l.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to fetch quota window, using fallback")
		case w == nil:
		case w.Exhausted(SafetyThreshold) && w.WaitUntilReset(now) <= 0:
			// stale: the server still reports a window that already ended
		default:
			candidate = w
		}
	}
	if candidate == nil {
		candidate = fallbackWindow(limit, now)
	}

	w, _ := l.tracker.Merge(endpoint, candidate)
	quotaRemaining.WithLabelValues(endpoint).Set(float64(w.Remaining))
	return w
}

func (l *Limiter) wait(ctx context.Context, endpoint, reason string, d time.Duration) error {
	quotaWaitsTotal.WithLabelValues(endpoint, reason).Inc()
	quotaWaitSeconds.WithLabelValues(endpoint, reason).Observe(d.Seconds())

	if err := l.clock.Sleep(ctx, d); err != nil {
		return fmt.Errorf("reserve %s: %w", endpoint, err)
	}
	return nil
}
