package ratelimit

import (
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Tracker holds the quota window of every endpoint and merges updates with a
// freshness rule. Responses for one endpoint may arrive out of order, so the
// tracker converges to the lowest remaining count of the current window and
// accepts a newer window as soon as it shows up. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	windows map[string]*QuotaWindow
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{windows: make(map[string]*QuotaWindow)}
}

// Merge folds candidate into the window of endpoint and returns the window
// after the merge. A nil candidate carries no usable signal and leaves the
// window untouched. The second result is false when the endpoint has no
// window at all.
func (t *Tracker) Merge(endpoint string, candidate *QuotaWindow) (QuotaWindow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.windows[endpoint]
	if candidate == nil {
		if !ok {
			return QuotaWindow{}, false
		}
		return *current, true
	}

	if !ok {
		w := *candidate
		t.windows[endpoint] = &w
		return w, true
	}

	lastRequestAt := max(current.LastRequestAt, candidate.LastRequestAt)
	switch {
	case candidate.ResetAt == current.ResetAt:
		if candidate.Remaining < current.Remaining {
			*current = *candidate
		}
	case candidate.ResetAt > current.ResetAt:
		*current = *candidate
	}
	current.LastRequestAt = lastRequestAt

	return *current, true
}

// Get returns a copy of the window of endpoint.
func (t *Tracker) Get(endpoint string) (QuotaWindow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[endpoint]
	if !ok {
		return QuotaWindow{}, false
	}
	return *w, true
}

// Decrement optimistically consumes one call of the window of endpoint and
// stamps the request time. It is a no-op for unknown endpoints.
func (t *Tracker) Decrement(endpoint string, now time.Time) (QuotaWindow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[endpoint]
	if !ok {
		return QuotaWindow{}, false
	}
	w.Remaining--
	w.LastRequestAt = max(w.LastRequestAt, now.UnixMilli())
	return *w, true
}

// Endpoints lists the endpoints with a window, sorted.
func (t *Tracker) Endpoints() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.windows))
	for endpoint := range t.windows {
		out = append(out, endpoint)
	}
	slices.Sort(out)
	return out
}

// ParseHeaders reads a SERVER window from response headers received at now.
// It returns nil when any of the three quota headers is missing or not a
// number, which the API does for some responses.
func ParseHeaders(headers http.Header, now time.Time) *QuotaWindow {
	limit, err := strconv.Atoi(headers.Get(HeaderLimit))
	if err != nil {
		return nil
	}
	remaining, err := strconv.Atoi(headers.Get(HeaderRemaining))
	if err != nil {
		return nil
	}
	reset, err := strconv.ParseInt(headers.Get(HeaderReset), 10, 64)
	if err != nil {
		return nil
	}

	return &QuotaWindow{
		Limit:         limit,
		Remaining:     remaining,
		ResetAt:       reset,
		LastRequestAt: now.UnixMilli(),
		Origin:        OriginServer,
	}
}
