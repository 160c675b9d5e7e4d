// Package ratelimit implements per-endpoint quota tracking and request gating.
// It reads the x-rate-limit-limit, x-rate-limit-remaining and
// x-rate-limit-reset headers of every response and holds back requests until
// the current quota window shows headroom.
package ratelimit

import (
	"time"
)

// Response headers carrying the quota window of an endpoint.
const (
	HeaderLimit     = "x-rate-limit-limit"
	HeaderRemaining = "x-rate-limit-remaining"
	HeaderReset     = "x-rate-limit-reset"
)

// Thresholds and margins for reserve decisions.
const (
	// SafetyThreshold blocks requests while fewer than this many calls remain
	// in the window. It leaves room for one racing optimistic decrement.
	SafetyThreshold = 2

	// ResetMargin is added to the server reset instant before a waiting
	// caller re-checks the window.
	ResetMargin = time.Second

	// FallbackHorizon is the lifetime of a locally seeded window.
	FallbackHorizon = 15 * time.Minute
)

// Origin tells where a quota window came from.
type Origin string

const (
	// OriginServer marks a window read from response headers.
	OriginServer Origin = "SERVER"

	// OriginLocalFallback marks a window seeded from DefaultLimits.
	OriginLocalFallback Origin = "LOCAL_FALLBACK"
)

// QuotaWindow is the last known quota state of one endpoint.
type QuotaWindow struct {
	// Limit is the number of calls allowed per window.
	Limit int `json:"limit"`

	// Remaining is the number of calls left in the window.
	Remaining int `json:"remaining"`

	// ResetAt is the epoch second at which the window ends.
	ResetAt int64 `json:"reset_at"`

	// LastRequestAt is the epoch millisecond of the latest request sent to
	// the endpoint. It only moves forward.
	LastRequestAt int64 `json:"last_request_at"`

	Origin Origin `json:"origin"`
}

// Exhausted reports whether the window has fewer than threshold calls left.
func (w QuotaWindow) Exhausted(threshold int) bool {
	return w.Remaining < threshold
}

// WaitUntilReset returns how long a caller must wait at now for the window
// to reset, including ResetMargin. It is zero or negative once the reset
// instant plus the margin has passed.
func (w QuotaWindow) WaitUntilReset(now time.Time) time.Duration {
	return time.Duration(w.ResetAt-now.Unix())*time.Second + ResetMargin
}

// SinceLastRequest returns the time elapsed at now since LastRequestAt.
func (w QuotaWindow) SinceLastRequest(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-w.LastRequestAt) * time.Millisecond
}

// EndpointLimit is the static default quota of an endpoint.
type EndpointLimit struct {
	Limit     int `json:"limit" yaml:"limit"`
	Remaining int `json:"remaining" yaml:"remaining"`

	// MinInterval is the minimum spacing between two requests. Zero
	// disables spacing.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
}

// DefaultLimits holds the application-only quotas of the endpoints used by
// the scraper. It must not be modified.
var DefaultLimits = map[string]EndpointLimit{
	"tweets/search/all": {Limit: 300, Remaining: 300, MinInterval: time.Second},
	"tweets":            {Limit: 300, Remaining: 300, MinInterval: time.Second},
}

// fallbackLimit applies to endpoints missing from the limits table.
var fallbackLimit = EndpointLimit{Limit: 15, Remaining: 15}

// fallbackWindow builds a LOCAL_FALLBACK window from l starting at now.
func fallbackWindow(l EndpointLimit, now time.Time) *QuotaWindow {
	return &QuotaWindow{
		Limit:     l.Limit,
		Remaining: l.Remaining,
		ResetAt:   now.Add(FallbackHorizon).Unix(),
		Origin:    OriginLocalFallback,
	}
}
