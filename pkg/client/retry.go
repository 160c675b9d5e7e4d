package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tweetfetch_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{1, 5, 10, 25, 50, 125, 300},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Outcome is the verdict of a retry decision.
type Outcome int

const (
	// OutcomeSuccess means the attempt succeeded.
	OutcomeSuccess Outcome = iota

	// OutcomeRetry means the request is sent again after Decision.Delay.
	OutcomeRetry

	// OutcomeFail means Decision.Err is returned to the caller.
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFail:
		return "fail"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Decision is the result of RetryPolicy.Decide.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
	Err     error
}

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is scaled by failures²+1 for the n-th failure.
	BaseDelay time.Duration

	// ServiceUnavailableFactor multiplies BaseDelay for 503 responses.
	ServiceUnavailableFactor int
}

// DefaultRetryPolicy returns the default retry policy: three attempts in
// total, waiting 10s and 25s, or 50s and 125s for 503.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:               2,
		BaseDelay:                5 * time.Second,
		ServiceUnavailableFactor: 5,
	}
}

// Decide classifies the outcome of an attempt. failures counts the failed
// attempts so far, including this one.
func (p RetryPolicy) Decide(failures int, err error) Decision {
	if err == nil {
		return Decision{Outcome: OutcomeSuccess}
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) || !shouldRetry(reqErr.Class) {
		return Decision{Outcome: OutcomeFail, Err: err}
	}

	if failures > p.MaxRetries {
		retryExhaustedTotal.WithLabelValues(string(reqErr.Class)).Inc()
		return Decision{
			Outcome: OutcomeFail,
			Err:     fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, failures, err),
		}
	}

	base := p.BaseDelay
	if reqErr.StatusCode == http.StatusServiceUnavailable && p.ServiceUnavailableFactor > 0 {
		base *= time.Duration(p.ServiceUnavailableFactor)
	}
	delay := base * time.Duration(failures*failures+1)

	retriesTotal.WithLabelValues(string(reqErr.Class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(reqErr.Class)).Observe(delay.Seconds())

	return Decision{Outcome: OutcomeRetry, Delay: delay, Err: err}
}

// classifyStatus maps an HTTP status to an error class. Success statuses
// return "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassFatal
	}
}

// classifyTransportError separates connection resets, which the API
// produces when it drops a connection mid-body, from every other transport
// failure.
func classifyTransportError(err error) ErrorClass {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorClassNetwork
	}
	return ErrorClassFatal
}
