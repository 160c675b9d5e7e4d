// Package metrics serves the Prometheus metrics of tweetfetch.
// All metrics are defined in their respective packages (ratelimit, client,
// pagination, checkpoint, sink, scraper) via promauto and registered on the
// default registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the registry every tweetfetch metric is registered on.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server exposes /metrics for the lifetime of a long running job.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr ("host:port", ":0" picks a free port) and serves
// /metrics in the background until Shutdown.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		listener: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "metrics").Msg("Metrics server stopped")
		}
	}()

	log.Info().Str("component", "metrics").Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Quota Metrics (pkg/ratelimit):
//   - tweetfetch_quota_remaining{endpoint} (Gauge): Calls remaining in the current window
//   - tweetfetch_quota_waits_total{endpoint, reason} (Counter): Reserve suspensions (spacing, exhausted, new_window)
//   - tweetfetch_quota_wait_seconds{endpoint, reason} (Histogram): Time suspended in reserve
//   - tweetfetch_quota_windows_opened_total{endpoint, origin} (Counter): Windows refreshed after exhaustion
//
// Request Metrics (pkg/client):
//   - tweetfetch_requests_total{endpoint, status} (Counter): Attempts by endpoint and HTTP status
//   - tweetfetch_request_duration_seconds{endpoint} (Histogram): Attempt duration
//   - tweetfetch_errors_total{class} (Counter): Failed attempts by class
//
// Retry Metrics (pkg/client):
//   - tweetfetch_retries_total{error_class} (Counter): Retries by error class
//   - tweetfetch_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - tweetfetch_retry_exhausted_total{error_class} (Counter): Requests that exhausted the retry budget
//
// Pagination Metrics (pkg/pagination):
//   - tweetfetch_pages_total{endpoint} (Counter): Pages fetched
//   - tweetfetch_entities_total{endpoint} (Counter): Primary entities received
//   - tweetfetch_normalization_gaps_total{expansion} (Counter): Unresolved references without an error
//
// Output Metrics (pkg/sink, pkg/checkpoint, pkg/scraper):
//   - tweetfetch_sink_entities_total{sink} (Counter): Entities written by sink kind
//   - tweetfetch_checkpoint_operations_total{operation, result} (Counter): Checkpoint store operations
//   - tweetfetch_jobs_total{operation, result} (Counter): Finished jobs
//
// Example Prometheus Queries:
//
//   # Time spent waiting for quota
//   sum by (endpoint) (rate(tweetfetch_quota_wait_seconds_sum[15m]))
//
//   # Tweets per minute
//   sum(rate(tweetfetch_entities_total[5m])) * 60
//
//   # Retry rate
//   sum(rate(tweetfetch_retries_total[5m])) / sum(rate(tweetfetch_requests_total[5m]))
