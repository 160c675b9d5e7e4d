// Package client executes API requests through the per-endpoint rate
// limiter, classifies failures and retries the transient ones with backoff.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/clock"
	"github.com/JohannesNE/aarhus-covid19-datathon/internal/urlenc"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/auth"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tweetfetch_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_errors_total",
		Help: "Total failed request attempts by class",
	}, []string{"class"})
)

// DefaultBaseURL is the versioned API root.
const DefaultBaseURL = "https://api.twitter.com/2/"

// maxErrorBody bounds the response body kept on a RequestError.
const maxErrorBody = 1024

// Config holds the client configuration.
type Config struct {
	// BaseURL is joined with the endpoint of every request.
	BaseURL string

	// Signer authorizes requests. Required.
	Signer auth.Signer

	// Limiter gates every attempt. A limiter over the default quota table
	// is created when nil.
	Limiter *ratelimit.Limiter

	// HTTPClient is the transport. Its timeout bounds a single attempt.
	HTTPClient *http.Client

	UserAgent string

	Retry RetryPolicy

	// Clock drives retry backoff. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns a configuration for signer with the default base
// URL, retry policy and a transport timeout of five minutes.
func DefaultConfig(signer auth.Signer) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Signer:     signer,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		UserAgent:  "tweetfetch/1.0",
		Retry:      DefaultRetryPolicy(),
		Clock:      clock.Real{},
	}
}

// Client is the API client.
type Client struct {
	baseURL    string
	signer     auth.Signer
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	userAgent  string
	retry      RetryPolicy
	clock      clock.Clock
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Limiter == nil {
		lc := ratelimit.DefaultConfig()
		lc.Clock = cfg.Clock
		cfg.Limiter = ratelimit.NewLimiter(lc)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		signer:     cfg.Signer,
		limiter:    cfg.Limiter,
		httpClient: cfg.HTTPClient,
		userAgent:  cfg.UserAgent,
		retry:      cfg.Retry,
		clock:      cfg.Clock,
		logger:     log.With().Str("component", "client").Logger(),
	}, nil
}

// Limiter returns the rate limiter of the client.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// FetchPage performs a GET request and decodes the response into a page.
func (c *Client) FetchPage(ctx context.Context, endpoint string, params url.Values) (*page.Page, error) {
	return c.fetch(ctx, http.MethodGet, endpoint, params)
}

// Post performs a form encoded POST request and decodes the response into a
// page.
func (c *Client) Post(ctx context.Context, endpoint string, params url.Values) (*page.Page, error) {
	return c.fetch(ctx, http.MethodPost, endpoint, params)
}

func (c *Client) fetch(ctx context.Context, method, endpoint string, params url.Values) (*page.Page, error) {
	body, err := c.Do(ctx, method, endpoint, params)
	if err != nil {
		return nil, err
	}

	p, err := page.Decode(body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassFatal)).Inc()
		return nil, &RequestError{Class: ErrorClassFatal, Endpoint: endpoint, Params: params, Err: err}
	}
	return p, nil
}

// Do sends a request, reserving quota before every attempt and retrying per
// the retry policy. It returns the body of the successful response.
func (c *Client) Do(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	failures := 0
	for {
		err := c.limiter.Reserve(ctx, endpoint, func() {
			c.limiter.Decrement(endpoint)
		})
		if err != nil {
			return nil, err
		}

		body, err := c.attempt(ctx, method, endpoint, params)
		if err != nil {
			failures++
		}

		d := c.retry.Decide(failures, err)
		switch d.Outcome {
		case OutcomeSuccess:
			if failures > 0 {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", failures+1).
					Msg("Request succeeded after retry")
			}
			return body, nil

		case OutcomeFail:
			c.logger.Error().Err(d.Err).Str("endpoint", endpoint).Int("attempts", failures).Msg("Request failed")
			return nil, d.Err

		case OutcomeRetry:
			c.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("attempt", failures).
				Dur("backoff", d.Delay).
				Msg("Retrying request after backoff")
			if err := c.clock.Sleep(ctx, d.Delay); err != nil {
				return nil, fmt.Errorf("retry backoff on %s: %w", endpoint, err)
			}
		}
	}
}

// attempt sends exactly one request and records its quota headers.
func (c *Client) attempt(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	target := c.baseURL + endpoint
	encoded := urlenc.Encode(params)

	var (
		body io.Reader
		form url.Values
	)
	if method == http.MethodGet {
		if encoded != "" {
			target += "?" + encoded
		}
	} else {
		body = strings.NewReader(encoded)
		form = params
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &RequestError{Class: ErrorClassFatal, Endpoint: endpoint, Params: params, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	}
	if err := c.signer.Sign(req, form); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Msg("Executing request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request %s: %w", endpoint, ctx.Err())
		}
		class := classifyTransportError(err)
		errorsTotal.WithLabelValues(string(class)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &RequestError{Class: class, Endpoint: endpoint, Params: params, Err: err}
	}
	defer resp.Body.Close()

	c.limiter.RecordFromHeaders(endpoint, resp.Header)
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	data, readErr := io.ReadAll(resp.Body)

	class := classifyStatus(resp.StatusCode)
	if class == "" {
		if readErr != nil {
			class = classifyTransportError(readErr)
			errorsTotal.WithLabelValues(string(class)).Inc()
			return nil, &RequestError{Class: class, StatusCode: resp.StatusCode, Endpoint: endpoint, Params: params, Err: fmt.Errorf("read body: %w", readErr)}
		}
		return data, nil
	}

	errorsTotal.WithLabelValues(string(class)).Inc()

	event := c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("error_class", string(class))
	if class == ErrorClassRateLimit {
		event = event.
			Str(ratelimit.HeaderLimit, resp.Header.Get(ratelimit.HeaderLimit)).
			Str(ratelimit.HeaderRemaining, resp.Header.Get(ratelimit.HeaderRemaining)).
			Str(ratelimit.HeaderReset, resp.Header.Get(ratelimit.HeaderReset))
	}
	event.Msg("API request error")

	return nil, &RequestError{
		Class:      class,
		StatusCode: resp.StatusCode,
		Endpoint:   endpoint,
		Params:     params,
		Body:       truncate(string(data), maxErrorBody),
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
