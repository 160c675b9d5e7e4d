// Package testutil provides testing utilities for the API client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the versioned path the mock API serves under.
const APIPrefix = "/2/"

// MockAPIResponse defines the behavior for a mock endpoint response.
type MockAPIResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request received by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   string
	Header http.Header
}

// MockAPI is a configurable mock API server for testing.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	queues   map[string][]MockAPIResponse

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	requests          []RecordedRequest
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		queues:   make(map[string][]MockAPIResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		// restore the body so handlers can parse forms
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		endpoint := strings.TrimPrefix(r.URL.Path, APIPrefix)

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   endpoint,
			Query:  r.URL.Query(),
			Body:   string(body),
			Header: r.Header.Clone(),
		})

		var queued *MockAPIResponse
		if q := mock.queues[endpoint]; len(q) > 0 {
			resp := q[0]
			if len(q) > 1 {
				mock.queues[endpoint] = q[1:]
			}
			queued = &resp
		}
		handler, exists := mock.handlers[endpoint]
		mock.mu.Unlock()

		switch {
		case queued != nil:
			writeResponse(w, *queued)
		case exists:
			handler(w, r)
		default:
			mock.defaultHandler(w, r)
		}
	}))

	return mock
}

// URL returns the mock server root URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// BaseURL returns the versioned API root to configure clients with.
func (m *MockAPI) BaseURL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.requests = nil
}

// SetHandler sets a custom handler for an endpoint, e.g. "tweets/search/all".
func (m *MockAPI) SetHandler(endpoint string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[endpoint] = handler
}

// SetResponse configures a fixed response for an endpoint.
func (m *MockAPI) SetResponse(endpoint string, resp MockAPIResponse) {
	m.SetHandler(endpoint, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// QueueResponses serves resps for an endpoint in order. The last one repeats.
func (m *MockAPI) QueueResponses(endpoint string, resps ...MockAPIResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[endpoint] = append([]MockAPIResponse(nil), resps...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// Requests returns a copy of every recorded request.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func writeResponse(w http.ResponseWriter, resp MockAPIResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// defaultHandler answers unknown endpoints like the API does.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, `{"title":"Not Found Error","detail":"no route for %s"}`, r.URL.Path)
}

// QuotaHeaders returns quota headers for a window.
func QuotaHeaders(limit, remaining int, reset int64) map[string]string {
	return map[string]string{
		"x-rate-limit-limit":     strconv.Itoa(limit),
		"x-rate-limit-remaining": strconv.Itoa(remaining),
		"x-rate-limit-reset":     strconv.FormatInt(reset, 10),
		"Content-Type":           "application/json; charset=utf-8",
	}
}

func healthyHeaders() map[string]string {
	return QuotaHeaders(300, 299, time.Now().Add(15*time.Minute).Unix())
}

// NewPageResponse creates a 200 OK response with healthy quota headers.
func NewPageResponse(body string) MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    healthyHeaders(),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"title":"Too Many Requests","detail":"Too Many Requests","type":"about:blank","status":429}`,
		Headers:    QuotaHeaders(300, 0, time.Now().Add(15*time.Minute).Unix()),
	}
}

// NewServerErrorResponse creates a 5xx response with the given status.
func NewServerErrorResponse(status int) MockAPIResponse {
	return MockAPIResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"title":%q,"status":%d}`, http.StatusText(status), status),
		Headers:    healthyHeaders(),
	}
}

// NewClientErrorResponse creates a 400 Bad Request response.
func NewClientErrorResponse(detail string) MockAPIResponse {
	body, _ := json.Marshal(map[string]any{
		"title":  "Invalid Request",
		"detail": detail,
		"type":   "https://api.twitter.com/2/problems/invalid-request",
	})
	return MockAPIResponse{
		StatusCode: http.StatusBadRequest,
		Body:       string(body),
		Headers:    healthyHeaders(),
	}
}

// PageJSON renders a page with one tweet per id, each authored by user "u1",
// and the cursor next ("" for the last page).
func PageJSON(ids []string, next string) string {
	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]any{
			"id":              id,
			"author_id":       "u1",
			"conversation_id": id,
			"created_at":      "2021-06-01T12:00:00.000Z",
			"text":            "tweet " + id,
		})
	}

	meta := map[string]any{"result_count": len(ids)}
	if next != "" {
		meta["next_token"] = next
	}

	body, _ := json.Marshal(map[string]any{
		"data":     data,
		"includes": map[string]any{"users": []map[string]any{{"id": "u1", "username": "user_one"}}},
		"meta":     meta,
	})
	return string(body)
}

// PagedHandler serves pages in order, following the next_token parameter.
// The cursor of page i is "cursor-i".
func PagedHandler(pages [][]string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		index := 0
		if token := r.URL.Query().Get("next_token"); token != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(token, "cursor-"))
			if err != nil || n <= 0 || n >= len(pages) {
				writeResponse(w, NewClientErrorResponse("invalid next_token "+token))
				return
			}
			index = n
		}

		next := ""
		if index+1 < len(pages) {
			next = fmt.Sprintf("cursor-%d", index+1)
		}
		writeResponse(w, NewPageResponse(PageJSON(pages[index], next)))
	}
}
