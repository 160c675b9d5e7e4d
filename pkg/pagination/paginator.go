package pagination

import (
	"context"
	"fmt"
	"iter"
	"net/url"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/normalize"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pagination.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_pages_total",
		Help: "Total pages fetched by endpoint",
	}, []string{"endpoint"})

	entitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_entities_total",
		Help: "Total primary entities received by endpoint",
	}, []string{"endpoint"})

	gapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfetch_normalization_gaps_total",
		Help: "References that resolved to neither an included object nor an error, by expansion",
	}, []string{"expansion"})
)

// CursorParam is the request parameter carrying the cursor.
const CursorParam = "next_token"

// PageFetcher fetches one page of an endpoint.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, params url.Values) (*page.Page, error)
}

// PageResult is one normalized page of a stream.
type PageResult struct {
	// Page holds the normalized primary entities.
	Page *page.Page

	// Number is the 1-based position of the page in this stream.
	Number int

	// Cursor requested this page. Empty for the first page of a fresh run.
	Cursor string

	// Next is the cursor of the following page, empty on the last page.
	// Passing it to Stream continues right after this page.
	Next string

	Gaps []normalize.Gap
}

// StreamError aborts a stream. Cursor is the cursor of the page that failed,
// so a later Stream from it re-requests that page and nothing before it.
type StreamError struct {
	Endpoint string
	Params   url.Values
	Cursor   string
	Page     int
	Err      error
}

func (e *StreamError) Error() string {
	cursor := e.Cursor
	if cursor == "" {
		cursor = "<start>"
	}
	return fmt.Sprintf("stream %s page %d (cursor %s, params %s): %v",
		e.Endpoint, e.Page, cursor, e.Params.Encode(), e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Paginator follows cursors of one endpoint.
type Paginator struct {
	fetcher    PageFetcher
	normalizer *normalize.Normalizer
	logger     zerolog.Logger
}

// NewPaginator creates a paginator. A nil normalizer uses normalize.Default.
func NewPaginator(fetcher PageFetcher, normalizer *normalize.Normalizer) *Paginator {
	if normalizer == nil {
		normalizer = normalize.Default()
	}
	return &Paginator{
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     log.With().Str("component", "pagination").Logger(),
	}
}

// Stream returns the pages of endpoint starting at resume ("" for the first
// page). The sequence is lazy: a page is requested only when the previous one
// has been consumed. The first error ends the sequence and is yielded once as
// a *StreamError. Cancelling ctx ends the sequence before the next request.
func (p *Paginator) Stream(ctx context.Context, endpoint string, params url.Values, resume string) iter.Seq2[*PageResult, error] {
	return func(yield func(*PageResult, error) bool) {
		cursor := resume
		for number := 1; ; number++ {
			fail := func(err error) {
				p.logger.Error().
					Err(err).
					Str("endpoint", endpoint).
					Int("page", number).
					Str("cursor", cursor).
					Msg("Pagination aborted")
				yield(nil, &StreamError{
					Endpoint: endpoint,
					Params:   params,
					Cursor:   cursor,
					Page:     number,
					Err:      err,
				})
			}

			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			pg, err := p.fetcher.FetchPage(ctx, endpoint, withCursor(params, cursor))
			if err != nil {
				fail(err)
				return
			}

			gaps := p.normalizer.Normalize(pg)
			for _, g := range gaps {
				gapsTotal.WithLabelValues(g.Expansion).Inc()
				p.logger.Debug().
					Str("endpoint", endpoint).
					Str("expansion", g.Expansion).
					Str("id", g.ID).
					Msg("Reference resolved to neither object nor error")
			}
			pagesTotal.WithLabelValues(endpoint).Inc()
			entitiesTotal.WithLabelValues(endpoint).Add(float64(len(pg.Data)))

			res := &PageResult{
				Page:   pg,
				Number: number,
				Cursor: cursor,
				Next:   pg.NextCursor(),
				Gaps:   gaps,
			}

			p.logger.Debug().
				Str("endpoint", endpoint).
				Int("page", number).
				Int("entities", len(pg.Data)).
				Bool("last", res.Next == "").
				Msg("Page fetched")

			if !yield(res, nil) || res.Next == "" {
				return
			}
			cursor = res.Next
		}
	}
}

// withCursor copies params and sets the cursor parameter.
func withCursor(params url.Values, cursor string) url.Values {
	out := make(url.Values, len(params)+1)
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	if cursor != "" {
		out.Set(CursorParam, cursor)
	} else {
		out.Del(CursorParam)
	}
	return out
}
