package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/normalize"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// MaxChunkSize is the largest number of ids one lookup request accepts.
const MaxChunkSize = 100

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of chunks in flight. Requests are
	// still paced by the rate limiter of the fetch function.
	MaxConcurrency int

	// ChunkSize is the number of ids per request, at most MaxChunkSize.
	ChunkSize int

	// IDParam names the request parameter carrying the comma separated ids.
	IDParam string
}

// DefaultConfig returns the default lookup configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		ChunkSize:      MaxChunkSize,
		IDParam:        "ids",
	}
}

// FetchFunc fetches one page for a set of parameters, e.g. client.Post.
type FetchFunc func(ctx context.Context, endpoint string, params url.Values) (*page.Page, error)

// ChunkResult is the normalized response for one chunk of ids.
type ChunkResult struct {
	Index int
	IDs   []string
	Page  *page.Page
	Gaps  []normalize.Gap
}

// BatchFetcher looks up ids in chunks over a bounded worker pool.
type BatchFetcher struct {
	fetch      FetchFunc
	normalizer *normalize.Normalizer
	config     Config
	logger     zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetch FetchFunc, normalizer *normalize.Normalizer, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.ChunkSize <= 0 || config.ChunkSize > MaxChunkSize {
		config.ChunkSize = MaxChunkSize
	}
	if config.IDParam == "" {
		config.IDParam = "ids"
	}
	if normalizer == nil {
		normalizer = normalize.Default()
	}

	return &BatchFetcher{
		fetch:      fetch,
		normalizer: normalizer,
		config:     config,
		logger:     log.With().Str("component", "batch_fetcher").Logger(),
	}
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = MaxChunkSize
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// FetchAll looks up ids on endpoint and hands every chunk result to fn in
// chunk order, regardless of the order in which responses arrive. The first
// failure, from a fetch or from fn, cancels the remaining chunks and is
// returned.
func (bf *BatchFetcher) FetchAll(ctx context.Context, endpoint string, ids []string, params url.Values, fn func(ChunkResult) error) error {
	chunks := Chunk(ids, bf.config.ChunkSize)
	if len(chunks) == 0 {
		return nil
	}
	start := time.Now()

	bf.logger.Info().
		Str("endpoint", endpoint).
		Int("ids", len(ids)).
		Int("chunks", len(chunks)).
		Msg("Starting batch lookup")

	results := make([]chan ChunkResult, len(chunks))
	for i := range results {
		results[i] = make(chan ChunkResult, 1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		workers, wctx := errgroup.WithContext(gctx)
		workers.SetLimit(bf.config.MaxConcurrency)
		for i, chunk := range chunks {
			if wctx.Err() != nil {
				break
			}
			workers.Go(func() error {
				res, err := bf.fetchChunk(wctx, endpoint, i, chunk, params)
				if err != nil {
					return err
				}
				results[i] <- res
				return nil
			})
		}
		return workers.Wait()
	})

	g.Go(func() error {
		for i := range results {
			select {
			case res := <-results[i]:
				if err := fn(res); err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		bf.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Msg("Batch lookup aborted")
		return err
	}

	bf.logger.Info().
		Str("endpoint", endpoint).
		Int("chunks", len(chunks)).
		Dur("duration", time.Since(start)).
		Msg("Batch lookup complete")
	return nil
}

func (bf *BatchFetcher) fetchChunk(ctx context.Context, endpoint string, index int, ids []string, base url.Values) (ChunkResult, error) {
	params := make(url.Values, len(base)+1)
	for k, v := range base {
		params[k] = append([]string(nil), v...)
	}
	params.Set(bf.config.IDParam, strings.Join(ids, ","))

	pg, err := bf.fetch(ctx, endpoint, params)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("lookup chunk %d (%d ids starting at %s): %w", index, len(ids), ids[0], err)
	}

	gaps := bf.normalizer.Normalize(pg)
	for _, g := range gaps {
		gapsTotal.WithLabelValues(g.Expansion).Inc()
	}
	pagesTotal.WithLabelValues(endpoint).Inc()
	entitiesTotal.WithLabelValues(endpoint).Add(float64(len(pg.Data)))

	bf.logger.Debug().
		Str("endpoint", endpoint).
		Int("chunk", index).
		Int("entities", len(pg.Data)).
		Msg("Chunk fetched")

	return ChunkResult{Index: index, IDs: ids, Page: pg, Gaps: gaps}, nil
}
