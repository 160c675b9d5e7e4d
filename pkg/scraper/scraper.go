package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/clock"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/checkpoint"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/normalize"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/pagination"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/sink"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tweetfetch_jobs_total",
	Help: "Total scraper jobs by operation and result",
}, []string{"operation", "result"})

// API fetches one page of an endpoint. *client.Client implements it.
type API interface {
	FetchPage(ctx context.Context, endpoint string, params url.Values) (*page.Page, error)
}

// Config holds the scraper configuration.
type Config struct {
	// DestDir receives every output file. Created when missing.
	DestDir string

	// PageSize is the max_results of search requests.
	PageSize int

	// Checkpoints stores search cursors. Defaults to an in-memory store.
	Checkpoints checkpoint.Store

	// Extra receives every written entity in addition to the output file,
	// e.g. a NATS sink. The scraper flushes it but never closes it.
	Extra sink.Sink

	// Batch configures ID lookups.
	Batch pagination.Config

	Normalizer *normalize.Normalizer
	Clock      clock.Clock
}

// Stats summarizes one job.
type Stats struct {
	Output   string
	Pages    int
	Entities int

	// Resumed is the cursor the job started from, if any.
	Resumed string
}

// Scraper runs jobs against one API client.
type Scraper struct {
	api       API
	paginator *pagination.Paginator
	batch     *pagination.BatchFetcher
	config    Config
	runID     string
	logger    zerolog.Logger
}

// New creates a scraper.
func New(api API, cfg Config) (*Scraper, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if cfg.DestDir == "" {
		return nil, fmt.Errorf("destination directory is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.NewMemoryStore()
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Batch == (pagination.Config{}) {
		cfg.Batch = pagination.DefaultConfig()
	}

	runID := uuid.NewString()
	return &Scraper{
		api:       api,
		paginator: pagination.NewPaginator(api, cfg.Normalizer),
		batch:     pagination.NewBatchFetcher(api.FetchPage, cfg.Normalizer, cfg.Batch),
		config:    cfg,
		runID:     runID,
		logger:    log.With().Str("component", "scraper").Str("run_id", runID).Logger(),
	}, nil
}

// RunID identifies this scraper instance in logs and checkpoints.
func (s *Scraper) RunID() string {
	return s.runID
}

// job is one paginated run writing into one file.
type job struct {
	operation string
	params    url.Values
	output    string
	resume    string

	// keep filters the entities written. Nil keeps everything.
	keep func(page.Entity) bool
}

// paginate streams a job into its output file. The cursor of every written
// page is saved; the checkpoint is deleted once the last page is written.
// Without an explicit resume cursor, a saved checkpoint is resumed.
func (s *Scraper) paginate(ctx context.Context, j job) (Stats, error) {
	key := checkpoint.Key{Operation: j.operation, Endpoint: SearchEndpoint, Params: j.params}
	logger := s.logger.With().Str("operation", j.operation).Str("output", j.output).Logger()

	resume := j.resume
	if resume == "" {
		cp, err := s.config.Checkpoints.Load(ctx, key)
		switch {
		case err == nil && cp.Cursor != "":
			resume = cp.Cursor
			logger.Info().
				Str("cursor", cp.Cursor).
				Int("pages", cp.Pages).
				Str("previous_run", cp.RunID).
				Msg("Resuming from checkpoint")
		case err != nil && !errors.Is(err, checkpoint.ErrNotFound):
			logger.Warn().Err(err).Msg("Failed to load checkpoint, starting from the first page")
		}
	}

	stats := Stats{Output: j.output, Resumed: resume}
	out, err := s.open(j.output, resume != "")
	if err != nil {
		jobsTotal.WithLabelValues(j.operation, "error").Inc()
		return stats, err
	}

	err = s.stream(ctx, j, key, resume, out, &stats)
	if err != nil {
		if dErr := sink.Discard(out); dErr != nil {
			logger.Error().Err(dErr).Msg("Failed to discard partial page")
		}
	}
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		jobsTotal.WithLabelValues(j.operation, "error").Inc()
		return stats, err
	}

	jobsTotal.WithLabelValues(j.operation, "ok").Inc()
	logger.Info().
		Int("pages", stats.Pages).
		Int("entities", stats.Entities).
		Msg("Job complete")
	return stats, nil
}

func (s *Scraper) stream(ctx context.Context, j job, key checkpoint.Key, resume string, out sink.Sink, stats *Stats) error {
	for res, err := range s.paginator.Stream(ctx, SearchEndpoint, j.params, resume) {
		if err != nil {
			return err
		}

		pg := res.Page
		if j.keep != nil {
			pg = filterPage(pg, j.keep)
		}
		if err := sink.WritePage(ctx, out, pg); err != nil {
			return fmt.Errorf("write page %d: %w", res.Number, err)
		}
		stats.Pages++
		stats.Entities += len(pg.Data)

		if res.Next == "" {
			if err := s.config.Checkpoints.Delete(ctx, key); err != nil {
				s.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to delete checkpoint")
			}
			return nil
		}

		cp := &checkpoint.Checkpoint{
			Cursor:    res.Next,
			Pages:     stats.Pages,
			Entities:  stats.Entities,
			RunID:     s.runID,
			Output:    j.output,
			UpdatedAt: s.config.Clock.Now().UTC(),
		}
		if err := s.config.Checkpoints.Save(ctx, key, cp); err != nil {
			s.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to save checkpoint")
		}
	}
	return nil
}

// open returns the file sink for name, combined with the extra sink.
func (s *Scraper) open(name string, appendMode bool) (sink.Sink, error) {
	file, err := sink.OpenFile(filepath.Join(s.config.DestDir, name), appendMode)
	if err != nil {
		return nil, err
	}
	if s.config.Extra == nil {
		return file, nil
	}
	return sink.Multi{file, keepOpen{s.config.Extra}}, nil
}

// keepOpen flushes instead of closing a sink shared between jobs.
type keepOpen struct {
	sink.Sink
}

func (k keepOpen) Close() error {
	return k.Flush()
}

func filterPage(p *page.Page, keep func(page.Entity) bool) *page.Page {
	out := *p
	out.Data = make([]page.Entity, 0, len(p.Data))
	for _, e := range p.Data {
		if keep(e) {
			out.Data = append(out.Data, e)
		}
	}
	return &out
}

// searchParams builds the base parameters of a search request.
func (s *Scraper) searchParams(query string) url.Values {
	params := QueryFields()
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(s.config.PageSize))
	return params
}
