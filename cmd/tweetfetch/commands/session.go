package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/config"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/checkpoint"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/client"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/logging"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/metrics"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/pagination"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/ratelimit"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/scraper"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

var current *config.Config

// LoadConfig loads the configuration from the global viper instance, which
// carries the bound root flags, and configures the global logger.
func LoadConfig(file string) error {
	cfg, err := config.Load(viper.GetViper(), file)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging())
	current = cfg
	return nil
}

// Config returns the loaded configuration, or the defaults before LoadConfig.
func Config() *config.Config {
	if current == nil {
		cfg := config.DefaultConfig()
		return &cfg
	}
	return current
}

// session is everything a scrape command needs, built from the config and
// the credentials argument.
type session struct {
	scraper *scraper.Scraper
	closers []func() error
}

// openSession wires the API client, checkpoint store, optional NATS sink and
// metrics endpoint. Close releases them in reverse order.
func openSession(ctx context.Context, cfg *config.Config, creds Credentials, destDir string) (s *session, err error) {
	logger := logging.NewLogger("cli")
	s = &session{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Listen(cfg.Metrics.Addr)
		if err != nil {
			return s, err
		}
		s.closers = append(s.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}

	signer, err := creds.Signer(ctx, cfg.API)
	if err != nil {
		return s, err
	}

	cc := client.DefaultConfig(signer)
	cc.BaseURL = cfg.API.BaseURL
	cc.UserAgent = cfg.API.UserAgent
	cc.HTTPClient = &http.Client{Timeout: cfg.API.Timeout}
	cc.Retry.MaxRetries = cfg.API.MaxRetries
	cc.Retry.BaseDelay = cfg.API.BaseDelay
	cc.Limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	api, err := client.New(cc)
	if err != nil {
		return s, err
	}
	s.closers = append(s.closers, func() error {
		logQuota(logger, api.Limiter().Tracker())
		return nil
	})

	var store checkpoint.Store = checkpoint.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, rc.Close)
		if err := rc.Ping(ctx).Err(); err != nil {
			return s, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		store = checkpoint.NewRedisStore(rc, cfg.Redis.CheckpointTTL)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis checkpoints")
	}

	var extra sink.Sink
	if cfg.NATS.URL != "" {
		ns, err := sink.DialNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return s, err
		}
		s.closers = append(s.closers, ns.Close)
		extra = ns
		logger.Info().Str("url", cfg.NATS.URL).Str("subject", cfg.NATS.Subject).Msg("Publishing entities to NATS")
	}

	batch := pagination.DefaultConfig()
	batch.MaxConcurrency = cfg.Scraper.BatchConcurrency

	s.scraper, err = scraper.New(api, scraper.Config{
		DestDir:     destDir,
		PageSize:    cfg.Scraper.PageSize,
		Checkpoints: store,
		Extra:       extra,
		Batch:       batch,
	})
	if err != nil {
		return s, err
	}

	logger.Debug().Str("run_id", s.scraper.RunID()).Str("credentials", string(creds.Kind)).Msg("Session ready")
	return s, nil
}

// logQuota reports the last known window of every endpoint used in the run.
func logQuota(logger zerolog.Logger, tracker *ratelimit.Tracker) {
	for _, endpoint := range tracker.Endpoints() {
		w, ok := tracker.Get(endpoint)
		if !ok {
			continue
		}
		logger.Info().
			Str("endpoint", endpoint).
			Int("limit", w.Limit).
			Int("remaining", w.Remaining).
			Time("reset_at", time.Unix(w.ResetAt, 0)).
			Str("origin", string(w.Origin)).
			Msg("Quota at end of run")
	}
}

// Close releases every resource of the session.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
