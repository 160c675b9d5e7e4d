// Package config loads the tweetfetch configuration from defaults, an
// optional YAML file, TWEETFETCH_ environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TWEETFETCH_REDIS_ADDR.
const EnvPrefix = "TWEETFETCH"

// Config is the root configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	API     APIConfig     `mapstructure:"api"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Redis   RedisConfig   `mapstructure:"redis"`
	NATS    NATSConfig    `mapstructure:"nats"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `mapstructure:"level"`

	// Development switches to debug level with console output.
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// APIConfig controls the API client.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	TokenURL   string        `mapstructure:"token_url"`
	UserAgent  string        `mapstructure:"user_agent"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// ScraperConfig controls paging and ID lookups.
type ScraperConfig struct {
	PageSize         int `mapstructure:"page_size"`
	BatchConcurrency int `mapstructure:"batch_concurrency"`
}

// RedisConfig controls the checkpoint store. An empty address keeps
// checkpoints in memory.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	CheckpointTTL time.Duration `mapstructure:"checkpoint_ttl"`
}

// NATSConfig controls the optional NATS sink. An empty URL disables it.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: string(logging.LevelInfo)},
		API: APIConfig{
			BaseURL:    "https://api.twitter.com/2/",
			TokenURL:   "https://api.twitter.com/oauth2/token",
			UserAgent:  "tweetfetch/1.0",
			Timeout:    5 * time.Minute,
			MaxRetries: 2,
			BaseDelay:  5 * time.Second,
		},
		Scraper: ScraperConfig{
			PageSize:         500,
			BatchConcurrency: 4,
		},
		Redis: RedisConfig{
			CheckpointTTL: 7 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			Subject: "tweetfetch.entities",
		},
	}
}

// SetDefaults registers DefaultConfig on v so that every key is known to
// AutomaticEnv and Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.token_url", d.API.TokenURL)
	v.SetDefault("api.user_agent", d.API.UserAgent)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("api.base_delay", d.API.BaseDelay)
	v.SetDefault("scraper.page_size", d.Scraper.PageSize)
	v.SetDefault("scraper.batch_concurrency", d.Scraper.BatchConcurrency)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.checkpoint_ttl", d.Redis.CheckpointTTL)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject", d.NATS.Subject)
}

// Prepare sets the defaults, the environment mapping and the config file
// search path of v. An explicit file must exist; otherwise config.yaml is
// looked up in the working directory and in $HOME/.tweetfetch.
func Prepare(v *viper.Viper, file string) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".tweetfetch"))
	}
}

// Load prepares v, reads the config file if any and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	Prepare(v, file)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0 (got %d)", c.API.MaxRetries)
	}
	if c.API.BaseDelay <= 0 {
		return fmt.Errorf("api.base_delay must be positive (got %s)", c.API.BaseDelay)
	}
	if c.Scraper.PageSize < 10 || c.Scraper.PageSize > 500 {
		return fmt.Errorf("scraper.page_size must be within [10, 500] (got %d)", c.Scraper.PageSize)
	}
	if c.Scraper.BatchConcurrency < 1 {
		return fmt.Errorf("scraper.batch_concurrency must be >= 1 (got %d)", c.Scraper.BatchConcurrency)
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.url is set")
	}
	return nil
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	if c.Log.Development {
		return logging.DevelopmentConfig()
	}
	lc := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		lc.Level = level
	}
	return lc
}
