package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMinConns  int32  `envconfig:"MP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"MP_DB_MAX_CONNS" default:"8"`

	CatalogPath          string `envconfig:"CATALOG_PATH" default:""`
	SentimentLexiconPath string `envconfig:"SENTIMENT_LEXICON_PATH" default:""`

	FinnhubAPIKey            string        `envconfig:"FINNHUB_API_KEY" default:""`
	FinnhubBaseURL           string        `envconfig:"FINNHUB_BASE_URL" default:"https://finnhub.io/api/v1"`
	FinnhubRequestsPerSecond float64       `envconfig:"FINNHUB_REQUESTS_PER_SECOND" default:"1"`
	QuoteStaleAfter          time.Duration `envconfig:"QUOTE_STALE_AFTER" default:"4h"`

	IngestQueueSize    int    `envconfig:"INGEST_QUEUE_SIZE" default:"2"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

// Load reads the environment and requires a database connection string.
func Load() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadOffline reads the environment for commands that never open the database.
func LoadOffline() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateCommon(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func process() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("MP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("MP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("MP_DB_MIN_CONNS (%d) cannot exceed MP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	if c.FinnhubRequestsPerSecond <= 0 {
		return fmt.Errorf("FINNHUB_REQUESTS_PER_SECOND must be > 0")
	}
	if c.QuoteStaleAfter < 0 {
		return fmt.Errorf("QUOTE_STALE_AFTER must be >= 0")
	}
	if c.IngestQueueSize < 1 {
		return fmt.Errorf("INGEST_QUEUE_SIZE must be >= 1")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
