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
	DBLogLevel  string `envconfig:"DB_LOG_LEVEL" default:"warn"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int    `envconfig:"NB_DB_MAX_CONNS" default:"8"`

	HTTPAddr           string `envconfig:"HTTP_ADDR" default:":8080"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`

	EmbeddingServiceURL string        `envconfig:"EMBEDDING_SERVICE_URL" default:""`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-ada-002"`
	EmbeddingDim        int           `envconfig:"EMBEDDING_DIM" default:"1536"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"20s"`
	EmbeddingMaxRetries int           `envconfig:"EMBEDDING_MAX_RETRIES" default:"3"`

	SimilarityThreshold   float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.86"`
	SimilarityWindowHours int     `envconfig:"SIMILARITY_WINDOW_HOURS" default:"72"`
	ExactLookbackDays     int     `envconfig:"EXACT_LOOKBACK_DAYS" default:"14"`
	NoveltyLookbackDays   int     `envconfig:"NOVELTY_LOOKBACK_DAYS" default:"30"`
	CrossSourceSaturation int     `envconfig:"CROSS_SOURCE_SATURATION" default:"3"`
	VelocityWindowHours   int     `envconfig:"VELOCITY_WINDOW_HOURS" default:"24"`

	BriefingMaxItems     int `envconfig:"BRIEFING_MAX_ITEMS" default:"10"`
	BriefingPerSourceCap int `envconfig:"BRIEFING_PER_SOURCE_CAP" default:"3"`

	SourcesFile         string `envconfig:"SOURCES_FILE" default:"sources.yaml"`
	InterestProfileFile string `envconfig:"INTEREST_PROFILE_FILE" default:""`

	IngestMaxItemsPerSource int    `envconfig:"INGEST_MAX_ITEMS_PER_SOURCE" default:"100"`
	RedditClientID          string `envconfig:"REDDIT_CLIENT_ID" default:""`
	RedditClientSecret      string `envconfig:"REDDIT_CLIENT_SECRET" default:""`
	RedditUserAgent         string `envconfig:"REDDIT_USER_AGENT" default:"newsbot/0.1"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NB_DB_MAX_CONNS must be >= 1")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0,1]")
	}
	if c.SimilarityWindowHours < 1 {
		return fmt.Errorf("SIMILARITY_WINDOW_HOURS must be >= 1")
	}
	if c.ExactLookbackDays < 1 {
		return fmt.Errorf("EXACT_LOOKBACK_DAYS must be >= 1")
	}
	if c.NoveltyLookbackDays < 1 {
		return fmt.Errorf("NOVELTY_LOOKBACK_DAYS must be >= 1")
	}
	if c.CrossSourceSaturation < 1 {
		return fmt.Errorf("CROSS_SOURCE_SATURATION must be >= 1")
	}
	if c.VelocityWindowHours < 1 {
		return fmt.Errorf("VELOCITY_WINDOW_HOURS must be >= 1")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be >= 1")
	}
	if c.EmbeddingMaxRetries < 0 {
		return fmt.Errorf("EMBEDDING_MAX_RETRIES must be >= 0")
	}
	if c.BriefingMaxItems < 1 {
		return fmt.Errorf("BRIEFING_MAX_ITEMS must be >= 1")
	}
	if c.BriefingPerSourceCap < 1 {
		return fmt.Errorf("BRIEFING_PER_SOURCE_CAP must be >= 1")
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
