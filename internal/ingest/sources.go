package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Ham12-3/news-bot/internal/globaltime"
)

// SourceTypeRSS and friends are the source types the registry accepts. A
// source only ingests once a Fetcher for its type is registered on the
// Service; scrape sources currently have none and sit idle.
const (
	SourceTypeRSS        = "rss"
	SourceTypeHackerNews = "api_hn"
	SourceTypeReddit     = "api_reddit"
	SourceTypeScrape     = "scrape"
)

type sourcesFile struct {
	Sources []SourceDef `yaml:"sources"`
}

// SourceDef is one entry in the sources YAML registry.
type SourceDef struct {
	Name             string `yaml:"name"`
	Type             string `yaml:"type"`
	URL              string `yaml:"url"`
	CredibilityTier  int16  `yaml:"credibility_tier"`
	FetchIntervalSec int    `yaml:"fetch_interval_sec"`
	Enabled          *bool  `yaml:"enabled"`
}

func (d SourceDef) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("source name must not be empty")
	}
	switch d.Type {
	case SourceTypeRSS, SourceTypeHackerNews, SourceTypeReddit, SourceTypeScrape:
	default:
		return fmt.Errorf("source %q: unknown type %q", d.Name, d.Type)
	}
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("source %q: url must not be empty", d.Name)
	}
	if d.CredibilityTier < 1 || d.CredibilityTier > 5 {
		return fmt.Errorf("source %q: credibility_tier must be between 1 and 5", d.Name)
	}
	return nil
}

// LoadSourceDefs reads and validates the sources registry file.
func LoadSourceDefs(path string) ([]SourceDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s defines no sources", path)
	}

	seen := make(map[string]bool, len(file.Sources))
	for i := range file.Sources {
		def := &file.Sources[i]
		if err := def.validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(strings.TrimSpace(def.Name))
		if seen[key] {
			return nil, fmt.Errorf("duplicate source name %q", def.Name)
		}
		seen[key] = true
		if def.FetchIntervalSec <= 0 {
			def.FetchIntervalSec = 900
		}
	}
	return file.Sources, nil
}

// SyncResult counts registry changes applied by SyncSources.
type SyncResult struct {
	Created  int
	Updated  int
	Disabled int
}

// SyncSources upserts the YAML registry into news.sources, keyed by name.
// Sources present in the database but absent from the file are disabled, not
// deleted, so their items keep their provenance.
func (s *Service) SyncSources(ctx context.Context, path string) (SyncResult, error) {
	defs, err := LoadSourceDefs(path)
	if err != nil {
		return SyncResult{}, err
	}

	now := globaltime.UTC()
	var res SyncResult
	for _, def := range defs {
		enabled := def.Enabled == nil || *def.Enabled

		var created bool
		err := s.pool.QueryRow(ctx, `
			INSERT INTO news.sources (type, name, url, credibility_tier, enabled, fetch_interval_sec, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (name) DO UPDATE
			SET type = EXCLUDED.type,
			    url = EXCLUDED.url,
			    credibility_tier = EXCLUDED.credibility_tier,
			    enabled = EXCLUDED.enabled,
			    fetch_interval_sec = EXCLUDED.fetch_interval_sec,
			    updated_at = EXCLUDED.updated_at
			RETURNING (xmax = 0)`,
			def.Type, def.Name, def.URL, def.CredibilityTier, enabled, def.FetchIntervalSec, now,
		).Scan(&created)
		if err != nil {
			return SyncResult{}, fmt.Errorf("upsert source %q: %w", def.Name, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	// Every row touched above carries updated_at = now, so anything older
	// was absent from the file.
	tag, err := s.pool.Exec(ctx, `
		UPDATE news.sources
		SET enabled = FALSE, updated_at = $1
		WHERE enabled AND updated_at < $1`,
		now,
	)
	if err != nil {
		return SyncResult{}, fmt.Errorf("disable removed sources: %w", err)
	}
	res.Disabled = int(tag.RowsAffected())

	s.logger.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("disabled", res.Disabled).
		Msg("synced source registry")
	return res, nil
}
