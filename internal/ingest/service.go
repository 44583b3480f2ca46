package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
	"github.com/Ham12-3/news-bot/internal/pipeline"
	feedschema "github.com/Ham12-3/news-bot/schema"
)

// ErrIngestDuplicate marks an item already present for its source. Duplicates
// are a normal outcome of overlapping fetch windows and are only counted.
var ErrIngestDuplicate = errors.New("item already ingested")

// Options tunes the ingest service.
type Options struct {
	MaxItemsPerSource int
}

func (o Options) withDefaults() Options {
	if o.MaxItemsPerSource <= 0 {
		o.MaxItemsPerSource = defaultFetchLimit
	}
	return o
}

// Service fetches upstream sources and lands validated items in raw_items.
type Service struct {
	pool     *db.Pool
	logger   zerolog.Logger
	opts     Options
	fetchers map[string]Fetcher
}

func NewService(pool *db.Pool, logger zerolog.Logger, opts Options, fetchers ...Fetcher) *Service {
	byType := make(map[string]Fetcher, len(fetchers))
	for _, f := range fetchers {
		byType[f.Type()] = f
	}
	return &Service{
		pool:     pool,
		logger:   logger.With().Str("component", "ingest").Logger(),
		opts:     opts.withDefaults(),
		fetchers: byType,
	}
}

// Result aggregates one ingest pass over one or more sources.
type Result struct {
	Sources    int
	Skipped    int
	Fetched    int
	Inserted   int
	Duplicates int
	Invalid    int
	Failed     int
}

func (r *Result) add(other Result) {
	r.Sources += other.Sources
	r.Skipped += other.Skipped
	r.Fetched += other.Fetched
	r.Inserted += other.Inserted
	r.Duplicates += other.Duplicates
	r.Invalid += other.Invalid
	r.Failed += other.Failed
}

// IngestAll runs one fetch pass over every enabled source. A source whose
// fetch interval has not elapsed is skipped unless force is set. One failing
// source does not stop the pass.
func (s *Service) IngestAll(ctx context.Context, force bool) (Result, error) {
	sources, err := s.loadEnabledSources(ctx)
	if err != nil {
		return Result{}, err
	}

	var total Result
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if _, ok := s.fetchers[source.Type]; !ok {
			total.Skipped++
			s.logger.Warn().
				Str("source", source.Name).
				Str("type", source.Type).
				Msg("no fetcher for source type, skipping")
			continue
		}
		res, err := s.ingestSource(ctx, source, force)
		total.add(res)
		if err != nil {
			total.Failed++
			s.logger.Error().Err(err).
				Str("source", source.Name).
				Msg("source ingest failed")
		}
	}
	return total, nil
}

// IngestSource runs one fetch pass over a single source identified by name.
func (s *Service) IngestSource(ctx context.Context, name string, force bool) (Result, error) {
	source, err := s.loadSourceByName(ctx, name)
	if err != nil {
		return Result{}, err
	}
	res, err := s.ingestSource(ctx, source, force)
	if err != nil {
		res.Failed++
	}
	return res, err
}

func (s *Service) ingestSource(ctx context.Context, source db.Source, force bool) (Result, error) {
	res := Result{Sources: 1}

	if !force && source.LastFetchedAt != nil {
		interval := time.Duration(source.FetchIntervalSec) * time.Second
		if globaltime.UTC().Sub(source.LastFetchedAt.UTC()) < interval {
			res.Sources = 0
			res.Skipped = 1
			return res, nil
		}
	}

	fetcher, ok := s.fetchers[source.Type]
	if !ok {
		return res, fmt.Errorf("no fetcher registered for source type %q", source.Type)
	}

	items, err := fetcher.Fetch(ctx, source, s.opts.MaxItemsPerSource)
	if err != nil {
		return res, fmt.Errorf("fetch source %q: %w", source.Name, err)
	}
	res.Fetched = len(items)

	for i := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := s.ingestItem(ctx, source, &items[i])
		switch {
		case err == nil:
			res.Inserted++
		case errors.Is(err, ErrIngestDuplicate):
			res.Duplicates++
		default:
			res.Invalid++
			s.logger.Warn().Err(err).
				Str("source", source.Name).
				Str("external_id", items[i].ExternalID).
				Msg("rejected feed item")
		}
	}

	if err := s.markFetched(ctx, source.SourceID); err != nil {
		return res, err
	}

	s.logger.Info().
		Str("source", source.Name).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Int("invalid", res.Invalid).
		Msg("ingested source")
	return res, nil
}

// ingestItem validates one payload and inserts it. The UNIQUE constraint on
// (source_id, external_id) makes re-ingestion idempotent.
func (s *Service) ingestItem(ctx context.Context, source db.Source, raw *feedschema.FeedItem) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	item, err := feedschema.ValidateFeedItemPayload(payload)
	if err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}

	var publishedAt *time.Time
	if item.PublishedAt != nil {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*item.PublishedAt))
		if err != nil {
			return fmt.Errorf("parse published_at: %w", err)
		}
		utc := parsed.UTC()
		publishedAt = &utc
	}

	kind := item.Kind
	if kind == "" {
		kind = "article"
	}
	body := ""
	if item.BodyText != nil {
		body = *item.BodyText
	}
	normalizedURL, _ := pipeline.NormalizeURL(item.URL)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO news.raw_items (
			source_id, external_id, url, normalized_url, title, author, kind,
			raw_text, content_hash, raw_payload, published_at, fetched_at,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, 'new', $12, $12)
		ON CONFLICT (source_id, external_id) DO NOTHING`,
		source.SourceID,
		item.ExternalID,
		item.URL,
		normalizedURL,
		strings.TrimSpace(item.Title),
		item.Author,
		kind,
		body,
		pipeline.ContentHashHex(item.Title, body),
		string(payload),
		publishedAt,
		globaltime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert raw item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIngestDuplicate
	}
	return nil
}

func (s *Service) loadEnabledSources(ctx context.Context) ([]db.Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, type, name, url, credibility_tier, enabled, fetch_interval_sec, last_fetched_at
		FROM news.sources
		WHERE enabled
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load enabled sources: %w", err)
	}
	defer rows.Close()

	var sources []db.Source
	for rows.Next() {
		var src db.Source
		if err := rows.Scan(
			&src.SourceID, &src.Type, &src.Name, &src.URL,
			&src.CredibilityTier, &src.Enabled, &src.FetchIntervalSec, &src.LastFetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

func (s *Service) loadSourceByName(ctx context.Context, name string) (db.Source, error) {
	var src db.Source
	err := s.pool.QueryRow(ctx, `
		SELECT source_id, type, name, url, credibility_tier, enabled, fetch_interval_sec, last_fetched_at
		FROM news.sources
		WHERE lower(name) = lower($1)`,
		strings.TrimSpace(name),
	).Scan(
		&src.SourceID, &src.Type, &src.Name, &src.URL,
		&src.CredibilityTier, &src.Enabled, &src.FetchIntervalSec, &src.LastFetchedAt,
	)
	if db.IsNoRows(err) {
		return db.Source{}, fmt.Errorf("source %q not found", name)
	}
	if err != nil {
		return db.Source{}, fmt.Errorf("load source %q: %w", name, err)
	}
	if !src.Enabled {
		return db.Source{}, fmt.Errorf("source %q is disabled", name)
	}
	return src, nil
}

func (s *Service) markFetched(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE news.sources
		SET last_fetched_at = $2, updated_at = $2
		WHERE source_id = $1`,
		sourceID, globaltime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark source fetched: %w", err)
	}
	return nil
}
