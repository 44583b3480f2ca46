package briefing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
)

const (
	// DefaultMaxItems caps the number of entries in one briefing.
	DefaultMaxItems = 10
	// DefaultPerSourceCap limits how many entries a single source can
	// contribute to one briefing.
	DefaultPerSourceCap = 3

	defaultSummaryMaxRunes = 480
)

// Options tunes briefing generation.
type Options struct {
	MaxItems     int
	PerSourceCap int
}

func (o Options) withDefaults() Options {
	if o.MaxItems <= 0 {
		o.MaxItems = DefaultMaxItems
	}
	if o.PerSourceCap <= 0 {
		o.PerSourceCap = DefaultPerSourceCap
	}
	return o
}

// txBeginner is the slice of *db.Pool that Generate needs; tests drive the
// service with a stub transaction.
type txBeginner interface {
	BeginTx(ctx context.Context, opts db.TxOptions) (db.Tx, error)
}

// Service assembles daily briefings from scored clusters.
type Service struct {
	pool   txBeginner
	logger zerolog.Logger
	opts   Options
}

func NewService(pool *db.Pool, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		pool:   pool,
		logger: logger.With().Str("component", "briefing").Logger(),
		opts:   opts.withDefaults(),
	}
}

// Result reports the outcome of one Generate call. Generated is false when an
// existing briefing for the same scope and day was returned untouched.
type Result struct {
	BriefingID  string
	Scope       string
	PeriodStart time.Time
	PeriodEnd   time.Time
	ItemCount   int
	Generated   bool
}

// Generate builds the briefing for the UTC day containing date. When a
// briefing for the same scope and day already exists it is returned as-is
// unless force is set, in which case a fresh one is generated alongside it.
func (s *Service) Generate(ctx context.Context, scope string, date time.Time, force bool) (Result, error) {
	scope, err := ParseScope(scope)
	if err != nil {
		return Result{}, err
	}

	day := date.UTC().Truncate(24 * time.Hour)
	periodStart := day
	periodEnd := day.Add(24 * time.Hour)

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("begin briefing tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !force {
		existing, err := findExistingBriefingTx(ctx, tx, scope, periodStart)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			return *existing, nil
		}
	}

	candidates, err := loadCandidatesTx(ctx, tx, periodStart, periodEnd)
	if err != nil {
		return Result{}, err
	}
	selected := selectTop(candidates, s.opts.MaxItems, s.opts.PerSourceCap)

	result, err := insertBriefingTx(ctx, tx, scope, periodStart, periodEnd, force, selected)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit briefing tx: %w", err)
	}

	s.logger.Info().
		Str("briefing_id", result.BriefingID).
		Str("scope", scope).
		Time("period_start", periodStart).
		Int("items", result.ItemCount).
		Int("candidates", len(candidates)).
		Msg("generated briefing")
	return result, nil
}

func findExistingBriefingTx(ctx context.Context, tx db.Tx, scope string, periodStart time.Time) (*Result, error) {
	const query = `
		SELECT briefing_id, scope, period_start, period_end, item_count
		FROM news.briefings
		WHERE scope = $1 AND period_start = $2
		ORDER BY generated_at DESC
		LIMIT 1`

	var res Result
	err := tx.QueryRow(ctx, query, scope, periodStart).Scan(
		&res.BriefingID, &res.Scope, &res.PeriodStart, &res.PeriodEnd, &res.ItemCount,
	)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find existing briefing: %w", err)
	}
	res.Generated = false
	return &res, nil
}

// loadCandidatesTx returns one candidate per open cluster active during the
// period, carrying the canonical item and its most recent score snapshot.
// Clusters whose canonical item has no score yet are skipped.
func loadCandidatesTx(ctx context.Context, tx db.Tx, periodStart, periodEnd time.Time) ([]Candidate, error) {
	const query = `
		SELECT
			c.cluster_id,
			r.raw_item_id,
			r.source_id,
			r.title,
			COALESCE(NULLIF(r.clean_text, ''), r.raw_text),
			s.combined,
			s.cross_source,
			r.published_at,
			r.fetched_at,
			COALESCE(
				(SELECT jsonb_agg(DISTINCT src.name)
				 FROM news.cluster_members m
				 JOIN news.raw_items mr ON mr.raw_item_id = m.raw_item_id
				 JOIN news.sources src ON src.source_id = mr.source_id
				 WHERE m.cluster_id = c.cluster_id),
				'[]'::jsonb
			)
		FROM news.clusters c
		JOIN news.raw_items r ON r.raw_item_id = c.canonical_item_id
		JOIN LATERAL (
			SELECT combined, cross_source
			FROM news.item_scores
			WHERE raw_item_id = r.raw_item_id
			ORDER BY computed_at DESC
			LIMIT 1
		) s ON TRUE
		WHERE c.status = 'open'
		  AND COALESCE(c.last_member_added_at, c.first_seen_at) >= $1
		  AND c.first_seen_at < $2
		ORDER BY c.cluster_id`

	rows, err := tx.Query(ctx, query, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("load briefing candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var (
			cand     Candidate
			bodyText string
			names    []byte
		)
		if err := rows.Scan(
			&cand.ClusterID, &cand.RawItemID, &cand.SourceID, &cand.Title, &bodyText,
			&cand.CombinedScore, &cand.CrossSourceScore, &cand.PublishedAt, &cand.FetchedAt, &names,
		); err != nil {
			return nil, fmt.Errorf("scan briefing candidate: %w", err)
		}
		cand.Summary = summarize(bodyText)
		if err := json.Unmarshal(names, &cand.SourceNames); err != nil {
			return nil, fmt.Errorf("decode candidate source names: %w", err)
		}
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate briefing candidates: %w", err)
	}
	return candidates, nil
}

func insertBriefingTx(ctx context.Context, tx db.Tx, scope string, periodStart, periodEnd time.Time, forced bool, selected []Candidate) (Result, error) {
	now := globaltime.UTC()

	var briefingID string
	err := tx.QueryRow(ctx, `
		INSERT INTO news.briefings (scope, period_start, period_end, generated_at, item_count, forced)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING briefing_id`,
		scope, periodStart, periodEnd, now, len(selected), forced,
	).Scan(&briefingID)
	if err != nil {
		return Result{}, fmt.Errorf("insert briefing: %w", err)
	}

	for rank, cand := range selected {
		names, err := json.Marshal(cand.SourceNames)
		if err != nil {
			return Result{}, fmt.Errorf("encode source names: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO news.briefing_items
				(briefing_id, rank, cluster_id, raw_item_id, title, summary, combined_score, cross_source_score, source_names)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			briefingID, rank+1, cand.ClusterID, cand.RawItemID, cand.Title, cand.Summary,
			cand.CombinedScore, cand.CrossSourceScore, names,
		)
		if err != nil {
			return Result{}, fmt.Errorf("insert briefing item: %w", err)
		}
	}

	return Result{
		BriefingID:  briefingID,
		Scope:       scope,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		ItemCount:   len(selected),
		Generated:   true,
	}, nil
}

// summarize produces the briefing blurb from extracted article text. The cut
// happens at a word boundary when one is close enough to the limit.
func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= defaultSummaryMaxRunes {
		return text
	}
	cut := defaultSummaryMaxRunes
	if idx := strings.LastIndex(string(runes[:cut]), " "); idx > defaultSummaryMaxRunes/2 {
		cut = idx
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
