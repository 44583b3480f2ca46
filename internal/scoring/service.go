package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
)

// ErrScoreComputation marks a per-item scoring failure. The pass logs and
// skips the item instead of aborting.
var ErrScoreComputation = errors.New("score computation failed")

type Options struct {
	Weights               Weights
	CrossSourceSaturation int
	VelocityWindow        time.Duration
	NoveltyLookback       time.Duration
	Profile               *Profile
}

func (o Options) withDefaults() Options {
	zero := Weights{}
	if o.Weights == zero {
		o.Weights = DefaultWeights
	}
	if o.CrossSourceSaturation < 1 {
		o.CrossSourceSaturation = DefaultCrossSourceSaturation
	}
	if o.VelocityWindow <= 0 {
		o.VelocityWindow = DefaultVelocityWindow
	}
	if o.NoveltyLookback <= 0 {
		o.NoveltyLookback = DefaultNoveltyLookback
	}
	return o
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
}

func NewService(pool *db.Pool, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		pool:   pool,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

type ScoreResult struct {
	Processed int
	Scored    int
	Failed    int
}

type scoredItem struct {
	RawItemID       string
	SourceID        string
	SourceType      string
	CredibilityTier int16
	Title           string
	CleanText       string
	RawPayload      json.RawMessage
	PublishedAt     *time.Time
	FetchedAt       time.Time
	Status          string
	ClusterID       string
}

// ScorePending appends a first score snapshot for items that have none.
// Each item is scored in its own transaction; failures are logged and
// skipped so one bad item cannot stall the pass.
func (s *Service) ScorePending(ctx context.Context, limit int) (ScoreResult, error) {
	if s == nil || s.pool == nil {
		return ScoreResult{}, fmt.Errorf("scoring service is not initialized")
	}
	if limit <= 0 {
		return ScoreResult{}, nil
	}

	const q = `
SELECT r.raw_item_id
FROM news.raw_items r
WHERE r.status IN ('extracted', 'clustered')
  AND NOT EXISTS (
	SELECT 1
	FROM news.item_scores sc
	WHERE sc.raw_item_id = r.raw_item_id
)
ORDER BY r.fetched_at, r.raw_item_id
LIMIT $1
`
	ids, err := s.collectItemIDs(ctx, q, limit)
	if err != nil {
		return ScoreResult{}, err
	}

	return s.scoreItems(ctx, ids)
}

// RescoreStale re-scores every member of clusters whose membership changed
// after their canonical item's latest snapshot.
func (s *Service) RescoreStale(ctx context.Context, maxClusters int) (ScoreResult, error) {
	if s == nil || s.pool == nil {
		return ScoreResult{}, fmt.Errorf("scoring service is not initialized")
	}
	if maxClusters <= 0 {
		return ScoreResult{}, nil
	}

	const q = `
SELECT c.cluster_id
FROM news.clusters c
WHERE c.status = 'open'
  AND c.last_member_added_at IS NOT NULL
  AND c.canonical_item_id IS NOT NULL
  AND NOT EXISTS (
	SELECT 1
	FROM news.item_scores sc
	WHERE sc.raw_item_id = c.canonical_item_id
	  AND sc.computed_at >= c.last_member_added_at
)
ORDER BY c.last_member_added_at
LIMIT $1
`
	clusterIDs, err := s.collectItemIDs(ctx, q, maxClusters)
	if err != nil {
		return ScoreResult{}, err
	}

	var result ScoreResult
	for _, clusterID := range clusterIDs {
		memberIDs, err := s.collectItemIDs(ctx, `
SELECT raw_item_id
FROM news.cluster_members
WHERE cluster_id = $1
ORDER BY added_at, raw_item_id
`, clusterID)
		if err != nil {
			return result, err
		}

		partial, err := s.scoreItems(ctx, memberIDs)
		result.Processed += partial.Processed
		result.Scored += partial.Scored
		result.Failed += partial.Failed
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *Service) collectItemIDs(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("select ids for scoring: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scoring id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scoring ids: %w", err)
	}
	return ids, nil
}

func (s *Service) scoreItems(ctx context.Context, ids []string) (ScoreResult, error) {
	var result ScoreResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Processed++
		if err := s.scoreOne(ctx, id); err != nil {
			if errors.Is(err, ErrScoreComputation) {
				s.logger.Warn().Err(err).Str("raw_item_id", id).Msg("skipping item after score failure")
				result.Failed++
				continue
			}
			return result, err
		}
		result.Scored++
	}
	return result, nil
}

func (s *Service) scoreOne(ctx context.Context, rawItemID string) error {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin score tx: %w", err)
	}

	if err := s.scoreItemTx(ctx, tx, rawItemID, globaltime.UTC()); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit score tx: %w", err)
	}
	return nil
}

func (s *Service) scoreItemTx(ctx context.Context, tx db.Tx, rawItemID string, now time.Time) error {
	item, err := loadScoredItemTx(ctx, tx, rawItemID)
	if err != nil {
		return err
	}

	relevance, relevanceBasis := s.relevance(item)
	velocity, arrivals, engagement, err := s.velocityTx(ctx, tx, item, now)
	if err != nil {
		return fmt.Errorf("%w: velocity for raw_item_id=%s: %v", ErrScoreComputation, rawItemID, err)
	}
	crossSource, distinctSources, err := s.crossSourceTx(ctx, tx, item)
	if err != nil {
		return fmt.Errorf("%w: cross-source for raw_item_id=%s: %v", ErrScoreComputation, rawItemID, err)
	}
	novelty, noveltyBasis, bestPriorCosine, err := s.noveltyTx(ctx, tx, item, now)
	if err != nil {
		return fmt.Errorf("%w: novelty for raw_item_id=%s: %v", ErrScoreComputation, rawItemID, err)
	}

	combined := s.opts.Weights.Combine(relevance, velocity, crossSource, novelty)

	meta, err := json.Marshal(map[string]any{
		"relevance_basis":   relevanceBasis,
		"novelty_basis":     noveltyBasis,
		"arrivals_window":   arrivals,
		"distinct_sources":  distinctSources,
		"engagement":        engagement,
		"best_prior_cosine": bestPriorCosine,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal score meta raw_item_id=%s: %v", ErrScoreComputation, rawItemID, err)
	}

	const insert = `
INSERT INTO news.item_scores (
	raw_item_id,
	computed_at,
	relevance,
	velocity,
	cross_source,
	novelty,
	combined,
	score_meta
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
ON CONFLICT (raw_item_id, computed_at) DO NOTHING
`
	if _, err := tx.Exec(ctx, insert, rawItemID, now, clamp01(relevance), clamp01(velocity), clamp01(crossSource), clamp01(novelty), combined, string(meta)); err != nil {
		return fmt.Errorf("insert score snapshot raw_item_id=%s: %w", rawItemID, err)
	}

	if item.Status == "extracted" {
		if _, err := tx.Exec(ctx, `
UPDATE news.raw_items
SET status = 'scored', updated_at = $2
WHERE raw_item_id = $1 AND status = 'extracted'
`, rawItemID, now); err != nil {
			return fmt.Errorf("mark item scored raw_item_id=%s: %w", rawItemID, err)
		}
	}

	return nil
}

func loadScoredItemTx(ctx context.Context, tx db.Tx, rawItemID string) (scoredItem, error) {
	const q = `
SELECT
	r.raw_item_id,
	r.source_id,
	s.type,
	s.credibility_tier,
	r.title,
	r.clean_text,
	r.raw_payload,
	r.published_at,
	r.fetched_at,
	r.status,
	COALESCE(cm.cluster_id::text, '')
FROM news.raw_items r
JOIN news.sources s ON s.source_id = r.source_id
LEFT JOIN news.cluster_members cm ON cm.raw_item_id = r.raw_item_id
WHERE r.raw_item_id = $1
FOR UPDATE OF r
`
	var item scoredItem
	err := tx.QueryRow(ctx, q, rawItemID).Scan(
		&item.RawItemID,
		&item.SourceID,
		&item.SourceType,
		&item.CredibilityTier,
		&item.Title,
		&item.CleanText,
		&item.RawPayload,
		&item.PublishedAt,
		&item.FetchedAt,
		&item.Status,
		&item.ClusterID,
	)
	if err != nil {
		if err == db.ErrNoRows {
			return scoredItem{}, fmt.Errorf("%w: raw_item_id=%s not found", ErrScoreComputation, rawItemID)
		}
		return scoredItem{}, fmt.Errorf("load item for scoring raw_item_id=%s: %w", rawItemID, err)
	}
	return item, nil
}

func (s *Service) relevance(item scoredItem) (float64, string) {
	if s.opts.Profile == nil {
		return 0.5, "neutral"
	}
	return s.opts.Profile.Match(item.Title + " " + item.CleanText), "profile"
}

func (s *Service) velocityTx(ctx context.Context, tx db.Tx, item scoredItem, now time.Time) (float64, int, float64, error) {
	engagement := engagementScore(item.SourceType, item.RawPayload)

	arrivals := 1
	if item.ClusterID != "" {
		cutoff := now.Add(-s.opts.VelocityWindow)
		err := tx.QueryRow(ctx, `
SELECT COUNT(*)::INT
FROM news.cluster_members
WHERE cluster_id = $1 AND added_at >= $2
`, item.ClusterID, cutoff).Scan(&arrivals)
		if err != nil {
			return 0, 0, 0, err
		}
		if arrivals < 1 {
			arrivals = 1
		}
	}

	return velocityScore(arrivals, s.opts.VelocityWindow, defaultVelocitySaturationPerHour, engagement), arrivals, engagement, nil
}

func (s *Service) crossSourceTx(ctx context.Context, tx db.Tx, item scoredItem) (float64, int, error) {
	tiers := []int16{item.CredibilityTier}
	if item.ClusterID != "" {
		rows, err := tx.Query(ctx, `
SELECT DISTINCT r.source_id, src.credibility_tier
FROM news.cluster_members cm
JOIN news.raw_items r ON r.raw_item_id = cm.raw_item_id
JOIN news.sources src ON src.source_id = r.source_id
WHERE cm.cluster_id = $1 AND src.enabled
`, item.ClusterID)
		if err != nil {
			return 0, 0, err
		}
		defer rows.Close()

		tiers = tiers[:0]
		for rows.Next() {
			var sourceID string
			var tier int16
			if err := rows.Scan(&sourceID, &tier); err != nil {
				return 0, 0, err
			}
			tiers = append(tiers, tier)
		}
		if err := rows.Err(); err != nil {
			return 0, 0, err
		}
		if len(tiers) == 0 {
			tiers = []int16{item.CredibilityTier}
		}
	}

	return crossSourceScore(tiers, s.opts.CrossSourceSaturation), len(tiers), nil
}

func (s *Service) noveltyTx(ctx context.Context, tx db.Tx, item scoredItem, now time.Time) (float64, string, float64, error) {
	itemSeen := item.FetchedAt.UTC()
	if item.PublishedAt != nil && !item.PublishedAt.IsZero() {
		itemSeen = item.PublishedAt.UTC()
	}

	ownCluster := item.ClusterID
	if ownCluster == "" {
		ownCluster = "00000000-0000-0000-0000-000000000000"
	}

	cutoff := now.Add(-s.opts.NoveltyLookback)
	var bestCosine *float64
	err := tx.QueryRow(ctx, `
SELECT MAX((1 - (ce.embedding <=> e.embedding))::DOUBLE PRECISION)
FROM news.item_embeddings e,
	news.clusters c
JOIN news.item_embeddings ce ON ce.raw_item_id = c.canonical_item_id
WHERE e.raw_item_id = $1
  AND c.cluster_id <> $2::uuid
  AND c.first_seen_at >= $3
  AND c.first_seen_at < $4
`, item.RawItemID, ownCluster, cutoff, itemSeen).Scan(&bestCosine)
	if err != nil && err != db.ErrNoRows {
		return 0, "", 0, err
	}

	if bestCosine != nil {
		return noveltyFromCosine(*bestCosine), "embedding", *bestCosine, nil
	}

	hasEmbedding := false
	if err := tx.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM news.item_embeddings WHERE raw_item_id = $1
)
`, item.RawItemID).Scan(&hasEmbedding); err != nil {
		return 0, "", 0, err
	}
	if hasEmbedding {
		// Embedding exists but no comparable prior cluster: fully novel.
		return 1.0, "embedding", 0, nil
	}

	return noveltyFromAge(now.Sub(itemSeen)), "age", 0, nil
}
