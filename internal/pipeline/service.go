package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
)

const (
	DefaultSimilarityThreshold = 0.86
	DefaultSimilarityWindow    = 72 * time.Hour
	DefaultExactLookback       = 14 * 24 * time.Hour

	defaultSimilarityCandidateLimit = 20
	defaultSimilaritySearchEF       = 64
	mergedChainLimit                = 16
)

type Options struct {
	SimilarityThreshold float64
	SimilarityWindow    time.Duration
	ExactLookback       time.Duration
	CandidateLimit      int
}

func (o Options) withDefaults() Options {
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 1 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.SimilarityWindow <= 0 {
		o.SimilarityWindow = DefaultSimilarityWindow
	}
	if o.ExactLookback <= 0 {
		o.ExactLookback = DefaultExactLookback
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = defaultSimilarityCandidateLimit
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

type ClusterResult struct {
	Processed       int
	ExactJoins      int
	SimilarityJoins int
	NewClusters     int
	EmbedPending    int
}

type SweepResult struct {
	Merges int
}

type pendingItem struct {
	RawItemID       string
	SourceID        string
	Title           string
	ContentHash     string
	PublishedAt     *time.Time
	FetchedAt       time.Time
	EmbeddingVector *string
}

// memberKey orders cluster members for canonical selection. The earliest
// published member wins; items without a publish time fall back to fetch
// time, and the item id breaks exact ties so the choice is stable.
type memberKey struct {
	ItemID      string
	PublishedAt *time.Time
	FetchedAt   time.Time
}

func (k memberKey) effectiveTime() time.Time {
	if k.PublishedAt != nil && !k.PublishedAt.IsZero() {
		return k.PublishedAt.UTC()
	}
	return k.FetchedAt.UTC()
}

func keyBefore(a, b memberKey) bool {
	at, bt := a.effectiveTime(), b.effectiveTime()
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	if !a.FetchedAt.UTC().Equal(b.FetchedAt.UTC()) {
		return a.FetchedAt.UTC().Before(b.FetchedAt.UTC())
	}
	return a.ItemID < b.ItemID
}

func pickCanonical(members []memberKey) (memberKey, bool) {
	if len(members) == 0 {
		return memberKey{}, false
	}
	best := members[0]
	for _, m := range members[1:] {
		if keyBefore(m, best) {
			best = m
		}
	}
	return best, true
}

// ClusterPending assigns unclustered items to clusters one at a time, each in
// its own transaction. The cascade is exact hash, then cosine similarity,
// then a fresh cluster.
func (s *Service) ClusterPending(ctx context.Context, limit int) (ClusterResult, error) {
	if s == nil || s.pool == nil {
		return ClusterResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if limit <= 0 {
		return ClusterResult{}, nil
	}

	var result ClusterResult
	for result.Processed < limit {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
		if err != nil {
			return result, fmt.Errorf("begin cluster tx: %w", err)
		}

		item, found, err := claimOneUnclusteredItemTx(ctx, tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}
		if !found {
			if err := tx.Commit(ctx); err != nil {
				_ = tx.Rollback(ctx)
				return result, fmt.Errorf("commit empty cluster tx: %w", err)
			}
			break
		}

		decision, err := s.clusterItemTx(ctx, tx, item)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("commit cluster tx: %w", err)
		}

		result.Processed++
		switch decision.kind {
		case assignExact:
			result.ExactJoins++
		case assignSimilarity:
			result.SimilarityJoins++
		case assignNewCluster:
			result.NewClusters++
			if decision.embedPending {
				result.EmbedPending++
			}
		}
	}

	return result, nil
}

type assignKind string

const (
	assignExact      assignKind = "exact"
	assignSimilarity assignKind = "similarity"
	assignNewCluster assignKind = "new_cluster"
)

type assignDecision struct {
	kind         assignKind
	clusterID    string
	embedPending bool
}

func claimOneUnclusteredItemTx(ctx context.Context, tx db.Tx) (pendingItem, bool, error) {
	const q = `
SELECT
	r.raw_item_id,
	r.source_id,
	r.title,
	r.content_hash,
	r.published_at,
	r.fetched_at,
	e.embedding::text
FROM news.raw_items r
LEFT JOIN news.item_embeddings e ON e.raw_item_id = r.raw_item_id
WHERE r.status IN ('extracted', 'scored')
  AND NOT EXISTS (
	SELECT 1
	FROM news.cluster_members cm
	WHERE cm.raw_item_id = r.raw_item_id
)
ORDER BY r.fetched_at, r.raw_item_id
LIMIT 1
FOR UPDATE OF r SKIP LOCKED
`

	var item pendingItem
	var embedding *string
	err := tx.QueryRow(ctx, q).Scan(
		&item.RawItemID,
		&item.SourceID,
		&item.Title,
		&item.ContentHash,
		&item.PublishedAt,
		&item.FetchedAt,
		&embedding,
	)
	if err != nil {
		if err == db.ErrNoRows {
			return pendingItem{}, false, nil
		}
		return pendingItem{}, false, fmt.Errorf("claim unclustered item: %w", err)
	}

	if embedding != nil && strings.TrimSpace(*embedding) != "" {
		item.EmbeddingVector = embedding
	}
	return item, true, nil
}

// joinAttempts bounds how often a join retries after its target cluster
// closed between lookup and lock. The second failure is fatal for the item.
const joinAttempts = 2

func (s *Service) clusterItemTx(ctx context.Context, tx db.Tx, item pendingItem) (assignDecision, error) {
	now := globaltime.UTC()
	itemSeenAt := memberKey{ItemID: item.RawItemID, PublishedAt: item.PublishedAt, FetchedAt: item.FetchedAt}.effectiveTime()

	for attempt := 1; attempt <= joinAttempts; attempt++ {
		clusterID, found, err := s.findExactClusterTx(ctx, tx, item, now)
		if err != nil {
			return assignDecision{}, err
		}
		if !found {
			break
		}
		err = s.joinClusterTx(ctx, tx, clusterID, item, 1.0, itemSeenAt, now)
		if err == nil {
			return assignDecision{kind: assignExact, clusterID: clusterID}, nil
		}
		if !errors.Is(err, ErrClusterNotOpen) || attempt == joinAttempts {
			return assignDecision{}, err
		}
		// Cluster closed between lookup and lock; re-fetch and retry once.
	}

	if item.EmbeddingVector != nil {
		for attempt := 1; attempt <= joinAttempts; attempt++ {
			clusterID, cosine, found, err := s.findSimilarClusterTx(ctx, tx, item, now)
			if err != nil {
				return assignDecision{}, err
			}
			if !found {
				break
			}
			err = s.joinClusterTx(ctx, tx, clusterID, item, cosine, itemSeenAt, now)
			if err == nil {
				return assignDecision{kind: assignSimilarity, clusterID: clusterID}, nil
			}
			if !errors.Is(err, ErrClusterNotOpen) || attempt == joinAttempts {
				return assignDecision{}, err
			}
		}
	}

	return s.openNewClusterTx(ctx, tx, item, itemSeenAt, now)
}

// findExactClusterTx locates the open cluster holding the most recently
// fetched item with the same content hash inside the exact lookback.
func (s *Service) findExactClusterTx(ctx context.Context, tx db.Tx, item pendingItem, now time.Time) (string, bool, error) {
	if strings.TrimSpace(item.ContentHash) == "" {
		return "", false, nil
	}

	cutoff := now.Add(-s.opts.ExactLookback)
	const q = `
SELECT cm.cluster_id
FROM news.raw_items r
JOIN news.cluster_members cm ON cm.raw_item_id = r.raw_item_id
WHERE r.content_hash = $1
  AND r.raw_item_id <> $2
  AND r.fetched_at >= $3
ORDER BY r.fetched_at DESC
LIMIT 1
`
	var clusterID string
	err := tx.QueryRow(ctx, q, item.ContentHash, item.RawItemID, cutoff).Scan(&clusterID)
	if err != nil {
		if err == db.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find exact cluster: %w", err)
	}

	resolved, err := resolveOpenClusterTx(ctx, tx, clusterID)
	if err != nil {
		if errors.Is(err, ErrClusterNotOpen) {
			return "", false, nil
		}
		return "", false, err
	}
	return resolved, true, nil
}

// resolveOpenClusterTx follows merged_into links until it reaches an open
// cluster. Archived clusters and broken chains yield ErrClusterNotOpen.
func resolveOpenClusterTx(ctx context.Context, tx db.Tx, clusterID string) (string, error) {
	current := clusterID
	for hop := 0; hop < mergedChainLimit; hop++ {
		var status string
		var mergedInto *string
		err := tx.QueryRow(ctx, `
SELECT status, merged_into_id
FROM news.clusters
WHERE cluster_id = $1
`, current).Scan(&status, &mergedInto)
		if err != nil {
			if err == db.ErrNoRows {
				return "", fmt.Errorf("cluster %s: %w", current, ErrClusterNotOpen)
			}
			return "", fmt.Errorf("resolve cluster %s: %w", current, err)
		}

		switch status {
		case "open":
			return current, nil
		case "merged":
			if mergedInto == nil || *mergedInto == "" {
				return "", fmt.Errorf("cluster %s merged without target: %w", current, ErrClusterNotOpen)
			}
			current = *mergedInto
		default:
			return "", fmt.Errorf("cluster %s status %s: %w", current, status, ErrClusterNotOpen)
		}
	}
	return "", fmt.Errorf("cluster %s merge chain too deep: %w", clusterID, ErrClusterNotOpen)
}

func (s *Service) findSimilarClusterTx(ctx context.Context, tx db.Tx, item pendingItem, now time.Time) (string, float64, bool, error) {
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", defaultSimilaritySearchEF)); err != nil {
		return "", 0, false, fmt.Errorf("set hnsw.ef_search: %w", err)
	}

	cutoff := now.Add(-s.opts.SimilarityWindow)
	const q = `
SELECT
	cm.cluster_id,
	(1 - (e.embedding <=> $1::vector))::DOUBLE PRECISION AS cosine
FROM news.item_embeddings e
JOIN news.raw_items r ON r.raw_item_id = e.raw_item_id
JOIN news.cluster_members cm ON cm.raw_item_id = e.raw_item_id
JOIN news.clusters c ON c.cluster_id = cm.cluster_id
WHERE c.status = 'open'
  AND r.fetched_at >= $2
  AND e.raw_item_id <> $3
ORDER BY e.embedding <=> $1::vector ASC
LIMIT $4
`

	rows, err := tx.Query(ctx, q, strings.TrimSpace(*item.EmbeddingVector), cutoff, item.RawItemID, s.opts.CandidateLimit)
	if err != nil {
		return "", 0, false, fmt.Errorf("query similarity candidates: %w", err)
	}
	defer rows.Close()

	bestCosine := -1.0
	bestCluster := ""
	for rows.Next() {
		var clusterID string
		var cosine float64
		if err := rows.Scan(&clusterID, &cosine); err != nil {
			return "", 0, false, fmt.Errorf("scan similarity candidate: %w", err)
		}
		if cosine > bestCosine {
			bestCosine = cosine
			bestCluster = clusterID
		}
	}
	if err := rows.Err(); err != nil {
		return "", 0, false, fmt.Errorf("iterate similarity candidates: %w", err)
	}

	if bestCluster == "" || bestCosine < s.opts.SimilarityThreshold {
		return "", 0, false, nil
	}
	return bestCluster, bestCosine, true, nil
}

// joinClusterTx adds the item to an open cluster under the cluster row lock,
// then refreshes aggregates and re-derives the canonical member.
func (s *Service) joinClusterTx(ctx context.Context, tx db.Tx, clusterID string, item pendingItem, similarity float64, itemSeenAt, now time.Time) error {
	if err := lockOpenClusterTx(ctx, tx, clusterID); err != nil {
		return err
	}

	const insertMember = `
INSERT INTO news.cluster_members (cluster_id, raw_item_id, similarity, is_canonical, added_at)
VALUES ($1, $2, $3, FALSE, $4)
ON CONFLICT (raw_item_id) DO NOTHING
`
	tag, err := tx.Exec(ctx, insertMember, clusterID, item.RawItemID, similarity, now)
	if err != nil {
		return fmt.Errorf("insert cluster member cluster_id=%s raw_item_id=%s: %w", clusterID, item.RawItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if err := refreshClusterAggregateTx(ctx, tx, clusterID, itemSeenAt, now); err != nil {
		return err
	}
	if err := recomputeCanonicalTx(ctx, tx, clusterID, now); err != nil {
		return err
	}
	return markItemClusteredTx(ctx, tx, item.RawItemID, now)
}

func (s *Service) openNewClusterTx(ctx context.Context, tx db.Tx, item pendingItem, itemSeenAt, now time.Time) (assignDecision, error) {
	embedPending := item.EmbeddingVector == nil

	const insertCluster = `
INSERT INTO news.clusters (
	status,
	canonical_item_id,
	first_seen_at,
	last_member_added_at,
	member_count,
	distinct_source_count,
	created_at,
	updated_at
)
VALUES ('open', $1, $2, $3, 1, 1, $3, $3)
RETURNING cluster_id
`
	var clusterID string
	if err := tx.QueryRow(ctx, insertCluster, item.RawItemID, itemSeenAt, now).Scan(&clusterID); err != nil {
		return assignDecision{}, fmt.Errorf("insert cluster for raw_item_id=%s: %w", item.RawItemID, err)
	}

	const insertMember = `
INSERT INTO news.cluster_members (cluster_id, raw_item_id, similarity, is_canonical, added_at)
VALUES ($1, $2, 1.0, TRUE, $3)
ON CONFLICT (raw_item_id) DO NOTHING
`
	tag, err := tx.Exec(ctx, insertMember, clusterID, item.RawItemID, now)
	if err != nil {
		return assignDecision{}, fmt.Errorf("insert seed member cluster_id=%s: %w", clusterID, err)
	}
	if tag.RowsAffected() == 0 {
		return assignDecision{}, nil
	}

	if err := markItemClusteredTx(ctx, tx, item.RawItemID, now); err != nil {
		return assignDecision{}, err
	}
	if embedPending {
		if _, err := tx.Exec(ctx, `
UPDATE news.raw_items
SET embed_pending = TRUE, updated_at = $2
WHERE raw_item_id = $1
`, item.RawItemID, now); err != nil {
			return assignDecision{}, fmt.Errorf("flag embed_pending raw_item_id=%s: %w", item.RawItemID, err)
		}
	}

	return assignDecision{kind: assignNewCluster, clusterID: clusterID, embedPending: embedPending}, nil
}

func lockOpenClusterTx(ctx context.Context, tx db.Tx, clusterID string) error {
	var status string
	err := tx.QueryRow(ctx, `
SELECT status
FROM news.clusters
WHERE cluster_id = $1
FOR UPDATE
`, clusterID).Scan(&status)
	if err != nil {
		if err == db.ErrNoRows {
			return fmt.Errorf("cluster %s: %w", clusterID, ErrClusterNotOpen)
		}
		return fmt.Errorf("lock cluster %s: %w", clusterID, err)
	}
	if status != "open" {
		return fmt.Errorf("cluster %s status %s: %w", clusterID, status, ErrClusterNotOpen)
	}
	return nil
}

func refreshClusterAggregateTx(ctx context.Context, tx db.Tx, clusterID string, itemSeenAt, now time.Time) error {
	const q = `
UPDATE news.clusters c
SET
	first_seen_at = LEAST(c.first_seen_at, $2),
	last_member_added_at = GREATEST(COALESCE(c.last_member_added_at, $3), $3),
	member_count = agg.member_count,
	distinct_source_count = agg.source_count,
	updated_at = $1
FROM (
	SELECT
		cm.cluster_id,
		COUNT(*)::INT AS member_count,
		COUNT(DISTINCT r.source_id)::INT AS source_count
	FROM news.cluster_members cm
	JOIN news.raw_items r ON r.raw_item_id = cm.raw_item_id
	WHERE cm.cluster_id = $4
	GROUP BY cm.cluster_id
) agg
WHERE c.cluster_id = agg.cluster_id
`
	if _, err := tx.Exec(ctx, q, now, itemSeenAt, now, clusterID); err != nil {
		return fmt.Errorf("refresh cluster aggregate cluster_id=%s: %w", clusterID, err)
	}
	return nil
}

// recomputeCanonicalTx re-derives the canonical member after a membership
// change. The oldest published member always wins.
func recomputeCanonicalTx(ctx context.Context, tx db.Tx, clusterID string, now time.Time) error {
	const q = `
SELECT r.raw_item_id, r.published_at, r.fetched_at
FROM news.cluster_members cm
JOIN news.raw_items r ON r.raw_item_id = cm.raw_item_id
WHERE cm.cluster_id = $1
`
	rows, err := tx.Query(ctx, q, clusterID)
	if err != nil {
		return fmt.Errorf("load members cluster_id=%s: %w", clusterID, err)
	}
	defer rows.Close()

	var members []memberKey
	for rows.Next() {
		var m memberKey
		if err := rows.Scan(&m.ItemID, &m.PublishedAt, &m.FetchedAt); err != nil {
			return fmt.Errorf("scan member cluster_id=%s: %w", clusterID, err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate members cluster_id=%s: %w", clusterID, err)
	}

	canonical, ok := pickCanonical(members)
	if !ok {
		return nil
	}

	if _, err := tx.Exec(ctx, `
UPDATE news.clusters
SET canonical_item_id = $2, updated_at = $3
WHERE cluster_id = $1
`, clusterID, canonical.ItemID, now); err != nil {
		return fmt.Errorf("set canonical cluster_id=%s: %w", clusterID, err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE news.cluster_members
SET is_canonical = (raw_item_id = $2)
WHERE cluster_id = $1
`, clusterID, canonical.ItemID); err != nil {
		return fmt.Errorf("flag canonical member cluster_id=%s: %w", clusterID, err)
	}

	return nil
}

func markItemClusteredTx(ctx context.Context, tx db.Tx, rawItemID string, now time.Time) error {
	if _, err := tx.Exec(ctx, `
UPDATE news.raw_items
SET status = 'clustered', embed_pending = FALSE, updated_at = $2
WHERE raw_item_id = $1
`, rawItemID, now); err != nil {
		return fmt.Errorf("mark item clustered raw_item_id=%s: %w", rawItemID, err)
	}
	return nil
}
