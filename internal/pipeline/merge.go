package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
)

type clusterHead struct {
	ClusterID string
	Status    string
	Canonical memberKey
}

// chooseSurvivor picks the merge target. The cluster whose canonical member
// is globally earliest survives, so chains of pairwise merges always collapse
// into the same cluster regardless of merge order.
func chooseSurvivor(a, b clusterHead) (survivor, loser clusterHead) {
	if keyBefore(b.Canonical, a.Canonical) {
		return b, a
	}
	return a, b
}

// MergeClusters merges two open clusters atomically. Members move to the
// surviving cluster, the losing cluster is marked merged, and member
// similarities are recomputed against the surviving canonical where
// embeddings exist. Returns the surviving cluster id.
func (s *Service) MergeClusters(ctx context.Context, clusterA, clusterB string) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("pipeline service is not initialized")
	}
	if clusterA == clusterB {
		return "", fmt.Errorf("cannot merge cluster %s with itself", clusterA)
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin merge tx: %w", err)
	}

	survivor, err := mergeClustersTx(ctx, tx, clusterA, clusterB, globaltime.UTC())
	if err != nil {
		_ = tx.Rollback(ctx)
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return "", fmt.Errorf("commit merge tx: %w", err)
	}
	return survivor, nil
}

func mergeClustersTx(ctx context.Context, tx db.Tx, clusterA, clusterB string, now time.Time) (string, error) {
	// Lock in id order so concurrent merges of the same pair cannot deadlock.
	first, second := clusterA, clusterB
	if second < first {
		first, second = second, first
	}

	headA, err := lockClusterHeadTx(ctx, tx, first)
	if err != nil {
		return "", err
	}
	headB, err := lockClusterHeadTx(ctx, tx, second)
	if err != nil {
		return "", err
	}

	for _, head := range []clusterHead{headA, headB} {
		if head.Status != "open" {
			return "", fmt.Errorf("cluster %s status %s: %w", head.ClusterID, head.Status, ErrClusterNotOpen)
		}
	}

	survivor, loser := chooseSurvivor(headA, headB)

	if _, err := tx.Exec(ctx, `
UPDATE news.cluster_members
SET cluster_id = $2
WHERE cluster_id = $1
`, loser.ClusterID, survivor.ClusterID); err != nil {
		return "", fmt.Errorf("move members %s -> %s: %w", loser.ClusterID, survivor.ClusterID, err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE news.clusters
SET status = 'merged',
	merged_into_id = $2,
	canonical_item_id = NULL,
	member_count = 0,
	distinct_source_count = 0,
	updated_at = $3
WHERE cluster_id = $1
`, loser.ClusterID, survivor.ClusterID, now); err != nil {
		return "", fmt.Errorf("mark cluster merged %s: %w", loser.ClusterID, err)
	}

	if err := refreshClusterAggregateTx(ctx, tx, survivor.ClusterID, loser.Canonical.effectiveTime(), now); err != nil {
		return "", err
	}
	if err := recomputeCanonicalTx(ctx, tx, survivor.ClusterID, now); err != nil {
		return "", err
	}
	if err := recomputeMemberSimilaritiesTx(ctx, tx, survivor.ClusterID); err != nil {
		return "", err
	}

	return survivor.ClusterID, nil
}

func lockClusterHeadTx(ctx context.Context, tx db.Tx, clusterID string) (clusterHead, error) {
	const q = `
SELECT c.cluster_id, c.status, COALESCE(r.raw_item_id, ''), r.published_at, COALESCE(r.fetched_at, c.first_seen_at)
FROM news.clusters c
LEFT JOIN news.raw_items r ON r.raw_item_id = c.canonical_item_id
WHERE c.cluster_id = $1
FOR UPDATE OF c
`
	var head clusterHead
	err := tx.QueryRow(ctx, q, clusterID).Scan(
		&head.ClusterID,
		&head.Status,
		&head.Canonical.ItemID,
		&head.Canonical.PublishedAt,
		&head.Canonical.FetchedAt,
	)
	if err != nil {
		if err == db.ErrNoRows {
			return clusterHead{}, fmt.Errorf("cluster %s: %w", clusterID, ErrClusterNotOpen)
		}
		return clusterHead{}, fmt.Errorf("lock cluster head %s: %w", clusterID, err)
	}
	return head, nil
}

// recomputeMemberSimilaritiesTx rescores member similarity against the
// surviving canonical. Members without embeddings keep their stored value.
func recomputeMemberSimilaritiesTx(ctx context.Context, tx db.Tx, clusterID string) error {
	const q = `
UPDATE news.cluster_members cm
SET similarity = (1 - (e.embedding <=> ce.embedding))::DOUBLE PRECISION
FROM news.clusters c, news.item_embeddings ce, news.item_embeddings e
WHERE c.cluster_id = $1
  AND ce.raw_item_id = c.canonical_item_id
  AND cm.cluster_id = c.cluster_id
  AND e.raw_item_id = cm.raw_item_id
  AND NOT cm.is_canonical
`
	if _, err := tx.Exec(ctx, q, clusterID); err != nil {
		return fmt.Errorf("recompute member similarities cluster_id=%s: %w", clusterID, err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE news.cluster_members
SET similarity = 1.0
WHERE cluster_id = $1 AND is_canonical
`, clusterID); err != nil {
		return fmt.Errorf("reset canonical similarity cluster_id=%s: %w", clusterID, err)
	}
	return nil
}

// SweepMerges repeatedly merges the closest pair of open clusters whose
// canonical embeddings clear the similarity threshold, until no pair
// qualifies or maxMerges is reached. One merge per transaction.
func (s *Service) SweepMerges(ctx context.Context, maxMerges int) (SweepResult, error) {
	if s == nil || s.pool == nil {
		return SweepResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if maxMerges <= 0 {
		return SweepResult{}, nil
	}

	var result SweepResult
	for result.Merges < maxMerges {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
		if err != nil {
			return result, fmt.Errorf("begin sweep tx: %w", err)
		}

		pairA, pairB, found, err := s.findMergeablePairTx(ctx, tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}
		if !found {
			if err := tx.Commit(ctx); err != nil {
				_ = tx.Rollback(ctx)
				return result, fmt.Errorf("commit empty sweep tx: %w", err)
			}
			break
		}

		survivor, err := mergeClustersTx(ctx, tx, pairA, pairB, globaltime.UTC())
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("commit sweep tx: %w", err)
		}

		s.logger.Debug().
			Str("survivor", survivor).
			Str("cluster_a", pairA).
			Str("cluster_b", pairB).
			Msg("merged cluster pair")
		result.Merges++
	}

	return result, nil
}

// findMergeablePairTx returns the qualifying open cluster pair whose
// combined canonical is earliest, so sweep order is deterministic.
func (s *Service) findMergeablePairTx(ctx context.Context, tx db.Tx) (string, string, bool, error) {
	cutoff := globaltime.UTC().Add(-s.opts.SimilarityWindow)
	const q = `
SELECT a.cluster_id, b.cluster_id
FROM news.clusters a
JOIN news.item_embeddings ea ON ea.raw_item_id = a.canonical_item_id
JOIN news.raw_items ra ON ra.raw_item_id = a.canonical_item_id
JOIN news.clusters b ON b.cluster_id > a.cluster_id
JOIN news.item_embeddings eb ON eb.raw_item_id = b.canonical_item_id
JOIN news.raw_items rb ON rb.raw_item_id = b.canonical_item_id
WHERE a.status = 'open'
  AND b.status = 'open'
  AND GREATEST(COALESCE(a.last_member_added_at, a.first_seen_at), a.first_seen_at) >= $1
  AND GREATEST(COALESCE(b.last_member_added_at, b.first_seen_at), b.first_seen_at) >= $1
  AND (1 - (ea.embedding <=> eb.embedding)) >= $2
ORDER BY LEAST(
	COALESCE(ra.published_at, ra.fetched_at),
	COALESCE(rb.published_at, rb.fetched_at)
) ASC, a.cluster_id ASC, b.cluster_id ASC
LIMIT 1
`
	var clusterA, clusterB string
	err := tx.QueryRow(ctx, q, cutoff, s.opts.SimilarityThreshold).Scan(&clusterA, &clusterB)
	if err != nil {
		if err == db.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("find mergeable pair: %w", err)
	}
	return clusterA, clusterB, true, nil
}

// ArchiveStale closes open clusters with no member activity since the cutoff.
func (s *Service) ArchiveStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("pipeline service is not initialized")
	}
	if olderThan <= 0 {
		return 0, nil
	}

	now := globaltime.UTC()
	cutoff := now.Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
UPDATE news.clusters
SET status = 'archived', updated_at = $2
WHERE status = 'open'
  AND GREATEST(COALESCE(last_member_added_at, first_seen_at), first_seen_at) < $1
`, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("archive stale clusters: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
