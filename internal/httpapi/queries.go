package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ham12-3/news-bot/internal/db"
)

type signalFilter struct {
	MinScore float64
	Since    time.Time
	Limit    int
	Offset   int
}

type signalListItem struct {
	RawItemID   string     `json:"raw_item_id"`
	ClusterID   *string    `json:"cluster_id,omitempty"`
	SourceName  string     `json:"source_name"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	ComputedAt  time.Time  `json:"computed_at"`
	Relevance   float64    `json:"relevance"`
	Velocity    float64    `json:"velocity"`
	CrossSource float64    `json:"cross_source"`
	Novelty     float64    `json:"novelty"`
	Combined    float64    `json:"combined"`
}

type scoreSnapshot struct {
	ComputedAt  time.Time       `json:"computed_at"`
	Relevance   float64         `json:"relevance"`
	Velocity    float64         `json:"velocity"`
	CrossSource float64         `json:"cross_source"`
	Novelty     float64         `json:"novelty"`
	Combined    float64         `json:"combined"`
	ScoreMeta   json.RawMessage `json:"score_meta,omitempty"`
}

type signalDetail struct {
	RawItemID   string          `json:"raw_item_id"`
	ClusterID   *string         `json:"cluster_id,omitempty"`
	SourceName  string          `json:"source_name"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	CleanText   string          `json:"clean_text,omitempty"`
	WordCount   int             `json:"word_count"`
	Language    string          `json:"language,omitempty"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	FetchedAt   time.Time       `json:"fetched_at"`
	Scores      []scoreSnapshot `json:"scores"`
}

type clusterMemberItem struct {
	RawItemID   string     `json:"raw_item_id"`
	SourceName  string     `json:"source_name"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Similarity  float64    `json:"similarity"`
	IsCanonical bool       `json:"is_canonical"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	AddedAt     time.Time  `json:"added_at"`
}

type clusterDetail struct {
	ClusterID           string              `json:"cluster_id"`
	Status              string              `json:"status"`
	CanonicalItemID     *string             `json:"canonical_item_id,omitempty"`
	MergedIntoID        *string             `json:"merged_into_id,omitempty"`
	FirstSeenAt         time.Time           `json:"first_seen_at"`
	LastMemberAddedAt   *time.Time          `json:"last_member_added_at,omitempty"`
	MemberCount         int                 `json:"member_count"`
	DistinctSourceCount int                 `json:"distinct_source_count"`
	Members             []clusterMemberItem `json:"members"`
}

type briefingListItem struct {
	BriefingID  string    `json:"briefing_id"`
	Scope       string    `json:"scope"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	GeneratedAt time.Time `json:"generated_at"`
	ItemCount   int       `json:"item_count"`
	Forced      bool      `json:"forced"`
}

type briefingEntry struct {
	Rank             int      `json:"rank"`
	ClusterID        string   `json:"cluster_id"`
	RawItemID        string   `json:"raw_item_id"`
	Title            string   `json:"title"`
	Summary          string   `json:"summary,omitempty"`
	CombinedScore    float64  `json:"combined_score"`
	CrossSourceScore float64  `json:"cross_source_score"`
	SourceNames      []string `json:"source_names,omitempty"`
}

type briefingDetail struct {
	Briefing briefingListItem `json:"briefing"`
	Items    []briefingEntry  `json:"items"`
}

type sourceSummary struct {
	SourceID        string     `json:"source_id"`
	Type            string     `json:"type"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	CredibilityTier int16      `json:"credibility_tier"`
	Enabled         bool       `json:"enabled"`
	LastFetchedAt   *time.Time `json:"last_fetched_at,omitempty"`
	ItemCount       int64      `json:"item_count"`
}

type statsResponse struct {
	ItemsByStatus   map[string]int64 `json:"items_by_status"`
	OpenClusters    int64            `json:"open_clusters"`
	MergedClusters  int64            `json:"merged_clusters"`
	EmbedPending    int64            `json:"embed_pending"`
	ScoreSnapshots  int64            `json:"score_snapshots"`
	Briefings       int64            `json:"briefings"`
	LastFetchedAt   *time.Time       `json:"last_fetched_at,omitempty"`
	LastClusterSeen *time.Time       `json:"last_cluster_seen,omitempty"`
}

// querySignals returns the latest score snapshot per item, newest and highest
// combined first.
func (s *Server) querySignals(ctx context.Context, filter signalFilter) ([]signalListItem, error) {
	const q = `
SELECT
	r.raw_item_id,
	cm.cluster_id,
	src.name,
	r.title,
	r.url,
	r.published_at,
	r.fetched_at,
	sc.computed_at,
	sc.relevance,
	sc.velocity,
	sc.cross_source,
	sc.novelty,
	sc.combined
FROM news.raw_items r
JOIN news.sources src ON src.source_id = r.source_id
LEFT JOIN news.cluster_members cm ON cm.raw_item_id = r.raw_item_id
JOIN LATERAL (
	SELECT computed_at, relevance, velocity, cross_source, novelty, combined
	FROM news.item_scores
	WHERE raw_item_id = r.raw_item_id
	ORDER BY computed_at DESC
	LIMIT 1
) sc ON TRUE
WHERE sc.combined >= $1
  AND r.fetched_at >= $2
ORDER BY sc.combined DESC, sc.computed_at DESC, r.raw_item_id
LIMIT $3
OFFSET $4
`
	rows, err := s.pool.Query(ctx, q, filter.MinScore, filter.Since, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	items := make([]signalListItem, 0, filter.Limit)
	for rows.Next() {
		var row signalListItem
		if err := rows.Scan(
			&row.RawItemID,
			&row.ClusterID,
			&row.SourceName,
			&row.Title,
			&row.URL,
			&row.PublishedAt,
			&row.FetchedAt,
			&row.ComputedAt,
			&row.Relevance,
			&row.Velocity,
			&row.CrossSource,
			&row.Novelty,
			&row.Combined,
		); err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}
	return items, nil
}

func (s *Server) querySignalDetail(ctx context.Context, rawItemID string) (*signalDetail, error) {
	const itemQuery = `
SELECT
	r.raw_item_id,
	cm.cluster_id,
	src.name,
	r.title,
	r.url,
	r.clean_text,
	r.word_count,
	r.language,
	r.kind,
	r.status,
	r.published_at,
	r.fetched_at
FROM news.raw_items r
JOIN news.sources src ON src.source_id = r.source_id
LEFT JOIN news.cluster_members cm ON cm.raw_item_id = r.raw_item_id
WHERE r.raw_item_id = $1::uuid
`

	var detail signalDetail
	err := s.pool.QueryRow(ctx, itemQuery, rawItemID).Scan(
		&detail.RawItemID,
		&detail.ClusterID,
		&detail.SourceName,
		&detail.Title,
		&detail.URL,
		&detail.CleanText,
		&detail.WordCount,
		&detail.Language,
		&detail.Kind,
		&detail.Status,
		&detail.PublishedAt,
		&detail.FetchedAt,
	)
	if db.IsNoRows(err) {
		return nil, errSignalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query signal: %w", err)
	}

	const scoresQuery = `
SELECT computed_at, relevance, velocity, cross_source, novelty, combined, score_meta
FROM news.item_scores
WHERE raw_item_id = $1::uuid
ORDER BY computed_at DESC
`
	rows, err := s.pool.Query(ctx, scoresQuery, rawItemID)
	if err != nil {
		return nil, fmt.Errorf("query score history: %w", err)
	}
	defer rows.Close()

	detail.Scores = make([]scoreSnapshot, 0, 4)
	for rows.Next() {
		var snap scoreSnapshot
		var meta []byte
		if err := rows.Scan(
			&snap.ComputedAt, &snap.Relevance, &snap.Velocity,
			&snap.CrossSource, &snap.Novelty, &snap.Combined, &meta,
		); err != nil {
			return nil, fmt.Errorf("scan score snapshot: %w", err)
		}
		if len(meta) > 0 && string(meta) != "null" {
			snap.ScoreMeta = json.RawMessage(meta)
		}
		detail.Scores = append(detail.Scores, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score snapshots: %w", err)
	}
	return &detail, nil
}

func (s *Server) queryClusterDetail(ctx context.Context, clusterID string) (*clusterDetail, error) {
	const clusterQuery = `
SELECT
	cluster_id,
	status,
	canonical_item_id,
	merged_into_id,
	first_seen_at,
	last_member_added_at,
	member_count,
	distinct_source_count
FROM news.clusters
WHERE cluster_id = $1::uuid
`

	var detail clusterDetail
	err := s.pool.QueryRow(ctx, clusterQuery, clusterID).Scan(
		&detail.ClusterID,
		&detail.Status,
		&detail.CanonicalItemID,
		&detail.MergedIntoID,
		&detail.FirstSeenAt,
		&detail.LastMemberAddedAt,
		&detail.MemberCount,
		&detail.DistinctSourceCount,
	)
	if db.IsNoRows(err) {
		return nil, errClusterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cluster: %w", err)
	}

	const membersQuery = `
SELECT
	m.raw_item_id,
	src.name,
	r.title,
	r.url,
	m.similarity,
	m.is_canonical,
	r.published_at,
	m.added_at
FROM news.cluster_members m
JOIN news.raw_items r ON r.raw_item_id = m.raw_item_id
JOIN news.sources src ON src.source_id = r.source_id
WHERE m.cluster_id = $1::uuid
ORDER BY m.is_canonical DESC, m.added_at
`
	rows, err := s.pool.Query(ctx, membersQuery, clusterID)
	if err != nil {
		return nil, fmt.Errorf("query cluster members: %w", err)
	}
	defer rows.Close()

	detail.Members = make([]clusterMemberItem, 0, detail.MemberCount)
	for rows.Next() {
		var member clusterMemberItem
		if err := rows.Scan(
			&member.RawItemID,
			&member.SourceName,
			&member.Title,
			&member.URL,
			&member.Similarity,
			&member.IsCanonical,
			&member.PublishedAt,
			&member.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cluster member: %w", err)
		}
		detail.Members = append(detail.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster members: %w", err)
	}
	return &detail, nil
}

func (s *Server) queryBriefings(ctx context.Context, scope string, limit int) ([]briefingListItem, error) {
	const q = `
SELECT briefing_id, scope, period_start, period_end, generated_at, item_count, forced
FROM news.briefings
WHERE ($1 = '' OR scope = $1)
ORDER BY period_start DESC, generated_at DESC
LIMIT $2
`
	rows, err := s.pool.Query(ctx, q, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("query briefings: %w", err)
	}
	defer rows.Close()

	items := make([]briefingListItem, 0, limit)
	for rows.Next() {
		var row briefingListItem
		if err := rows.Scan(
			&row.BriefingID, &row.Scope, &row.PeriodStart, &row.PeriodEnd,
			&row.GeneratedAt, &row.ItemCount, &row.Forced,
		); err != nil {
			return nil, fmt.Errorf("scan briefing row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate briefing rows: %w", err)
	}
	return items, nil
}

func (s *Server) queryBriefingDetail(ctx context.Context, briefingID string) (*briefingDetail, error) {
	const briefingQuery = `
SELECT briefing_id, scope, period_start, period_end, generated_at, item_count, forced
FROM news.briefings
WHERE briefing_id = $1::uuid
`

	var detail briefingDetail
	err := s.pool.QueryRow(ctx, briefingQuery, briefingID).Scan(
		&detail.Briefing.BriefingID,
		&detail.Briefing.Scope,
		&detail.Briefing.PeriodStart,
		&detail.Briefing.PeriodEnd,
		&detail.Briefing.GeneratedAt,
		&detail.Briefing.ItemCount,
		&detail.Briefing.Forced,
	)
	if db.IsNoRows(err) {
		return nil, errBriefingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query briefing: %w", err)
	}

	const itemsQuery = `
SELECT rank, cluster_id, raw_item_id, title, summary, combined_score, cross_source_score, source_names
FROM news.briefing_items
WHERE briefing_id = $1::uuid
ORDER BY rank
`
	rows, err := s.pool.Query(ctx, itemsQuery, briefingID)
	if err != nil {
		return nil, fmt.Errorf("query briefing items: %w", err)
	}
	defer rows.Close()

	detail.Items = make([]briefingEntry, 0, detail.Briefing.ItemCount)
	for rows.Next() {
		var entry briefingEntry
		var names []byte
		if err := rows.Scan(
			&entry.Rank, &entry.ClusterID, &entry.RawItemID, &entry.Title,
			&entry.Summary, &entry.CombinedScore, &entry.CrossSourceScore, &names,
		); err != nil {
			return nil, fmt.Errorf("scan briefing item: %w", err)
		}
		if len(names) > 0 && string(names) != "null" {
			if err := json.Unmarshal(names, &entry.SourceNames); err != nil {
				return nil, fmt.Errorf("decode briefing item source names: %w", err)
			}
		}
		detail.Items = append(detail.Items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate briefing items: %w", err)
	}
	return &detail, nil
}

func (s *Server) querySources(ctx context.Context) ([]sourceSummary, error) {
	const q = `
SELECT
	s.source_id,
	s.type,
	s.name,
	s.url,
	s.credibility_tier,
	s.enabled,
	s.last_fetched_at,
	COUNT(r.raw_item_id)::BIGINT AS item_count
FROM news.sources s
LEFT JOIN news.raw_items r ON r.source_id = s.source_id
GROUP BY s.source_id
ORDER BY s.name
`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	items := make([]sourceSummary, 0, 8)
	for rows.Next() {
		var row sourceSummary
		if err := rows.Scan(
			&row.SourceID, &row.Type, &row.Name, &row.URL,
			&row.CredibilityTier, &row.Enabled, &row.LastFetchedAt, &row.ItemCount,
		); err != nil {
			return nil, fmt.Errorf("scan source summary: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source summaries: %w", err)
	}
	return items, nil
}

func (s *Server) queryStats(ctx context.Context) (*statsResponse, error) {
	const q = `
SELECT
	(SELECT COUNT(*) FROM news.clusters WHERE status = 'open') AS open_clusters,
	(SELECT COUNT(*) FROM news.clusters WHERE status = 'merged') AS merged_clusters,
	(SELECT COUNT(*) FROM news.raw_items WHERE embed_pending) AS embed_pending,
	(SELECT COUNT(*) FROM news.item_scores) AS score_snapshots,
	(SELECT COUNT(*) FROM news.briefings) AS briefings,
	(SELECT MAX(fetched_at) FROM news.raw_items) AS last_fetched_at,
	(SELECT MAX(COALESCE(last_member_added_at, first_seen_at)) FROM news.clusters) AS last_cluster_seen
`

	var stats statsResponse
	if err := s.pool.QueryRow(ctx, q).Scan(
		&stats.OpenClusters,
		&stats.MergedClusters,
		&stats.EmbedPending,
		&stats.ScoreSnapshots,
		&stats.Briefings,
		&stats.LastFetchedAt,
		&stats.LastClusterSeen,
	); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	const statusQuery = `
SELECT status, COUNT(*)::BIGINT
FROM news.raw_items
GROUP BY status
ORDER BY status
`
	rows, err := s.pool.Query(ctx, statusQuery)
	if err != nil {
		return nil, fmt.Errorf("query item status counts: %w", err)
	}
	defer rows.Close()

	stats.ItemsByStatus = map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan item status count: %w", err)
		}
		stats.ItemsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item status counts: %w", err)
	}

	return &stats, nil
}
