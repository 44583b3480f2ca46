package db

import (
	"encoding/json"
	"time"
)

// Source maps news.sources.
type Source struct {
	SourceID         string     `gorm:"column:source_id;type:uuid;primaryKey;default:gen_random_uuid()"`
	Type             string     `gorm:"column:type;type:text;not null"`
	Name             string     `gorm:"column:name;type:text;not null;unique"`
	URL              string     `gorm:"column:url;type:text;not null"`
	CredibilityTier  int16      `gorm:"column:credibility_tier;type:smallint;not null;default:3"`
	Enabled          bool       `gorm:"column:enabled;type:boolean;not null;default:true"`
	FetchIntervalSec int        `gorm:"column:fetch_interval_sec;type:integer;not null;default:900"`
	LastFetchedAt    *time.Time `gorm:"column:last_fetched_at;type:timestamptz"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "news.sources" }

// RawItem maps news.raw_items.
type RawItem struct {
	RawItemID     string          `gorm:"column:raw_item_id;type:uuid;primaryKey;default:gen_random_uuid()"`
	SourceID      string          `gorm:"column:source_id;type:uuid;not null;uniqueIndex:uq_raw_items_source_external,priority:1"`
	ExternalID    string          `gorm:"column:external_id;type:text;not null;uniqueIndex:uq_raw_items_source_external,priority:2"`
	URL           string          `gorm:"column:url;type:text;not null"`
	NormalizedURL string          `gorm:"column:normalized_url;type:text;not null;default:''"`
	Title         string          `gorm:"column:title;type:text;not null"`
	Author        *string         `gorm:"column:author;type:text"`
	Kind          string          `gorm:"column:kind;type:text;not null;default:article"`
	RawText       string          `gorm:"column:raw_text;type:text;not null;default:''"`
	CleanText     string          `gorm:"column:clean_text;type:text;not null;default:''"`
	WordCount     int             `gorm:"column:word_count;type:integer;not null;default:0"`
	Language      string          `gorm:"column:language;type:text;not null;default:''"`
	ContentHash   string          `gorm:"column:content_hash;type:char(64);not null;default:''"`
	RawPayload    json.RawMessage `gorm:"column:raw_payload;type:jsonb"`
	PublishedAt   *time.Time      `gorm:"column:published_at;type:timestamptz"`
	FetchedAt     time.Time       `gorm:"column:fetched_at;type:timestamptz;not null;default:now()"`
	Status        string          `gorm:"column:status;type:text;not null;default:new"`
	EmbedPending  bool            `gorm:"column:embed_pending;type:boolean;not null;default:false"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (RawItem) TableName() string { return "news.raw_items" }

// ItemEmbedding maps news.item_embeddings.
type ItemEmbedding struct {
	RawItemID string    `gorm:"column:raw_item_id;type:uuid;primaryKey"`
	Model     string    `gorm:"column:model;type:text;not null"`
	Dim       int       `gorm:"column:dim;type:integer;not null"`
	Embedding string    `gorm:"column:embedding;type:vector(1536);not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ItemEmbedding) TableName() string { return "news.item_embeddings" }

// Cluster maps news.clusters.
type Cluster struct {
	ClusterID           string     `gorm:"column:cluster_id;type:uuid;primaryKey;default:gen_random_uuid()"`
	Status              string     `gorm:"column:status;type:text;not null;default:open"`
	CanonicalItemID     *string    `gorm:"column:canonical_item_id;type:uuid"`
	MergedIntoID        *string    `gorm:"column:merged_into_id;type:uuid"`
	FirstSeenAt         time.Time  `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastMemberAddedAt   *time.Time `gorm:"column:last_member_added_at;type:timestamptz"`
	MemberCount         int        `gorm:"column:member_count;type:integer;not null;default:0"`
	DistinctSourceCount int        `gorm:"column:distinct_source_count;type:integer;not null;default:0"`
	CreatedAt           time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Cluster) TableName() string { return "news.clusters" }

// ClusterMember maps news.cluster_members.
type ClusterMember struct {
	ClusterID   string    `gorm:"column:cluster_id;type:uuid;primaryKey"`
	RawItemID   string    `gorm:"column:raw_item_id;type:uuid;primaryKey;unique"`
	Similarity  float64   `gorm:"column:similarity;type:double precision;not null;default:0"`
	IsCanonical bool      `gorm:"column:is_canonical;type:boolean;not null;default:false"`
	AddedAt     time.Time `gorm:"column:added_at;type:timestamptz;not null;default:now()"`
}

func (ClusterMember) TableName() string { return "news.cluster_members" }

// ItemScore maps news.item_scores. Rows are append-only snapshots.
type ItemScore struct {
	RawItemID   string          `gorm:"column:raw_item_id;type:uuid;primaryKey"`
	ComputedAt  time.Time       `gorm:"column:computed_at;type:timestamptz;primaryKey"`
	Relevance   float64         `gorm:"column:relevance;type:double precision;not null"`
	Velocity    float64         `gorm:"column:velocity;type:double precision;not null"`
	CrossSource float64         `gorm:"column:cross_source;type:double precision;not null"`
	Novelty     float64         `gorm:"column:novelty;type:double precision;not null"`
	Combined    float64         `gorm:"column:combined;type:double precision;not null"`
	ScoreMeta   json.RawMessage `gorm:"column:score_meta;type:jsonb"`
}

func (ItemScore) TableName() string { return "news.item_scores" }

// Briefing maps news.briefings.
type Briefing struct {
	BriefingID  string    `gorm:"column:briefing_id;type:uuid;primaryKey;default:gen_random_uuid()"`
	Scope       string    `gorm:"column:scope;type:text;not null"`
	PeriodStart time.Time `gorm:"column:period_start;type:timestamptz;not null"`
	PeriodEnd   time.Time `gorm:"column:period_end;type:timestamptz;not null"`
	GeneratedAt time.Time `gorm:"column:generated_at;type:timestamptz;not null;default:now()"`
	ItemCount   int       `gorm:"column:item_count;type:integer;not null;default:0"`
	Forced      bool      `gorm:"column:forced;type:boolean;not null;default:false"`
}

func (Briefing) TableName() string { return "news.briefings" }

// BriefingItem maps news.briefing_items.
type BriefingItem struct {
	BriefingID       string          `gorm:"column:briefing_id;type:uuid;primaryKey"`
	Rank             int             `gorm:"column:rank;type:integer;primaryKey"`
	ClusterID        string          `gorm:"column:cluster_id;type:uuid;not null"`
	RawItemID        string          `gorm:"column:raw_item_id;type:uuid;not null"`
	Title            string          `gorm:"column:title;type:text;not null"`
	Summary          string          `gorm:"column:summary;type:text;not null;default:''"`
	CombinedScore    float64         `gorm:"column:combined_score;type:double precision;not null"`
	CrossSourceScore float64         `gorm:"column:cross_source_score;type:double precision;not null"`
	SourceNames      json.RawMessage `gorm:"column:source_names;type:jsonb"`
}

func (BriefingItem) TableName() string { return "news.briefing_items" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&RawItem{},
		&ItemEmbedding{},
		&Cluster{},
		&ClusterMember{},
		&ItemScore{},
		&Briefing{},
		&BriefingItem{},
	}
}
