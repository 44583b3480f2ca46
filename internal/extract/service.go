package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
	"github.com/Ham12-3/news-bot/internal/langdetect"
	"github.com/Ham12-3/news-bot/internal/pipeline"
)

const (
	// DefaultMinWordCount gates full-text extraction. Items below the gate
	// keep only their title as clean text.
	DefaultMinWordCount = 50

	defaultBatchSize = 50
)

// Options tunes the extract service.
type Options struct {
	MinWordCount int
	Fetch        FetchOptions
}

func (o Options) withDefaults() Options {
	if o.MinWordCount <= 0 {
		o.MinWordCount = DefaultMinWordCount
	}
	return o
}

// Service turns ingested raw items into clean article text.
type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
}

func NewService(pool *db.Pool, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		pool:   pool,
		logger: logger.With().Str("component", "extract").Logger(),
		opts:   opts.withDefaults(),
	}
}

// Result aggregates one extraction pass.
type Result struct {
	Processed int
	FullText  int
	TitleOnly int
	Failed    int
}

type claimedItem struct {
	RawItemID string
	URL       string
	Title     string
	Kind      string
	RawText   string
}

// ExtractPending processes up to limit items in status new. Each item is
// handled in its own transaction; a fetch failure leaves the item in status
// new for a later pass and does not stop the batch.
func (s *Service) ExtractPending(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = defaultBatchSize
	}

	ids, err := s.pendingItemIDs(ctx, limit)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := s.extractOne(ctx, id)
		if err != nil {
			res.Failed++
			s.logger.Warn().Err(err).
				Str("raw_item_id", id).
				Msg("extraction failed, item left pending")
			continue
		}
		if outcome == outcomeSkipped {
			continue
		}
		res.Processed++
		if outcome == outcomeFullText {
			res.FullText++
		} else {
			res.TitleOnly++
		}
	}
	return res, nil
}

func (s *Service) pendingItemIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT raw_item_id
		FROM news.raw_items
		WHERE status = 'new'
		ORDER BY fetched_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending items: %w", err)
	}
	return ids, nil
}

type extractOutcome int

const (
	outcomeSkipped extractOutcome = iota
	outcomeFullText
	outcomeTitleOnly
)

func (s *Service) extractOne(ctx context.Context, rawItemID string) (extractOutcome, error) {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("begin extract tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var item claimedItem
	err = tx.QueryRow(ctx, `
		SELECT raw_item_id, url, title, kind, raw_text
		FROM news.raw_items
		WHERE raw_item_id = $1 AND status = 'new'
		FOR UPDATE SKIP LOCKED`,
		rawItemID,
	).Scan(&item.RawItemID, &item.URL, &item.Title, &item.Kind, &item.RawText)
	if db.IsNoRows(err) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, fmt.Errorf("claim item: %w", err)
	}

	bodyText, err := s.resolveBodyText(ctx, item)
	if err != nil {
		return outcomeSkipped, err
	}

	outcome := outcomeFullText
	cleanText := bodyText
	if wordCount(cleanText) < s.opts.MinWordCount {
		cleanText = strings.TrimSpace(item.Title)
		outcome = outcomeTitleOnly
	}

	now := globaltime.UTC()
	normalizedURL, _ := pipeline.NormalizeURL(item.URL)
	_, err = tx.Exec(ctx, `
		UPDATE news.raw_items
		SET clean_text = $2,
		    word_count = $3,
		    language = $4,
		    content_hash = $5,
		    normalized_url = CASE WHEN normalized_url = '' THEN $6 ELSE normalized_url END,
		    status = 'extracted',
		    updated_at = $7
		WHERE raw_item_id = $1`,
		item.RawItemID,
		cleanText,
		wordCount(cleanText),
		langdetect.DetectISO6391(cleanText),
		pipeline.ContentHashHex(item.Title, bodyFromOutcome(outcome, cleanText)),
		normalizedURL,
		now,
	)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("update extracted item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return outcomeSkipped, fmt.Errorf("commit extract tx: %w", err)
	}
	return outcome, nil
}

// resolveBodyText prefers the body delivered with the feed payload and falls
// back to fetching the article page.
func (s *Service) resolveBodyText(ctx context.Context, item claimedItem) (string, error) {
	if raw := strings.TrimSpace(item.RawText); raw != "" {
		if maybeHTML(raw) {
			if text := htmlToText([]byte(raw)); text != "" {
				return text, nil
			}
		}
		return CleanText(raw), nil
	}

	text, err := fetchArticleText(ctx, item.URL, s.opts.Fetch)
	if err != nil {
		return "", fmt.Errorf("fetch article %s: %w", item.URL, err)
	}
	return text, nil
}

// bodyFromOutcome keeps the content hash aligned with what was retained:
// title-only items hash the title alone so identical headlines from mirror
// feeds still dedup exactly.
func bodyFromOutcome(outcome extractOutcome, cleanText string) string {
	if outcome == outcomeTitleOnly {
		return ""
	}
	return cleanText
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
