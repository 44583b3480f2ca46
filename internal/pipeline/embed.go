package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
)

const (
	DefaultEmbeddingEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultEmbeddingModel          = "text-embedding-ada-002"
	DefaultEmbeddingDim            = 1536
	DefaultEmbeddingBatchSize      = 32
	DefaultEmbeddingRequestTimeout = 20 * time.Second
	DefaultEmbeddingMaxRetries     = 3

	embeddingRetryBaseDelay = 500 * time.Millisecond
)

type EmbedOptions struct {
	Limit          int
	BatchSize      int
	Endpoint       string
	Model          string
	Dim            int
	RequestTimeout time.Duration
	MaxRetries     int
}

type EmbedResult struct {
	Processed int
	Embedded  int
}

type embeddingPendingItem struct {
	RawItemID string
	Title     string
	CleanText string
}

type embedRequest struct {
	Texts []string `json:"texts,omitempty"`
	Input []string `json:"input,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbedPending embeds extracted items that have no stored vector yet.
// Backend failures surface as ErrEmbeddingUnavailable after retries so the
// caller can keep the pipeline moving with singleton clusters.
func (s *Service) EmbedPending(ctx context.Context, options EmbedOptions) (EmbedResult, error) {
	if s == nil || s.pool == nil {
		return EmbedResult{}, fmt.Errorf("pipeline service is not initialized")
	}

	opts := normalizeEmbedOptions(options)
	if opts.Limit <= 0 {
		return EmbedResult{}, nil
	}

	var result EmbedResult
	for result.Processed < opts.Limit {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		remaining := opts.Limit - result.Processed
		batchSize := min(opts.BatchSize, remaining)

		items, err := selectPendingEmbeddingItems(ctx, s.pool, batchSize)
		if err != nil {
			return result, err
		}
		if len(items) == 0 {
			break
		}

		texts := make([]string, 0, len(items))
		for _, item := range items {
			texts = append(texts, embeddingInput(item))
		}

		vectors, err := requestEmbeddingsWithRetry(ctx, opts, texts)
		if err != nil {
			return result, err
		}
		if len(vectors) != len(items) {
			return result, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(items), len(vectors))
		}

		for i, item := range items {
			result.Processed++

			vectorLiteral, err := toVectorLiteral(vectors[i], opts.Dim)
			if err != nil {
				return result, fmt.Errorf("raw_item_id=%s invalid embedding vector: %w", item.RawItemID, err)
			}

			if err := upsertItemEmbedding(ctx, s.pool, item.RawItemID, opts.Model, opts.Dim, vectorLiteral, globaltime.UTC()); err != nil {
				return result, err
			}
			result.Embedded++
		}
	}

	return result, nil
}

func normalizeEmbedOptions(opts EmbedOptions) EmbedOptions {
	normalized := opts
	if normalized.Limit < 0 {
		normalized.Limit = 0
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = DefaultEmbeddingBatchSize
	}
	if normalized.BatchSize > normalized.Limit && normalized.Limit > 0 {
		normalized.BatchSize = normalized.Limit
	}
	if strings.TrimSpace(normalized.Endpoint) == "" {
		normalized.Endpoint = DefaultEmbeddingEndpoint
	}
	normalized.Endpoint = normalizeEmbeddingEndpoint(normalized.Endpoint)
	if strings.TrimSpace(normalized.Model) == "" {
		normalized.Model = DefaultEmbeddingModel
	}
	if normalized.Dim <= 0 {
		normalized.Dim = DefaultEmbeddingDim
	}
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = DefaultEmbeddingRequestTimeout
	}
	if normalized.MaxRetries < 0 {
		normalized.MaxRetries = DefaultEmbeddingMaxRetries
	}
	return normalized
}

func selectPendingEmbeddingItems(ctx context.Context, pool *db.Pool, limit int) ([]embeddingPendingItem, error) {
	const q = `
SELECT r.raw_item_id, r.title, r.clean_text
FROM news.raw_items r
WHERE r.status <> 'new'
  AND NOT EXISTS (
	SELECT 1
	FROM news.item_embeddings e
	WHERE e.raw_item_id = r.raw_item_id
)
ORDER BY r.fetched_at, r.raw_item_id
LIMIT $1
`

	rows, err := pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select items pending embedding: %w", err)
	}
	defer rows.Close()

	items := make([]embeddingPendingItem, 0, limit)
	for rows.Next() {
		var item embeddingPendingItem
		if err := rows.Scan(&item.RawItemID, &item.Title, &item.CleanText); err != nil {
			return nil, fmt.Errorf("scan item pending embedding: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items pending embedding: %w", err)
	}
	return items, nil
}

type sqlExecer interface {
	Exec(ctx context.Context, query string, args ...any) (db.CommandTag, error)
}

// upsertItemEmbedding writes the vector keyed by item id. Regenerating
// replaces the stored row, so a model or dimension change takes effect on
// the next embed pass.
func upsertItemEmbedding(ctx context.Context, pool sqlExecer, rawItemID, model string, dim int, vectorLiteral string, now time.Time) error {
	const q = `
INSERT INTO news.item_embeddings (raw_item_id, model, dim, embedding, created_at)
VALUES ($1, $2, $3, $4::vector, $5)
ON CONFLICT (raw_item_id) DO UPDATE
SET model = EXCLUDED.model,
	dim = EXCLUDED.dim,
	embedding = EXCLUDED.embedding,
	created_at = EXCLUDED.created_at
`
	if _, err := pool.Exec(ctx, q, rawItemID, model, dim, vectorLiteral, now); err != nil {
		return fmt.Errorf("upsert item embedding raw_item_id=%s: %w", rawItemID, err)
	}

	// Items that were clustered as singletons while the backend was down
	// become eligible for the merge sweep once their vector lands.
	if _, err := pool.Exec(ctx, `
UPDATE news.raw_items
SET embed_pending = FALSE, updated_at = $2
WHERE raw_item_id = $1 AND embed_pending
`, rawItemID, now); err != nil {
		return fmt.Errorf("clear embed_pending raw_item_id=%s: %w", rawItemID, err)
	}
	return nil
}

func embeddingInput(item embeddingPendingItem) string {
	title := strings.TrimSpace(item.Title)
	body := strings.TrimSpace(item.CleanText)
	switch {
	case title == "" && body == "":
		return ""
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + "\n\n" + body
	}
}

func requestEmbeddingsWithRetry(ctx context.Context, opts EmbedOptions, texts []string) ([][]float64, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := embeddingRetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vectors, err := requestEmbeddings(ctx, opts, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
}

func requestEmbeddings(ctx context.Context, opts EmbedOptions, texts []string) ([][]float64, error) {
	payload := embedRequest{Texts: texts}

	parsedEndpoint, err := url.Parse(opts.Endpoint)
	if err == nil && strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings") {
		payload = embedRequest{Input: texts}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding response missing vectors")
	}

	return vectors, nil
}

func normalizeEmbeddingEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEmbeddingEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}

func toVectorLiteral(values []float64, dim int) (string, error) {
	if len(values) != dim {
		return "", fmt.Errorf("expected %d dimensions, got %d", dim, len(values))
	}

	var builder strings.Builder
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
