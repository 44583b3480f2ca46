package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Ham12-3/news-bot/internal/db"
)

type recordingExecer struct {
	queries []string
	args    [][]any
}

func (e *recordingExecer) Exec(_ context.Context, query string, args ...any) (db.CommandTag, error) {
	e.queries = append(e.queries, query)
	e.args = append(e.args, args)
	return db.NewCommandTag(1), nil
}

func TestUpsertItemEmbedding_ReplacesExistingVector(t *testing.T) {
	t.Parallel()

	execer := &recordingExecer{}
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if err := upsertItemEmbedding(context.Background(), execer, "item-1", "bge-m3", 1024, "[0.1,0.2]", now); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if len(execer.queries) != 2 {
		t.Fatalf("expected upsert plus embed_pending clear, got %d statements", len(execer.queries))
	}
	if !strings.Contains(execer.queries[0], "ON CONFLICT (raw_item_id) DO UPDATE") {
		t.Fatalf("regenerating must overwrite the stored row:\n%s", execer.queries[0])
	}
	if !strings.Contains(execer.queries[0], "embedding = EXCLUDED.embedding") {
		t.Fatalf("conflict branch must replace the vector:\n%s", execer.queries[0])
	}
	if !strings.Contains(execer.queries[1], "embed_pending = FALSE") {
		t.Fatalf("second statement must clear embed_pending:\n%s", execer.queries[1])
	}
	if got := execer.args[1][0]; got != "item-1" {
		t.Fatalf("embed_pending clear targeted %v, want item-1", got)
	}
}

func TestToVectorLiteral(t *testing.T) {
	t.Parallel()

	literal, err := toVectorLiteral([]float64{0.25, -1, 3.5}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if literal != "[0.25,-1,3.5]" {
		t.Fatalf("unexpected literal: %q", literal)
	}
}

func TestToVectorLiteral_DimensionMismatch(t *testing.T) {
	t.Parallel()

	if _, err := toVectorLiteral([]float64{1, 2}, 3); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestNormalizeEmbedOptions_Defaults(t *testing.T) {
	t.Parallel()

	opts := normalizeEmbedOptions(EmbedOptions{Limit: 10})
	if opts.BatchSize != 10 {
		t.Fatalf("batch size should clamp to limit, got %d", opts.BatchSize)
	}
	if opts.Model != DefaultEmbeddingModel {
		t.Fatalf("unexpected default model: %q", opts.Model)
	}
	if opts.Dim != DefaultEmbeddingDim {
		t.Fatalf("unexpected default dim: %d", opts.Dim)
	}
	if opts.MaxRetries != 0 {
		t.Fatalf("zero retries must stay zero, got %d", opts.MaxRetries)
	}
	if !strings.HasSuffix(opts.Endpoint, "/embed") {
		t.Fatalf("endpoint should default to /embed path: %q", opts.Endpoint)
	}
}

func TestNormalizeEmbeddingEndpoint(t *testing.T) {
	t.Parallel()

	if got := normalizeEmbeddingEndpoint("http://embedder:9000"); got != "http://embedder:9000/embed" {
		t.Fatalf("unexpected endpoint: %q", got)
	}
	if got := normalizeEmbeddingEndpoint("https://api.example.com/v1/embeddings"); got != "https://api.example.com/v1/embeddings" {
		t.Fatalf("explicit path must be preserved: %q", got)
	}
}

func TestEmbeddingInput(t *testing.T) {
	t.Parallel()

	got := embeddingInput(embeddingPendingItem{Title: "Title", CleanText: "Body text"})
	if got != "Title\n\nBody text" {
		t.Fatalf("unexpected embedding input: %q", got)
	}
	if got := embeddingInput(embeddingPendingItem{Title: " Title "}); got != "Title" {
		t.Fatalf("title-only input: %q", got)
	}
}
