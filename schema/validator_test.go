package feedschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateFeedItemPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source_type":"api_hn",
		"external_id":"41234567",
		"title":"Show HN: A vector-backed news deduplicator",
		"url":"https://example.com/story/41234567",
		"kind":"post",
		"published_at":"2026-08-27T14:00:00Z",
		"score":128,
		"comment_count":42
	}`)

	item, err := ValidateFeedItemPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if item.SourceType != "api_hn" {
		t.Fatalf("expected source_type=api_hn, got %q", item.SourceType)
	}
	if item.Score == nil || *item.Score != 128 {
		t.Fatalf("expected score=128, got %v", item.Score)
	}
}

func TestValidateFeedItemPayload_MissingRequired(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source_type":"rss",
		"title":"Missing external id",
		"url":"https://example.com/a"
	}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for missing external_id")
	}
}

func TestValidateFeedItemPayload_WhitespaceTitle(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source_type":"rss",
		"external_id":"abc",
		"title":"   ",
		"url":"https://example.com/a"
	}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only title")
	}
	if !strings.Contains(err.Error(), "title must not be empty") {
		t.Fatalf("expected title semantic error, got: %v", err)
	}
}

func TestValidateFeedItemPayload_RejectsUnknownSourceType(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source_type":"carrier_pigeon",
		"external_id":"abc",
		"title":"ok",
		"url":"https://example.com/a"
	}`)

	if _, err := ValidateFeedItemPayload(payload); err == nil {
		t.Fatalf("expected validation to fail for unknown source_type")
	}
}

func TestValidateFeedItemPayload_RejectsUpvoteRatioOutsideReddit(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source_type":"api_hn",
		"external_id":"1",
		"title":"ok",
		"url":"https://example.com/a",
		"upvote_ratio":0.9
	}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil || !strings.Contains(err.Error(), "upvote_ratio") {
		t.Fatalf("expected upvote_ratio semantic error, got: %v", err)
	}
}

func TestValidateFeedItemPayload_RejectsTrailingContent(t *testing.T) {
	payload := json.RawMessage(`{"payload_version":"v1","source_type":"rss","external_id":"a","title":"t","url":"https://example.com"} trailing`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil || !strings.Contains(err.Error(), "trailing content") {
		t.Fatalf("expected trailing content error, got: %v", err)
	}
}

func TestValidateFeedItemPayload_RejectsBadScheme(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source_type":"rss",
		"external_id":"abc",
		"title":"ok",
		"url":"ftp://example.com/a"
	}`)

	_, err := ValidateFeedItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for non-http scheme")
	}
}
