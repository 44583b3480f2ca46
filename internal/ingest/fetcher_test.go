package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ham12-3/news-bot/internal/db"
)

func TestRSSFetcher_Fetch(t *testing.T) {
	t.Parallel()

	const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Wire</title>
    <item>
      <title>Chip maker announces new fab</title>
      <link>https://example.com/news/fab?utm_source=rss</link>
      <guid>https://example.com/news/fab</guid>
      <pubDate>Thu, 27 Aug 2026 09:00:00 GMT</pubDate>
      <description>A new fabrication plant was announced today.</description>
      <category>hardware</category>
    </item>
    <item>
      <title>Untitled entry should survive</title>
      <link>https://example.com/news/second</link>
    </item>
    <item>
      <title></title>
      <link>https://example.com/news/skipped</link>
    </item>
  </channel>
</rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != fetchUserAgent {
			t.Errorf("unexpected user agent %q", got)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	fetcher := NewRSSFetcher()
	items, err := fetcher.Fetch(context.Background(), db.Source{URL: srv.URL}, 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.ExternalID != "https://example.com/news/fab" {
		t.Fatalf("expected guid as external id, got %q", first.ExternalID)
	}
	if first.PublishedAt == nil || *first.PublishedAt != "2026-08-27T09:00:00Z" {
		t.Fatalf("unexpected published_at: %v", first.PublishedAt)
	}
	if first.BodyText == nil || *first.BodyText != "A new fabrication plant was announced today." {
		t.Fatalf("unexpected body: %v", first.BodyText)
	}
	if len(first.Tags) != 1 || first.Tags[0] != "hardware" {
		t.Fatalf("unexpected tags: %v", first.Tags)
	}

	if items[1].ExternalID != "https://example.com/news/second" {
		t.Fatalf("expected link fallback for missing guid, got %q", items[1].ExternalID)
	}
}

func TestRSSFetcher_Limit(t *testing.T) {
	t.Parallel()

	const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><title>a</title><link>https://example.com/a</link></item>
<item><title>b</title><link>https://example.com/b</link></item>
<item><title>c</title><link>https://example.com/c</link></item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	items, err := NewRSSFetcher().Fetch(context.Background(), db.Source{URL: srv.URL}, 2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected limit of 2 to apply, got %d items", len(items))
	}
}

func TestHackerNewsFetcher_Fetch(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/topstories.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[101, 102, 103, 104]`))
	})
	mux.HandleFunc("/item/101.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":101,"type":"story","title":"Linked story","url":"https://example.com/a","by":"alice","score":120,"descendants":40,"time":1787133600}`))
	})
	mux.HandleFunc("/item/102.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":102,"type":"story","title":"Ask HN: How do you test fetchers?","text":"Curious about approaches.","by":"bob","score":15,"descendants":9,"time":1787133700}`))
	})
	mux.HandleFunc("/item/103.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":103,"type":"job","title":"A job posting"}`))
	})
	mux.HandleFunc("/item/104.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	items, err := NewHackerNewsFetcher().Fetch(context.Background(), db.Source{URL: srv.URL}, 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items after filtering, got %d", len(items))
	}

	linked := items[0]
	if linked.ExternalID != "101" || linked.URL != "https://example.com/a" || linked.Kind != "article" {
		t.Fatalf("unexpected linked story: %+v", linked)
	}
	if linked.Score == nil || *linked.Score != 120 {
		t.Fatalf("expected score 120, got %v", linked.Score)
	}

	ask := items[1]
	if ask.Kind != "post" {
		t.Fatalf("expected Ask HN to be a post, got kind %q", ask.Kind)
	}
	if ask.URL != "https://news.ycombinator.com/item?id=102" {
		t.Fatalf("expected item page URL for Ask HN, got %q", ask.URL)
	}
	if ask.BodyText == nil || *ask.BodyText != "Curious about approaches." {
		t.Fatalf("expected selftext body, got %v", ask.BodyText)
	}
}

func TestRedditPostToItem(t *testing.T) {
	t.Parallel()

	link, ok := redditPostToItem(redditPost{
		ID:          "abc123",
		Title:       "Kernel 7.1 released",
		URL:         "https://example.com/kernel",
		Permalink:   "/r/linux/comments/abc123/kernel/",
		Author:      "carol",
		Score:       340,
		NumComments: 85,
		UpvoteRatio: 0.94,
		CreatedUTC:  1787133600,
	})
	if !ok {
		t.Fatalf("expected link post to convert")
	}
	if link.URL != "https://example.com/kernel" || link.Kind != "article" {
		t.Fatalf("unexpected link post: %+v", link)
	}
	if link.UpvoteRatio == nil || *link.UpvoteRatio != 0.94 {
		t.Fatalf("expected upvote ratio, got %v", link.UpvoteRatio)
	}

	self, ok := redditPostToItem(redditPost{
		ID:        "def456",
		Title:     "What changed in your stack this year?",
		IsSelf:    true,
		SelfText:  "Tell me about it.",
		Permalink: "/r/programming/comments/def456/what_changed/",
	})
	if !ok {
		t.Fatalf("expected self post to convert")
	}
	if self.Kind != "post" || self.URL != "https://www.reddit.com/r/programming/comments/def456/what_changed/" {
		t.Fatalf("unexpected self post: %+v", self)
	}

	if _, ok := redditPostToItem(redditPost{ID: "x", Title: "pinned", Stickied: true}); ok {
		t.Fatalf("expected stickied post to be skipped")
	}
}

func TestSubredditFromURL(t *testing.T) {
	t.Parallel()

	got, err := subredditFromURL("https://www.reddit.com/r/golang/")
	if err != nil {
		t.Fatalf("subredditFromURL: %v", err)
	}
	if got != "golang" {
		t.Fatalf("expected golang, got %q", got)
	}

	if _, err := subredditFromURL("https://www.reddit.com/user/someone"); err == nil {
		t.Fatalf("expected error for non-subreddit URL")
	}
}

func TestLoadSourceDefs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `sources:
  - name: Hacker News
    type: api_hn
    url: https://hacker-news.firebaseio.com/v0
    credibility_tier: 2
  - name: Example Wire
    type: rss
    url: https://example.com/feed.xml
    credibility_tier: 1
    fetch_interval_sec: 600
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sources file: %v", err)
	}

	defs, err := LoadSourceDefs(path)
	if err != nil {
		t.Fatalf("LoadSourceDefs: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(defs))
	}
	if defs[0].FetchIntervalSec != 900 {
		t.Fatalf("expected default fetch interval, got %d", defs[0].FetchIntervalSec)
	}
	if defs[1].Enabled == nil || *defs[1].Enabled {
		t.Fatalf("expected second source disabled")
	}
}

func TestLoadSourceDefs_RejectsBadTier(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `sources:
  - name: Broken
    type: rss
    url: https://example.com/feed.xml
    credibility_tier: 9
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sources file: %v", err)
	}

	if _, err := LoadSourceDefs(path); err == nil {
		t.Fatalf("expected tier validation error")
	}
}
