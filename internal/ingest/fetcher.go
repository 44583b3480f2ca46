package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Ham12-3/news-bot/internal/db"
	feedschema "github.com/Ham12-3/news-bot/schema"
)

const (
	fetchUserAgent     = "newsbot/1.0 (+https://github.com/Ham12-3/news-bot)"
	defaultFetchLimit  = 50
	fetchClientTimeout = 30 * time.Second
)

// Fetcher pulls the latest items from one upstream source and returns them as
// validated intake payloads.
type Fetcher interface {
	// Type matches sources.type for the sources this fetcher serves.
	Type() string
	Fetch(ctx context.Context, source db.Source, limit int) ([]feedschema.FeedItem, error)
}

func newFetchClient() *http.Client {
	return &http.Client{Timeout: fetchClientTimeout}
}

func fetchURL(ctx context.Context, client *http.Client, url string, header http.Header) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	for key, values := range header {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
