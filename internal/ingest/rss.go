package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/Ham12-3/news-bot/internal/db"
	feedschema "github.com/Ham12-3/news-bot/schema"
)

// RSSFetcher pulls items from RSS and Atom feeds.
type RSSFetcher struct {
	client *http.Client
	parser *gofeed.Parser
}

func NewRSSFetcher() *RSSFetcher {
	return &RSSFetcher{
		client: newFetchClient(),
		parser: gofeed.NewParser(),
	}
}

func (f *RSSFetcher) Type() string { return SourceTypeRSS }

func (f *RSSFetcher) Fetch(ctx context.Context, source db.Source, limit int) ([]feedschema.FeedItem, error) {
	body, err := fetchURL(ctx, f.client, source.URL, http.Header{
		"Accept": []string{"application/rss+xml, application/atom+xml, application/xml, text/xml"},
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	feed, err := f.parser.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source.URL, err)
	}

	items := make([]feedschema.FeedItem, 0, min(limit, len(feed.Items)))
	for _, entry := range feed.Items {
		if len(items) >= limit {
			break
		}
		item, ok := feedEntryToItem(entry)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func feedEntryToItem(entry *gofeed.Item) (feedschema.FeedItem, bool) {
	if entry == nil {
		return feedschema.FeedItem{}, false
	}
	link := strings.TrimSpace(entry.Link)
	title := strings.TrimSpace(entry.Title)
	if link == "" || title == "" {
		return feedschema.FeedItem{}, false
	}

	externalID := strings.TrimSpace(entry.GUID)
	if externalID == "" {
		externalID = link
	}

	item := feedschema.FeedItem{
		PayloadVersion: "v1",
		SourceType:     SourceTypeRSS,
		ExternalID:     externalID,
		Title:          title,
		URL:            link,
		Kind:           "article",
	}

	if published := entryPublished(entry); published != nil {
		formatted := published.UTC().Format(time.RFC3339)
		item.PublishedAt = &formatted
	}
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		if name := strings.TrimSpace(entry.Authors[0].Name); name != "" {
			item.Author = &name
		}
	}
	if body := strings.TrimSpace(firstNonEmpty(entry.Content, entry.Description)); body != "" {
		item.BodyText = &body
	}
	for _, category := range entry.Categories {
		if tag := strings.TrimSpace(category); tag != "" {
			item.Tags = append(item.Tags, tag)
		}
	}
	return item, true
}

func entryPublished(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed
	}
	return entry.UpdatedParsed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
