package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ham12-3/news-bot/internal/db"
	feedschema "github.com/Ham12-3/news-bot/schema"
)

// DefaultHackerNewsBaseURL is the Firebase API root used when a source does
// not override it.
const DefaultHackerNewsBaseURL = "https://hacker-news.firebaseio.com/v0"

// HackerNewsFetcher pulls the current top stories from the Hacker News
// Firebase API.
type HackerNewsFetcher struct {
	client *http.Client
}

func NewHackerNewsFetcher() *HackerNewsFetcher {
	return &HackerNewsFetcher{client: newFetchClient()}
}

func (f *HackerNewsFetcher) Type() string { return SourceTypeHackerNews }

type hackerNewsItem struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	By          string `json:"by"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Time        int64  `json:"time"`
	Deleted     bool   `json:"deleted"`
	Dead        bool   `json:"dead"`
}

func (f *HackerNewsFetcher) Fetch(ctx context.Context, source db.Source, limit int) ([]feedschema.FeedItem, error) {
	base := strings.TrimRight(source.URL, "/")
	if base == "" {
		base = DefaultHackerNewsBaseURL
	}

	ids, err := f.fetchTopStoryIDs(ctx, base)
	if err != nil {
		return nil, err
	}

	items := make([]feedschema.FeedItem, 0, limit)
	for _, id := range ids {
		if len(items) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		story, err := f.fetchStory(ctx, base, id)
		if err != nil {
			return nil, err
		}
		if story == nil {
			continue
		}
		items = append(items, hackerNewsStoryToItem(story))
	}
	return items, nil
}

func (f *HackerNewsFetcher) fetchTopStoryIDs(ctx context.Context, base string) ([]int64, error) {
	body, err := fetchURL(ctx, f.client, base+"/topstories.json", nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var ids []int64
	if err := json.NewDecoder(body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode top stories: %w", err)
	}
	return ids, nil
}

// fetchStory returns nil for stories that should be skipped: deleted, dead,
// non-story types, or the occasional null the API serves for fresh ids.
func (f *HackerNewsFetcher) fetchStory(ctx context.Context, base string, id int64) (*hackerNewsItem, error) {
	body, err := fetchURL(ctx, f.client, fmt.Sprintf("%s/item/%d.json", base, id), nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var story *hackerNewsItem
	if err := json.NewDecoder(body).Decode(&story); err != nil {
		return nil, fmt.Errorf("decode story %d: %w", id, err)
	}
	if story == nil || story.Deleted || story.Dead || story.Type != "story" {
		return nil, nil
	}
	if strings.TrimSpace(story.Title) == "" {
		return nil, nil
	}
	return story, nil
}

func hackerNewsStoryToItem(story *hackerNewsItem) feedschema.FeedItem {
	item := feedschema.FeedItem{
		PayloadVersion: "v1",
		SourceType:     SourceTypeHackerNews,
		ExternalID:     strconv.FormatInt(story.ID, 10),
		Title:          strings.TrimSpace(story.Title),
		Kind:           "article",
	}

	// Ask HN and Show HN posts carry no outbound link. They are discussion
	// posts anchored at the HN item page.
	if url := strings.TrimSpace(story.URL); url != "" {
		item.URL = url
	} else {
		item.URL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
		item.Kind = "post"
	}

	if by := strings.TrimSpace(story.By); by != "" {
		item.Author = &by
	}
	if story.Time > 0 {
		published := time.Unix(story.Time, 0).UTC().Format(time.RFC3339)
		item.PublishedAt = &published
	}
	if text := strings.TrimSpace(story.Text); text != "" {
		item.BodyText = &text
	}

	score := story.Score
	comments := story.Descendants
	item.Score = &score
	item.CommentCount = &comments
	return item
}
