package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/globaltime"
	feedschema "github.com/Ham12-3/news-bot/schema"
)

const (
	redditTokenURL     = "https://www.reddit.com/api/v1/access_token"
	redditOAuthBaseURL = "https://oauth.reddit.com"
	redditTokenSlack   = 30 * time.Second
)

// RedditCredentials holds an installed-app client for the Reddit API. Empty
// credentials make the fetcher fall back to the unauthenticated JSON listing,
// which Reddit rate limits aggressively but serves without a token.
type RedditCredentials struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
}

func (c RedditCredentials) userAgent() string {
	if ua := strings.TrimSpace(c.UserAgent); ua != "" {
		return ua
	}
	return fetchUserAgent
}

func (c RedditCredentials) configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// RedditFetcher pulls hot submissions from a subreddit listing.
type RedditFetcher struct {
	client *http.Client
	creds  RedditCredentials

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewRedditFetcher(creds RedditCredentials) *RedditFetcher {
	return &RedditFetcher{
		client: newFetchClient(),
		creds:  creds,
	}
}

func (f *RedditFetcher) Type() string { return SourceTypeReddit }

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Author      string  `json:"author"`
	SelfText    string  `json:"selftext"`
	IsSelf      bool    `json:"is_self"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
}

func (f *RedditFetcher) Fetch(ctx context.Context, source db.Source, limit int) ([]feedschema.FeedItem, error) {
	subreddit, err := subredditFromURL(source.URL)
	if err != nil {
		return nil, err
	}

	listing, err := f.fetchListing(ctx, subreddit, limit)
	if err != nil {
		return nil, err
	}

	items := make([]feedschema.FeedItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if len(items) >= limit {
			break
		}
		item, ok := redditPostToItem(child.Data)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *RedditFetcher) fetchListing(ctx context.Context, subreddit string, limit int) (*redditListing, error) {
	base := "https://www.reddit.com"
	header := http.Header{"Accept": []string{"application/json"}}
	header.Set("User-Agent", f.creds.userAgent())

	if f.creds.configured() {
		token, err := f.token(ctx)
		if err != nil {
			return nil, err
		}
		base = redditOAuthBaseURL
		header.Set("Authorization", "Bearer "+token)
	}

	listingURL := fmt.Sprintf("%s/r/%s/hot.json?limit=%d&raw_json=1", base, url.PathEscape(subreddit), limit)
	body, err := fetchURL(ctx, f.client, listingURL, header)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var listing redditListing
	if err := json.NewDecoder(body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode subreddit listing r/%s: %w", subreddit, err)
	}
	return &listing, nil
}

// token returns a cached application-only access token, refreshing it via the
// client-credentials grant when it is close to expiry.
func (f *RedditFetcher) token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.accessToken != "" && globaltime.UTC().Before(f.tokenExpiry.Add(-redditTokenSlack)) {
		return f.accessToken, nil
	}

	form := url.Values{"grant_type": []string{"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, redditTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(f.creds.ClientID, f.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", f.creds.userAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request reddit token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request reddit token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode reddit token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("reddit token response contained no access_token")
	}

	f.accessToken = payload.AccessToken
	f.tokenExpiry = globaltime.UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return f.accessToken, nil
}

func subredditFromURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse subreddit url %q: %w", raw, err)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "r" && parts[1] != "" {
		return parts[1], nil
	}
	return "", fmt.Errorf("subreddit url %q must look like https://www.reddit.com/r/<name>", raw)
}

func redditPostToItem(post redditPost) (feedschema.FeedItem, bool) {
	title := strings.TrimSpace(post.Title)
	if post.ID == "" || title == "" || post.Stickied {
		return feedschema.FeedItem{}, false
	}

	item := feedschema.FeedItem{
		PayloadVersion: "v1",
		SourceType:     SourceTypeReddit,
		ExternalID:     post.ID,
		Title:          title,
		Kind:           "article",
	}

	// Self posts have no outbound link. Their canonical location is the
	// comments page and their body is the selftext.
	if post.IsSelf || strings.TrimSpace(post.URL) == "" {
		item.URL = "https://www.reddit.com" + post.Permalink
		item.Kind = "post"
	} else {
		item.URL = strings.TrimSpace(post.URL)
	}

	if author := strings.TrimSpace(post.Author); author != "" && author != "[deleted]" {
		item.Author = &author
	}
	if post.CreatedUTC > 0 {
		published := time.Unix(int64(post.CreatedUTC), 0).UTC().Format(time.RFC3339)
		item.PublishedAt = &published
	}
	if body := strings.TrimSpace(post.SelfText); body != "" {
		item.BodyText = &body
	}

	score := max(post.Score, 0)
	comments := max(post.NumComments, 0)
	ratio := post.UpvoteRatio
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	item.Score = &score
	item.CommentCount = &comments
	item.UpvoteRatio = &ratio
	return item, true
}
