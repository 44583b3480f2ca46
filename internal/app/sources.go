package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Ham12-3/news-bot/internal/cli"
	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/ingest"
)

func runSources(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: newsbot sources <sync|list> [flags]")
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "sync":
		return runSourcesSync(args[1:])
	case "list":
		return runSourcesList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown sources subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: newsbot sources <sync|list> [flags]")
		return 2
	}
}

func runSourcesSync(args []string) int {
	fs := flag.NewFlagSet("sources sync", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	file := fs.String("file", "", "Sources YAML file (defaults to SOURCES_FILE)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sources sync failed: %v\n", err)
		return 1
	}
	defer rt.close()

	path := strings.TrimSpace(*file)
	if path == "" {
		path = rt.cfg.SourcesFile
	}

	svc := newIngestService(rt)
	result, err := svc.SyncSources(ctx, path)
	if err != nil {
		rt.logger.Error().Err(err).Str("file", path).Msg("sources sync failed")
		fmt.Fprintf(os.Stderr, "Sources sync failed: %v\n", err)
		return 1
	}

	fmt.Printf("sources_sync created=%d updated=%d disabled=%d file=%s\n",
		result.Created, result.Updated, result.Disabled, path)
	return 0
}

func runSourcesList(args []string) int {
	fs := flag.NewFlagSet("sources list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Second, "Command timeout")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sources list failed: %v\n", err)
		return 1
	}
	defer rt.close()

	sources, err := listSources(ctx, rt.pool)
	if err != nil {
		rt.logger.Error().Err(err).Msg("sources list failed")
		fmt.Fprintf(os.Stderr, "Sources list failed: %v\n", err)
		return 1
	}

	if *asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(sources); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode sources: %v\n", err)
			return 1
		}
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tTIER\tENABLED\tLAST FETCHED\tURL")
	for _, src := range sources {
		lastFetched := "-"
		if src.LastFetchedAt != nil {
			lastFetched = src.LastFetchedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%s\n",
			src.Name, src.Type, src.CredibilityTier, src.Enabled, lastFetched, src.URL)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render sources table: %v\n", err)
		return 1
	}
	return 0
}

func listSources(ctx context.Context, pool *db.Pool) ([]db.Source, error) {
	rows, err := pool.Query(ctx, `
		SELECT source_id, type, name, url, credibility_tier, enabled, fetch_interval_sec, last_fetched_at
		FROM news.sources
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []db.Source
	for rows.Next() {
		var src db.Source
		if err := rows.Scan(
			&src.SourceID, &src.Type, &src.Name, &src.URL,
			&src.CredibilityTier, &src.Enabled, &src.FetchIntervalSec, &src.LastFetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

func newIngestService(rt *runtime) *ingest.Service {
	return ingest.NewService(rt.pool, rt.logger,
		ingest.Options{MaxItemsPerSource: rt.cfg.IngestMaxItemsPerSource},
		ingest.NewRSSFetcher(),
		ingest.NewHackerNewsFetcher(),
		ingest.NewRedditFetcher(ingest.RedditCredentials{
			ClientID:     rt.cfg.RedditClientID,
			ClientSecret: rt.cfg.RedditClientSecret,
			UserAgent:    rt.cfg.RedditUserAgent,
		}),
	)
}
