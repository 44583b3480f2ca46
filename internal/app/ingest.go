package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Ham12-3/news-bot/internal/cli"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	sourceName := fs.String("source", "", "Ingest a single source by name")
	all := fs.Bool("all", false, "Ingest every enabled source")
	force := fs.Bool("force", false, "Ignore per-source fetch intervals")
	limit := fs.Int("limit", 0, "Maximum items per source (defaults to INGEST_MAX_ITEMS_PER_SOURCE)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 0")
		return 2
	}
	if strings.TrimSpace(*sourceName) == "" && !*all {
		fmt.Fprintln(os.Stderr, "pass --source <name> or --all")
		return 2
	}
	if strings.TrimSpace(*sourceName) != "" && *all {
		fmt.Fprintln(os.Stderr, "--source and --all are mutually exclusive")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	defer rt.close()

	if *limit > 0 {
		rt.cfg.IngestMaxItemsPerSource = *limit
	}
	svc := newIngestService(rt)

	if *all {
		res, err := svc.IngestAll(ctx, *force)
		if err != nil {
			rt.logger.Error().Err(err).Msg("ingest failed")
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			return 1
		}
		fmt.Printf("ingest sources=%d skipped=%d fetched=%d inserted=%d duplicates=%d invalid=%d failed=%d\n",
			res.Sources, res.Skipped, res.Fetched, res.Inserted, res.Duplicates, res.Invalid, res.Failed)
		if res.Failed > 0 {
			return 1
		}
		return 0
	}

	res, err := svc.IngestSource(ctx, *sourceName, *force)
	if err != nil {
		rt.logger.Error().Err(err).Str("source", *sourceName).Msg("ingest failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	fmt.Printf("ingest source=%s fetched=%d inserted=%d duplicates=%d invalid=%d\n",
		*sourceName, res.Fetched, res.Inserted, res.Duplicates, res.Invalid)
	return 0
}
