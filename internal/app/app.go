package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Ham12-3/news-bot/internal/cli"
	"github.com/Ham12-3/news-bot/internal/config"
	"github.com/Ham12-3/news-bot/internal/db"
	"github.com/Ham12-3/news-bot/internal/logging"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "sources":
		return runSources(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "extract":
		return runExtract(args[1:])
	case "embed":
		return runEmbed(args[1:])
	case "cluster":
		return runCluster(args[1:])
	case "score":
		return runScore(args[1:])
	case "brief":
		return runBrief(args[1:])
	case "archive":
		return runArchive(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newsbot CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newsbot <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  migrate   Apply schema migrations")
	fmt.Fprintln(os.Stderr, "  sources   Sync or list the source registry (sources sync|list)")
	fmt.Fprintln(os.Stderr, "  ingest    Fetch sources and land raw items")
	fmt.Fprintln(os.Stderr, "  extract   Extract clean article text from new items")
	fmt.Fprintln(os.Stderr, "  embed     Generate embeddings for extracted items")
	fmt.Fprintln(os.Stderr, "  cluster   Assign items to dedup clusters (cluster sweep merges open clusters)")
	fmt.Fprintln(os.Stderr, "  score     Compute signal scores for pending items")
	fmt.Fprintln(os.Stderr, "  brief     Generate a daily briefing")
	fmt.Fprintln(os.Stderr, "  archive   Archive stale open clusters")
	fmt.Fprintln(os.Stderr, "  process   Run extract+embed+cluster+sweep+score in cycles")
	fmt.Fprintln(os.Stderr, "  serve     Start the Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newsbot <command> -h\" for command-specific flags.")
}

// runtime bundles the pieces every database-backed command needs.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

func (r *runtime) close() {
	if r != nil && r.pool != nil {
		_ = r.pool.Close()
	}
}

// newRuntime loads env overrides, config, logging and the database pool.
// Callers must close() the returned runtime.
func newRuntime(ctx context.Context, envLoader *cli.EnvLoader) (*runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, pool: pool}, nil
}
