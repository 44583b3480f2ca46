package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Ham12-3/news-bot/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

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
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer rt.close()

	if err := rt.pool.DB().PingContext(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("database ping failed")
		fmt.Fprintf(os.Stderr, "Database ping failed: %v\n", err)
		return 1
	}

	var itemCount int64
	if err := rt.pool.QueryRow(ctx, `SELECT COUNT(*) FROM news.raw_items`).Scan(&itemCount); err != nil {
		rt.logger.Error().Err(err).Msg("schema check failed")
		fmt.Fprintf(os.Stderr, "Schema check failed: %v\n", err)
		return 1
	}

	rt.logger.Info().Int64("raw_items", itemCount).Msg("health check passed")
	fmt.Printf("ok raw_items=%d\n", itemCount)
	return 0
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Migrations run as part of pool initialization: pre SQL, AutoMigrate,
	// post SQL.
	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migrate failed: %v\n", err)
		return 1
	}
	defer rt.close()

	rt.logger.Info().Msg("migrations applied")
	fmt.Println("migrations applied")
	return 0
}
