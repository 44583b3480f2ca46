package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Ham12-3/news-bot/internal/briefing"
	"github.com/Ham12-3/news-bot/internal/cli"
	"github.com/Ham12-3/news-bot/internal/globaltime"
)

func runBrief(args []string) int {
	fs := flag.NewFlagSet("brief", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	scope := fs.String("scope", briefing.ScopeGlobal, "Briefing scope: global or user:<uuid>")
	dateArg := fs.String("date", "", "Briefing day as YYYY-MM-DD (defaults to today, UTC)")
	force := fs.Bool("force", false, "Generate even when a briefing for the day exists")
	asJSON := fs.Bool("json", false, "Emit JSON instead of text output")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	date := globaltime.UTC()
	if strings.TrimSpace(*dateArg) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(*dateArg))
		if err != nil {
			fmt.Fprintln(os.Stderr, "--date must be YYYY-MM-DD")
			return 2
		}
		date = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Brief failed: %v\n", err)
		return 1
	}
	defer rt.close()

	svc := briefing.NewService(rt.pool, rt.logger, briefing.Options{
		MaxItems:     rt.cfg.BriefingMaxItems,
		PerSourceCap: rt.cfg.BriefingPerSourceCap,
	})

	result, err := svc.Generate(ctx, *scope, date, *force)
	if err != nil {
		rt.logger.Error().Err(err).Str("scope", *scope).Msg("brief failed")
		fmt.Fprintf(os.Stderr, "Brief failed: %v\n", err)
		return 1
	}

	if *asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode briefing: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("brief briefing_id=%s scope=%s day=%s items=%d generated=%t\n",
		result.BriefingID,
		result.Scope,
		result.PeriodStart.Format("2006-01-02"),
		result.ItemCount,
		result.Generated,
	)
	if !result.Generated {
		fmt.Println("briefing for this day already existed; pass --force to regenerate")
	}
	return 0
}
