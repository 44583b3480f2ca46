package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Ham12-3/news-bot/internal/briefing"
	"github.com/Ham12-3/news-bot/internal/cli"
	"github.com/Ham12-3/news-bot/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addr := fs.String("addr", "", "Listen address (defaults to HTTP_ADDR)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
		return 1
	}
	defer rt.close()

	listenAddr := strings.TrimSpace(*addr)
	if listenAddr == "" {
		listenAddr = rt.cfg.HTTPAddr
	}

	briefingSvc := briefing.NewService(rt.pool, rt.logger, briefing.Options{
		MaxItems:     rt.cfg.BriefingMaxItems,
		PerSourceCap: rt.cfg.BriefingPerSourceCap,
	})

	server := httpapi.NewServer(rt.pool, briefingSvc, rt.logger, httpapi.Options{
		Addr:           listenAddr,
		AllowedOrigins: rt.cfg.CORSAllowedOriginsList(),
	})

	if err := server.Start(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("server exited with error")
		fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
		return 1
	}
	return 0
}
