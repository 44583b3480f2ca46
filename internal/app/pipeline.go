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
	"github.com/Ham12-3/news-bot/internal/extract"
	"github.com/Ham12-3/news-bot/internal/pipeline"
	"github.com/Ham12-3/news-bot/internal/scoring"
)

func runExtract(args []string) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	batch := fs.Int("batch", 50, "Maximum new items to extract")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batch <= 0 {
		fmt.Fprintln(os.Stderr, "--batch must be > 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Extract failed: %v\n", err)
		return 1
	}
	defer rt.close()

	svc := extract.NewService(rt.pool, rt.logger, extract.Options{})
	result, err := svc.ExtractPending(ctx, *batch)
	if err != nil {
		rt.logger.Error().Err(err).Int("batch", *batch).Msg("extract failed")
		fmt.Fprintf(os.Stderr, "Extract failed: %v\n", err)
		return 1
	}

	rt.logger.Info().
		Int("batch", *batch).
		Int("processed", result.Processed).
		Int("full_text", result.FullText).
		Int("title_only", result.TitleOnly).
		Int("failed", result.Failed).
		Msg("extract completed")
	fmt.Printf("extract processed=%d full_text=%d title_only=%d failed=%d batch=%d\n",
		result.Processed, result.FullText, result.TitleOnly, result.Failed, *batch)
	return 0
}

func runEmbed(args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	batch := fs.Int("batch", 200, "Maximum extracted items to embed")
	batchSize := fs.Int("batch-size", pipeline.DefaultEmbeddingBatchSize, "Embedding request batch size")
	endpoint := fs.String("endpoint", "", "Embedding HTTP endpoint (defaults to EMBEDDING_SERVICE_URL)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batch <= 0 {
		fmt.Fprintln(os.Stderr, "--batch must be > 0")
		return 2
	}
	if *batchSize <= 0 {
		fmt.Fprintln(os.Stderr, "--batch-size must be > 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
		return 1
	}
	defer rt.close()

	svc := newPipelineService(rt)
	result, err := svc.EmbedPending(ctx, embedOptionsFromRuntime(rt, *batch, *batchSize, *endpoint))
	if err != nil {
		rt.logger.Error().Err(err).Int("batch", *batch).Msg("embed failed")
		fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
		return 1
	}

	rt.logger.Info().
		Int("batch", *batch).
		Int("processed", result.Processed).
		Int("embedded", result.Embedded).
		Msg("embed completed")
	fmt.Printf("embed processed=%d embedded=%d batch=%d\n",
		result.Processed, result.Embedded, *batch)
	return 0
}

func runCluster(args []string) int {
	if len(args) > 0 && strings.EqualFold(strings.TrimSpace(args[0]), "sweep") {
		return runClusterSweep(args[1:])
	}

	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	batch := fs.Int("batch", 200, "Maximum unclustered items to process")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batch <= 0 {
		fmt.Fprintln(os.Stderr, "--batch must be > 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cluster failed: %v\n", err)
		return 1
	}
	defer rt.close()

	svc := newPipelineService(rt)
	result, err := svc.ClusterPending(ctx, *batch)
	if err != nil {
		rt.logger.Error().Err(err).Int("batch", *batch).Msg("cluster failed")
		fmt.Fprintf(os.Stderr, "Cluster failed: %v\n", err)
		return 1
	}

	rt.logger.Info().
		Int("batch", *batch).
		Int("processed", result.Processed).
		Int("exact_joins", result.ExactJoins).
		Int("similarity_joins", result.SimilarityJoins).
		Int("new_clusters", result.NewClusters).
		Int("embed_pending", result.EmbedPending).
		Msg("cluster completed")
	fmt.Printf("cluster processed=%d exact_joins=%d similarity_joins=%d new_clusters=%d embed_pending=%d batch=%d\n",
		result.Processed, result.ExactJoins, result.SimilarityJoins, result.NewClusters, result.EmbedPending, *batch)
	return 0
}

func runClusterSweep(args []string) int {
	fs := flag.NewFlagSet("cluster sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	maxMerges := fs.Int("max-merges", 100, "Maximum cluster merges in one sweep")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *maxMerges <= 0 {
		fmt.Fprintln(os.Stderr, "--max-merges must be > 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cluster sweep failed: %v\n", err)
		return 1
	}
	defer rt.close()

	svc := newPipelineService(rt)
	result, err := svc.SweepMerges(ctx, *maxMerges)
	if err != nil {
		rt.logger.Error().Err(err).Msg("cluster sweep failed")
		fmt.Fprintf(os.Stderr, "Cluster sweep failed: %v\n", err)
		return 1
	}

	rt.logger.Info().Int("merges", result.Merges).Msg("cluster sweep completed")
	fmt.Printf("cluster_sweep merges=%d max_merges=%d\n", result.Merges, *maxMerges)
	return 0
}

func runScore(args []string) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	batch := fs.Int("batch", 200, "Maximum items to score")
	rescore := fs.Bool("rescore-stale", false, "Also rescore clusters with new members since the last snapshot")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batch <= 0 {
		fmt.Fprintln(os.Stderr, "--batch must be > 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Score failed: %v\n", err)
		return 1
	}
	defer rt.close()

	svc, err := newScoringService(rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Score failed: %v\n", err)
		return 1
	}

	result, err := svc.ScorePending(ctx, *batch)
	if err != nil {
		rt.logger.Error().Err(err).Int("batch", *batch).Msg("score failed")
		fmt.Fprintf(os.Stderr, "Score failed: %v\n", err)
		return 1
	}

	if *rescore {
		stale, err := svc.RescoreStale(ctx, *batch)
		if err != nil {
			rt.logger.Error().Err(err).Msg("rescore failed")
			fmt.Fprintf(os.Stderr, "Rescore failed: %v\n", err)
			return 1
		}
		result.Processed += stale.Processed
		result.Scored += stale.Scored
		result.Failed += stale.Failed
	}

	rt.logger.Info().
		Int("batch", *batch).
		Int("processed", result.Processed).
		Int("scored", result.Scored).
		Int("failed", result.Failed).
		Msg("score completed")
	fmt.Printf("score processed=%d scored=%d failed=%d batch=%d\n",
		result.Processed, result.Scored, result.Failed, *batch)
	return 0
}

func runArchive(args []string) int {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "Archive open clusters with no activity for this long")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be > 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Archive failed: %v\n", err)
		return 1
	}
	defer rt.close()

	svc := newPipelineService(rt)
	archived, err := svc.ArchiveStale(ctx, *olderThan)
	if err != nil {
		rt.logger.Error().Err(err).Msg("archive failed")
		fmt.Fprintf(os.Stderr, "Archive failed: %v\n", err)
		return 1
	}

	rt.logger.Info().Int("archived", archived).Dur("older_than", *olderThan).Msg("archive completed")
	fmt.Printf("archive archived=%d older_than=%s\n", archived, olderThan)
	return 0
}

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	extractBatch := fs.Int("extract-batch", 50, "Items to extract per cycle")
	embedBatch := fs.Int("embed-batch", 200, "Items to embed per cycle")
	clusterBatch := fs.Int("cluster-batch", 200, "Items to cluster per cycle")
	scoreBatch := fs.Int("score-batch", 200, "Items to score per cycle")
	maxMerges := fs.Int("max-merges", 100, "Cluster merges per sweep")
	maxCycles := fs.Int("cycles", 25, "Maximum pipeline cycles before giving up")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	for name, value := range map[string]int{
		"--extract-batch": *extractBatch,
		"--embed-batch":   *embedBatch,
		"--cluster-batch": *clusterBatch,
		"--score-batch":   *scoreBatch,
		"--max-merges":    *maxMerges,
		"--cycles":        *maxCycles,
	} {
		if value <= 0 {
			fmt.Fprintf(os.Stderr, "%s must be > 0\n", name)
			return 2
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := newRuntime(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		return 1
	}
	defer rt.close()

	extractSvc := extract.NewService(rt.pool, rt.logger, extract.Options{})
	pipelineSvc := newPipelineService(rt)
	scoringSvc, err := newScoringService(rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		return 1
	}

	cyclesRun := 0
	drained := false
	embeddingDown := false

	for cycle := 1; cycle <= *maxCycles; cycle++ {
		extractResult, err := extractSvc.ExtractPending(ctx, *extractBatch)
		if err != nil {
			rt.logger.Error().Err(err).Int("cycle", cycle).Msg("extract stage failed")
			fmt.Fprintf(os.Stderr, "Process failed during extract cycle %d: %v\n", cycle, err)
			return 1
		}

		// The embedding backend being down is not fatal: clustering
		// falls back to exact matches and singleton clusters, and the
		// sweep catches up once vectors arrive.
		embedResult, err := pipelineSvc.EmbedPending(ctx, embedOptionsFromRuntime(rt, *embedBatch, pipeline.DefaultEmbeddingBatchSize, ""))
		if err != nil {
			if !errors.Is(err, pipeline.ErrEmbeddingUnavailable) {
				rt.logger.Error().Err(err).Int("cycle", cycle).Msg("embed stage failed")
				fmt.Fprintf(os.Stderr, "Process failed during embed cycle %d: %v\n", cycle, err)
				return 1
			}
			embeddingDown = true
			rt.logger.Warn().Err(err).Int("cycle", cycle).Msg("embedding backend unavailable, continuing degraded")
		}

		clusterResult, err := pipelineSvc.ClusterPending(ctx, *clusterBatch)
		if err != nil {
			rt.logger.Error().Err(err).Int("cycle", cycle).Msg("cluster stage failed")
			fmt.Fprintf(os.Stderr, "Process failed during cluster cycle %d: %v\n", cycle, err)
			return 1
		}

		sweepResult, err := pipelineSvc.SweepMerges(ctx, *maxMerges)
		if err != nil {
			rt.logger.Error().Err(err).Int("cycle", cycle).Msg("sweep stage failed")
			fmt.Fprintf(os.Stderr, "Process failed during sweep cycle %d: %v\n", cycle, err)
			return 1
		}

		scoreResult, err := scoringSvc.ScorePending(ctx, *scoreBatch)
		if err != nil {
			rt.logger.Error().Err(err).Int("cycle", cycle).Msg("score stage failed")
			fmt.Fprintf(os.Stderr, "Process failed during score cycle %d: %v\n", cycle, err)
			return 1
		}

		cyclesRun = cycle
		fmt.Printf("cycle=%d extracted=%d embedded=%d clustered=%d merges=%d scored=%d\n",
			cycle, extractResult.Processed, embedResult.Embedded, clusterResult.Processed, sweepResult.Merges, scoreResult.Scored)

		if extractResult.Processed == 0 && embedResult.Processed == 0 &&
			clusterResult.Processed == 0 && sweepResult.Merges == 0 && scoreResult.Processed == 0 {
			drained = true
			break
		}
	}

	rt.logger.Info().
		Int("cycles", cyclesRun).
		Bool("drained", drained).
		Bool("embedding_down", embeddingDown).
		Msg("process completed")
	fmt.Printf("process_total cycles=%d drained=%t embedding_down=%t\n", cyclesRun, drained, embeddingDown)

	if !drained {
		fmt.Fprintf(os.Stderr, "Process stopped after max cycles (%d) before draining queue; rerun with higher --cycles or batches\n", *maxCycles)
		return 1
	}
	return 0
}

func newPipelineService(rt *runtime) *pipeline.Service {
	return pipeline.NewService(rt.pool, rt.logger, pipeline.Options{
		SimilarityThreshold: rt.cfg.SimilarityThreshold,
		SimilarityWindow:    time.Duration(rt.cfg.SimilarityWindowHours) * time.Hour,
		ExactLookback:       time.Duration(rt.cfg.ExactLookbackDays) * 24 * time.Hour,
	})
}

func newScoringService(rt *runtime) (*scoring.Service, error) {
	var profile *scoring.Profile
	if path := strings.TrimSpace(rt.cfg.InterestProfileFile); path != "" {
		loaded, err := scoring.LoadProfile(path)
		if err != nil {
			return nil, fmt.Errorf("load interest profile: %w", err)
		}
		profile = loaded
	}

	return scoring.NewService(rt.pool, rt.logger, scoring.Options{
		CrossSourceSaturation: rt.cfg.CrossSourceSaturation,
		VelocityWindow:        time.Duration(rt.cfg.VelocityWindowHours) * time.Hour,
		NoveltyLookback:       time.Duration(rt.cfg.NoveltyLookbackDays) * 24 * time.Hour,
		Profile:               profile,
	}), nil
}

func embedOptionsFromRuntime(rt *runtime, limit, batchSize int, endpointOverride string) pipeline.EmbedOptions {
	endpoint := strings.TrimSpace(endpointOverride)
	if endpoint == "" {
		endpoint = rt.cfg.EmbeddingServiceURL
	}
	return pipeline.EmbedOptions{
		Limit:          limit,
		BatchSize:      batchSize,
		Endpoint:       endpoint,
		Model:          rt.cfg.EmbeddingModel,
		Dim:            rt.cfg.EmbeddingDim,
		RequestTimeout: rt.cfg.EmbeddingTimeout,
		MaxRetries:     rt.cfg.EmbeddingMaxRetries,
	}
}
