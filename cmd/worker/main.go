package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"agent-workflow-engine/internal/config"
	"agent-workflow-engine/internal/domain/ports/adapter"
	"agent-workflow-engine/internal/infra/abort"
	aiAdapters "agent-workflow-engine/internal/infra/adapters/ai"
	"agent-workflow-engine/internal/infra/adapters/tools"
	pg "agent-workflow-engine/internal/infra/db/postgres"
	"agent-workflow-engine/internal/infra/logging"
	"agent-workflow-engine/internal/infra/metrics"
	red "agent-workflow-engine/internal/infra/redis"
	"agent-workflow-engine/internal/infra/scheduler"
	"agent-workflow-engine/internal/infra/worker"
	"agent-workflow-engine/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	bus := red.NewBus(redisClient)

	tm := pg.NewTxManager(pool)
	turnRepo := pg.NewTurnRepo(pool)
	jobRepo := pg.NewJobRepo(pool, tm)
	scheduledRepo := pg.NewScheduledRuleRepo(pool)
	recurringRepo := pg.NewRecurringRuleRepo(pool)

	aborts := abort.NewRegistry(logger)
	runner := buildRunner(ctx, cfg, logger)
	toolRegistry := tools.NewRegistry(
		tools.NewShellTool(aborts, 0),
		tools.NewHTTPFetchTool(),
	)

	turnUC := usecase.NewTurnUseCase(turnRepo, aborts, bus)
	streamUC := usecase.NewStreamUseCase(turnRepo, bus, cfg.Stream.IdleTimeout, cfg.Stream.RecheckEvery, logger)

	turnWorker := worker.NewTurnWorker(
		cfg.Worker.Host, cfg.Worker.TurnWorkers, cfg.Worker.EmptyPollBackoff, cfg.Worker.MaxSteps,
		turnRepo, bus, aborts, runner, toolRegistry, logger,
	)
	jobWorker := worker.NewJobWorker(
		cfg.Worker.Host, cfg.Worker.JobWorkers, cfg.Worker.EmptyPollBackoff,
		jobRepo, turnUC, streamUC, bus, logger,
	)

	scheduledPoller := scheduler.NewScheduledRulePoller(
		cfg.Worker.Host, cfg.Scheduler.ScheduledInterval, cfg.Scheduler.StalenessWindow,
		scheduledRepo, jobRepo, bus, logger,
	)
	recurringPoller := scheduler.NewRecurringRulePoller(
		cfg.Worker.Host, cfg.Scheduler.MinuteOffset, cfg.Scheduler.StalenessWindow,
		recurringRepo, jobRepo, bus, logger,
	)

	turnWorker.Start(ctx)
	jobWorker.Start(ctx)
	scheduledPoller.Start(ctx)
	recurringPoller.Start(ctx)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	done := make(chan struct{})
	go func() {
		scheduledPoller.Stop()
		recurringPoller.Stop()
		turnWorker.Wait()
		jobWorker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("workers drained")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out")
	}
}

// buildRunner picks the provider by configured key (OpenAI first, then
// Gemini) and falls back to the noop runner so a dev instance without keys
// still executes workflows.
func buildRunner(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) adapter.AgentRunner {
	var (
		runner adapter.AgentRunner
		err    error
	)
	switch {
	case cfg.AI.OpenAIKey != "":
		runner, err = aiAdapters.NewOpenAIRunner(cfg.AI.OpenAIKey, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai runner init failed")
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("agent runner: openai")
	case cfg.AI.GeminiKey != "":
		runner, err = aiAdapters.NewGeminiRunner(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini runner init failed")
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("agent runner: gemini")
	default:
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("no AI provider configured: set ai.openai_key or ai.gemini_key")
		}
		runner = aiAdapters.NewNoopRunner()
		logger.Warn().Msg("agent runner: noop (dev mode, no provider key)")
	}
	return aiAdapters.NewLimitedRunner(runner, cfg.AI.ConcurrentLimit)
}
