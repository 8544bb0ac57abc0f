package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-workflow-engine/internal/config"
	"agent-workflow-engine/internal/infra/abort"
	pg "agent-workflow-engine/internal/infra/db/postgres"
	"agent-workflow-engine/internal/infra/logging"
	"agent-workflow-engine/internal/infra/metrics"
	red "agent-workflow-engine/internal/infra/redis"
	"agent-workflow-engine/internal/infra/web"
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

	turnRepo := pg.NewTurnRepo(pool)
	scheduledRepo := pg.NewScheduledRuleRepo(pool)
	recurringRepo := pg.NewRecurringRuleRepo(pool)

	aborts := abort.NewRegistry(logger)

	turnUC := usecase.NewTurnUseCase(turnRepo, aborts, bus)
	streamUC := usecase.NewStreamUseCase(turnRepo, bus, cfg.Stream.IdleTimeout, cfg.Stream.RecheckEvery, logger)
	ruleUC := usecase.NewRuleUseCase(scheduledRepo, recurringRepo)

	auth := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	srv := web.NewServer(turnUC, streamUC, ruleUC, auth, cfg.Auth.APIKey, logger)
	server := web.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), srv.Router())

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api server stopped")
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown failed")
	}
	cancel()
}
