// Command worker runs the intelligence consumer engine and its health server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/analyzer"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/embedder"
	graphapi "github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/graph/httpapi"
	outcomeredis "github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/outcome/redis"
	patternpg "github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/pattern/postgres"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/queue/kafka"
	qdrantcli "github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/vector/qdrant"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/breaker"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/cache"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/handler"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/health"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	// Analyzer result cache + breaker.
	results := cache.New(cfg.CacheMaxSize, cfg.CacheTTL())
	observability.RegisterCacheGauges(
		func() float64 { return results.Metrics().HitRate },
		results.Len,
	)
	brk := breaker.New(breaker.Config{
		Name:             "analyzer",
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout(),
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		CountTimeouts:    cfg.BreakerCountTimeouts,
		OnStateChange: func(name string, from, to breaker.State) {
			slog.Info("breaker state change",
				slog.String("dependency", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			observability.SetBreakerState(name, int(to))
		},
	})

	analyzerCl := analyzer.New(cfg, brk, results)
	embedderCl := embedder.New(cfg)
	defer embedderCl.Close()

	deps := handler.Deps{
		Analyzer:     analyzerCl,
		Embedder:     embedderCl,
		Tokens:       embedderCl,
		StoreTimeout: cfg.StoreTimeout(),
	}

	// Capability stores. An unset URL leaves the port nil and dependent
	// handler steps degrade.
	if cfg.PatternDBURL != "" {
		pool, err := patternpg.NewPool(ctx, cfg.PatternDBURL)
		if err != nil {
			slog.Error("pattern db connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		store := patternpg.New(pool)
		deps.Patterns = store
		deps.Schema = store
	}
	if cfg.VectorStoreURL != "" {
		deps.Vectors = qdrantcli.New(cfg.VectorStoreURL, cfg.VectorStoreAPIKey, cfg.VectorCollection, cfg.StoreTimeout())
	}
	if cfg.GraphStoreURL != "" {
		deps.Graph = graphapi.New(cfg.GraphStoreURL, cfg.StoreTimeout())
	}

	var outcomes domain.OutcomeStore
	if cfg.RedisAddr != "" {
		store := outcomeredis.New(cfg.RedisAddr, cfg.OutcomeTTL())
		if err := store.Ping(ctx); err != nil {
			slog.Error("redis connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()
		outcomes = store
	}

	if cfg.ScoringProfilesPath != "" {
		scoreCfg, err := scoring.LoadConfig(cfg.ScoringProfilesPath)
		if err != nil {
			slog.Error("scoring profiles load failed", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Scorer = scoring.New(scoreCfg)
	}

	registry := handler.NewRegistry(deps)

	// Bus plumbing.
	topics := kafka.NewTopics(cfg.KafkaTopicPrefix, cfg.ServiceName)
	publisher, err := kafka.NewPublisher(cfg, topics)
	if err != nil {
		slog.Error("producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer publisher.Close()

	scheduler := kafka.NewScheduler(domain.RetryPolicy{
		MaxRetries:  cfg.MaxRetryAttempts,
		BackoffBase: cfg.BackoffBase(),
		BackoffCap:  cfg.BackoffCap(),
		Jitter:      cfg.RetryJitter,
	}, kafka.RetryMode(cfg.RetryMode), cfg.RetryStateTTL(), publisher, publisher)
	scheduler.Start()
	defer scheduler.Stop()

	engine, err := kafka.NewEngine(cfg, topics, publisher, publisher, scheduler, outcomes, registry)
	if err != nil {
		slog.Error("consumer connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	healthSrv := health.New(fmt.Sprintf(":%d", cfg.HealthCheckPort), health.Options{
		Engine:              engine,
		AnalyzerBreaker:     brk.State,
		EmbedderLastSuccess: embedderCl.LastSuccess,
		ReadinessWindow:     cfg.ReadinessWindow(),
	})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	errCh := make(chan error, 3)
	engineDone := make(chan error, 1)
	go func() {
		slog.Info("health server starting", slog.Int("port", cfg.HealthCheckPort))
		errCh <- healthSrv.ListenAndServe()
	}()
	go func() {
		slog.Info("consumer engine starting",
			slog.String("group", cfg.KafkaConsumerGroup),
			slog.Any("topics", topics.Requests()))
		err := engine.Run(runCtx)
		engineDone <- err
		errCh <- err
	}()

	if cfg.DLQReprocessEnabled {
		reprocessor, err := kafka.NewReprocessor(cfg, topics, publisher)
		if err != nil {
			slog.Error("dlq reprocessor connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			slog.Info("dlq reprocessor starting", slog.String("topic", topics.DLQ()))
			errCh <- reprocessor.Run(runCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			slog.Error("component failed", slog.Any("error", err))
		}
	}

	// Engine drains first so offsets flush, then the health listener closes.
	stop()
	select {
	case <-engineDone:
	case <-time.After(cfg.ShutdownTimeout + 5*time.Second):
		slog.Warn("engine did not drain within the shutdown grace")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	slog.Info("worker stopped")
}
