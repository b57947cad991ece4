// Command crawlerd wires the crawl core's collaborators, planner and
// boundary layers into a runnable process, the same thin-assembly role
// the teacher's core/cmd/example/main.go plays for a BaseAgent: build
// dependencies in order, start, block, shut down on signal.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattercertis/crawlcore/boundary"
	"github.com/mattercertis/crawlcore/collaborators"
	"github.com/mattercertis/crawlcore/corelog"
	"github.com/mattercertis/crawlcore/crawlconfig"
	"github.com/mattercertis/crawlcore/events"
	"github.com/mattercertis/crawlcore/planner"
	"github.com/mattercertis/crawlcore/resilience"
	"github.com/mattercertis/crawlcore/telemetry"
)

func main() {
	cfg, err := crawlconfig.NewSessionConfig()
	if err != nil {
		log.Fatalf("crawlerd: invalid configuration: %v", err)
	}

	logger := corelog.NewProductionLogger("crawlerd", corelog.LoggingConfig{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "json"),
	})

	profile := telemetry.Profile(envOr("TELEMETRY_PROFILE", string(telemetry.ProfileDevelopment)))
	telCfg := telemetry.UseProfile(profile).WithOverrides(telemetry.Config{ServiceName: "crawlerd"})
	if err := telemetry.Initialize(telCfg); err != nil {
		logger.Warn("crawlerd: telemetry init failed, continuing without it", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutCtx); err != nil {
			logger.Warn("crawlerd: telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	hub := events.NewHub(256)

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	metrics := events.NewMetricsAggregator(events.DefaultMetricsConfig(), cfg.Workers.ProductDetailMaxConcurrent)
	go metrics.Run(metricsCtx, hub)

	if addr := os.Getenv("CRAWLCORE_REDIS_ADDR"); addr != "" {
		redisClient := events.NewRedisClient(addr)
		relay := events.NewRedisRelay(redisClient, envOr("CRAWLCORE_REDIS_EVENT_CHANNEL", "crawlcore:events"), logger.WithComponent("crawl/events"))
		go relay.Run(metricsCtx, hub)
	}

	fetcher := collaborators.NewHTTPFetcher(nil)
	siteAnalyzer := collaborators.NewHTTPSiteAnalyzer(fetcher, cfg.MatterFilterURL)
	parser := collaborators.NewHTMLParser()
	repo := collaborators.NewInMemoryRepository()
	dbAnalyzer := collaborators.NewRepositoryDbAnalyzer(repo, cfg.ProductsPerPage)

	fetcherBreaker, err := resilience.NewFetcherBreaker(resilience.Dependencies{Logger: logger.WithComponent("resilience/circuit-breaker")})
	if err != nil {
		logger.Warn("crawlerd: fetcher circuit breaker unavailable, calling fetcher unguarded", map[string]interface{}{"error": err.Error()})
	}

	var planOpts []planner.Option
	planOpts = append(planOpts, planner.WithLogger(logger.WithComponent("crawl/planner")))
	if addr := os.Getenv("CRAWLCORE_REDIS_ADDR"); addr != "" {
		redisClient := events.NewRedisClient(addr)
		planOpts = append(planOpts, planner.WithSnapshotCache(planner.NewRedisSnapshotCache(redisClient, envOr("CRAWLCORE_REDIS_SNAPSHOT_KEY", "crawlcore:snapshot"))))
	}
	plan := planner.New(siteAnalyzer, dbAnalyzer, cfg.SnapshotTTL, planOpts...)

	stageRunner := newStageRunner(stageRunnerDeps{
		fetcher: fetcher,
		parser:  parser,
		repo:    repo,
		breaker: fetcherBreaker,
		timing:  cfg.Timing,
		listURL: cfg.MatterFilterURL,
		logger:  logger.WithComponent("crawl/task"),
	})

	boundaryServer := boundary.New(cfg, hub, plan, stageRunner, logger.WithComponent("boundary"))
	httpAddr := ":" + envOr("CRAWLCORE_HTTP_PORT", "8080")
	httpServer := boundary.NewHTTPServer(boundaryServer, httpAddr, "crawlerd")

	go func() {
		logger.Info("crawlerd: admin http server starting", map[string]interface{}{"addr": httpAddr})
		if err := httpServer.ListenAndServe(); err != nil {
			logger.Error("crawlerd: admin http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	if envOr("CRAWLCORE_AUTOSTART", "false") == "true" {
		if err := boundaryServer.StartCrawling("default"); err != nil {
			logger.Error("crawlerd: autostart failed", map[string]interface{}{"error": err.Error()})
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("crawlerd: shutdown signal received", nil)

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownSeconds)
	defer cancel()
	if err := httpServer.Shutdown(shutCtx); err != nil && err != http.ErrServerClosed {
		logger.Warn("crawlerd: admin http server shutdown error", map[string]interface{}{"error": err.Error()})
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
