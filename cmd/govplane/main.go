// Command govplane hosts the Policy Engine behind its HTTP middleware
// contract: a chi router whose only in-scope transport surface is the
// PDP gate mounted under /api, plus /health and /metrics. Application
// routes behind the gate are out of scope per spec §1 — this binary's
// job is to construct every subsystem and wire the PDP evaluate call
// into the one seam the spec owns, plus the Evaluation Harness and
// Regression Guard that gate component promotions.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/govplane/backplane/internal/config"
	"github.com/govplane/backplane/internal/database"
	"github.com/govplane/backplane/pkg/acl"
	"github.com/govplane/backplane/pkg/audit"
	"github.com/govplane/backplane/pkg/evaluation"
	"github.com/govplane/backplane/pkg/metrics"
	"github.com/govplane/backplane/pkg/pdp"
	"github.com/govplane/backplane/pkg/ratelimit"
	"github.com/govplane/backplane/pkg/regression"
	"github.com/govplane/backplane/pkg/repository"
	"github.com/govplane/backplane/pkg/rules"
	"github.com/govplane/backplane/pkg/scanner"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	log := mustLogger()
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	dbConfig := database.DefaultConfig()
	dbConfig.LoadFromEnv()
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	pool, err := pgxpool.New(context.Background(), dbConfig.ConnectionString())
	if err != nil {
		log.Fatal("failed to open audit log connection pool", zap.Error(err))
	}
	defer pool.Close()

	principals := repository.NewPostgresPrincipalRepository(db, log)
	aclEntries := repository.NewPostgresACLRepository(db, log)
	policies := repository.NewPostgresPolicyRepository(db, log)
	rateCounters := repository.NewPostgresRateCounterRepository(db, log)
	patterns := repository.NewPostgresPatternRepository(db, log)
	auditRepo := repository.NewPgxAuditRepository(pool, log, 1024, 100, 2*time.Second)
	defer auditRepo.Close()
	promotions := repository.NewPostgresPromotionRepository(db, log)

	aclManager := acl.New(principals, aclEntries, log)
	auditLogger := audit.New(auditRepo, log)
	rateLimiter := ratelimit.New(rateCounters, cfg.RateLimiter, log)
	contentScanner := scanner.New(patterns, mustClassifier(cfg.ContentScanner.MLEnabled), cfg.ContentScanner.MLThreshold, log)

	engine := pdp.New(rateLimiter, scanner.PDPAdapter{Scanner: contentScanner}, aclManager, policies, auditLogger, log)
	if geofence, err := rules.NewGeofenceRule(nil, nil); err == nil {
		engine.WithChain([]rules.Rule{rules.DataClassificationRule{}, rules.TimeBasedRule{}, geofence})
	}
	middleware := pdp.NewMiddleware(engine, rateLimiter, principals, log)

	harness := evaluation.New(evaluation.NewRegistry(), nil, 0, log)
	guard := regression.New(promotions, harness, engine, auditRepo, log)
	_ = guard // driven by an operator tool against this process's promotions repo; no HTTP surface per spec §1

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	pdp.Mount(router, middleware)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log)
	metricsServer.StartAsync()

	httpServer := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: router}
	go func() {
		log.Info("govplane listening", zap.String("port", cfg.Server.HTTPPort), zap.String("metrics_port", cfg.Server.MetricsPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	waitForShutdown(log, httpServer, metricsServer)
}

func waitForShutdown(log *zap.Logger, httpServer *http.Server, metricsServer *metrics.Server) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Stop(ctx); err != nil {
		log.Warn("metrics server shutdown error", zap.Error(err))
	}
}

func mustLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	return log
}

// mustClassifier returns nil when content_scanner.ml_enabled is false or
// no ANTHROPIC_API_KEY is configured, which degrades the scanner to
// regex-only per its documented fallback.
func mustClassifier(enabled bool) scanner.Classifier {
	if !enabled {
		return nil
	}
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil
	}
	return scanner.NewAnthropicClassifier(apiKey)
}
