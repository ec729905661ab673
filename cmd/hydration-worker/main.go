// Command hydration-worker runs the background half of the backplane:
// the scheduled Hydration Pipeline sweep and the Universal Linking
// Engine it drives. It owns no HTTP surface of its own — govplane
// hosts the PDP gate this worker evaluates against for every scheduled
// run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appconfig "github.com/govplane/backplane/internal/config"
	"github.com/govplane/backplane/internal/database"
	"github.com/govplane/backplane/pkg/acl"
	"github.com/govplane/backplane/pkg/audit"
	"github.com/govplane/backplane/pkg/hydration"
	"github.com/govplane/backplane/pkg/hydration/connectors"
	"github.com/govplane/backplane/pkg/lock"
	"github.com/govplane/backplane/pkg/metrics"
	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/pdp"
	"github.com/govplane/backplane/pkg/ratelimit"
	"github.com/govplane/backplane/pkg/repository"
	"github.com/govplane/backplane/pkg/rules"
	"github.com/govplane/backplane/pkg/scanner"
	"github.com/govplane/backplane/pkg/ule"
	"github.com/govplane/backplane/pkg/ule/embedding"
	"github.com/govplane/backplane/pkg/ule/packs"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	log := mustLogger()
	defer log.Sync()

	cfg, err := appconfig.Load(*configPath)
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

	redisClient := mustRedisClient(cfg, log)
	defer redisClient.Close()

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

	sources := repository.NewPostgresWorkspaceSourceRepository(db, log)
	states := repository.NewPostgresHydrationStateRepository(db, log)
	documents := repository.NewPostgresDocumentRepository(db, log)
	versions := repository.NewPostgresDocumentVersionRepository(db, log)
	runs := repository.NewPostgresHydrationRunRepository(db, log)
	alerts := repository.NewPostgresHydrationAlertRepository(db, log)
	entities := repository.NewPostgresEntityRepository(db, log)
	links := repository.NewPostgresLinkRepository(db, log)

	aclManager := acl.New(principals, aclEntries, log)
	auditLogger := audit.New(auditRepo, log)
	rateLimiter := ratelimit.New(rateCounters, cfg.RateLimiter, log)
	contentScanner := scanner.New(patterns, mustClassifier(cfg.ContentScanner.MLEnabled), cfg.ContentScanner.MLThreshold, log)

	engine := pdp.New(rateLimiter, scanner.PDPAdapter{Scanner: contentScanner}, aclManager, policies, auditLogger, log)
	if geofence, err := rules.NewGeofenceRule(nil, nil); err == nil {
		engine.WithChain([]rules.Rule{rules.DataClassificationRule{}, rules.TimeBasedRule{}, geofence})
	}

	uleEngine := ule.New(ule.Config{
		Entities:  entities,
		Links:     links,
		Embedding: ule.NewEmbeddingCache(mustEmbeddingProvider(cfg, log)),
		Threshold: cfg.ULE.SimilarityThreshold,
		Log:       log,
	})
	packs.RegisterDefaults(uleEngine)

	locker := lock.NewManager(redisClient, log)

	pipeline := hydration.New(hydration.Config{
		Sources: sources, States: states, Documents: documents, Versions: versions,
		Runs: runs, Alerts: alerts, Locker: locker, Registry: connectors.DefaultRegistry(),
		ULEHook: ule.NewHydrationHook(uleEngine), OCREnabled: cfg.Hydration.OCREnabled,
		MaxChunkLength: cfg.Hydration.MaxChunkChars, Log: log,
	})

	tz, err := time.LoadLocation(cfg.Hydration.TZ)
	if err != nil {
		log.Fatal("invalid hydration tz", zap.Error(err))
	}
	schedule, err := hydration.NewSchedule(cfg.Hydration.Hour, cfg.Hydration.Minute, tz)
	if err != nil {
		log.Fatal("invalid hydration schedule", zap.Error(err))
	}

	poll := time.Duration(cfg.Hydration.PollSeconds) * time.Second
	worker := hydration.NewWorker(pipeline, states, sources, engine,
		hydration.ServicePrincipal{ID: cfg.Hydration.ServiceUserID, Role: models.RoleAdmin},
		schedule, poll, log)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log)
	metricsServer.StartAsync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Hydration.Enabled {
		log.Info("hydration disabled by config, worker idling")
		<-ctx.Done()
	} else {
		log.Info("hydration worker starting", zap.Int("poll_seconds", cfg.Hydration.PollSeconds))
		worker.Run(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", zap.Error(err))
	}
}

func mustRedisClient(cfg *appconfig.Config, log *zap.Logger) *redis.Client {
	url := cfg.Lock.BackendURL
	if url == "" {
		url = cfg.Queue.BackendURL
	}
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatal("invalid redis backend_url", zap.Error(err))
	}
	return redis.NewClient(opts)
}

// mustEmbeddingProvider picks the configured vector backend: the
// deterministic local stub, or a Bedrock Titan-embeddings client when
// ule.embedding_provider is "bedrock".
func mustEmbeddingProvider(cfg *appconfig.Config, log *zap.Logger) embedding.Provider {
	if cfg.ULE.EmbeddingProvider != "bedrock" {
		return embedding.NewLocalProvider(32)
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Warn("failed to load AWS config, degrading to local embedding provider", zap.Error(err))
		return embedding.NewLocalProvider(32)
	}
	client := bedrockruntime.NewFromConfig(awsCfg)
	return embedding.NewBedrockProvider(client, "amazon.titan-embed-text-v1", 1536, 5)
}

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

func mustLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	return log
}
