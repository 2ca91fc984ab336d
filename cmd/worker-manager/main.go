// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	awsclient "proposal-workers/internal/common/aws"
	"proposal-workers/internal/common/camunda"
	"proposal-workers/internal/common/config"
	"proposal-workers/internal/common/content"
	"proposal-workers/internal/common/database"
	"proposal-workers/internal/common/export"
	"proposal-workers/internal/common/genai"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/observability"
	"proposal-workers/internal/core/autosave"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/core/credits"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/core/orchestrator"
	"proposal-workers/internal/core/session"
	"proposal-workers/internal/models"

	// Proposal workers (7)
	cg "proposal-workers/internal/workers/proposal/cancel-generation"
	ep "proposal-workers/internal/workers/proposal/ensure-proposal"
	xp "proposal-workers/internal/workers/proposal/export-proposal"
	ga "proposal-workers/internal/workers/proposal/generate-application"
	gsq "proposal-workers/internal/workers/proposal/get-section-questions"
	mp "proposal-workers/internal/workers/proposal/manage-proposal"
	sa "proposal-workers/internal/workers/proposal/save-answers"

	// Infrastructure & communication workers (2)
	cc "proposal-workers/internal/workers/infrastructure/check-credits"
	ng "proposal-workers/internal/workers/communication/notify-generation"
)

const (
	creditCacheTTL      = 30 * time.Second
	runTokenTTL         = time.Hour
	progressMessageTTL  = time.Minute
	shutdownGracePeriod = 30 * time.Second
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	zapLog.Info("Starting worker manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ctx := context.Background()

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("metrics provider unavailable", zap.Error(err))
	}
	defer obs.Shutdown(context.Background())

	shutdownTracing, err := observability.InitTracing(ctx, cfg.App.Name, cfg.Tracing)
	if err != nil {
		zapLog.Fatal("tracing init failed", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      10 * time.Second,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()

	for name, schema := range map[string]string{"proposals": lifecycle.Schema, "user_subscriptions": credits.Schema} {
		if _, err := pg.DB.ExecContext(ctx, schema); err != nil {
			zapLog.Fatal("schema migration failed", zap.String("table", name), zap.Error(err))
		}
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Redis ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Question catalog ---
	var source catalog.ContentSource
	switch cfg.Catalog.Source {
	case config.CatalogSourceElasticsearch:
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
		indexCtx, cancelIndex := context.WithTimeout(context.Background(), 10*time.Second)
		created, err := esClient.EnsureIndex(indexCtx, cfg.Catalog.Index, catalog.QuestionIndexMapping)
		cancelIndex()
		if err != nil {
			zapLog.Fatal("question index unavailable", zap.String("index", cfg.Catalog.Index), zap.Error(err))
		}
		if created {
			zapLog.Warn("question index created empty, seed it with catalog-seeder", zap.String("index", cfg.Catalog.Index))
		}
		source = catalog.NewElasticsearchSource(esClient.Client, cfg.Catalog.Index)
	case config.CatalogSourceContentService:
		source = content.NewClient(cfg.APIs.Content.BaseURL, cfg.APIs.Content.APIKey, config.GetDuration(cfg.APIs.Content.Timeout))
	}
	if cfg.Catalog.CacheTTL > 0 {
		source = catalog.NewCachedSource(source, redis.Client, config.GetDuration(cfg.Catalog.CacheTTL), log)
	}
	questions := catalog.New(source, log)

	// --- Core services ---
	sessions := session.NewRegistry(session.NewRedisTokenStore(redis.Client, runTokenTTL))
	proposals := lifecycle.NewManager(lifecycle.NewPostgresStore(pg.DB), log)
	creditService := credits.NewService(pg.DB, redis.Client, creditCacheTTL, log)
	saver := autosave.NewCoordinator(proposals, config.GetDuration(cfg.Generation.Debounce), log)

	generator := genai.NewClient(cfg.APIs.Generation.BaseURL, cfg.APIs.Generation.APIKey, config.GetDuration(cfg.APIs.Generation.Timeout))
	runner := orchestrator.New(orchestrator.Config{
		DefaultMode:       models.GenerationMode(cfg.Generation.DefaultMode),
		RetryBackoff:      config.GetDurations(cfg.Generation.RetryBackoff),
		ChargePartialRuns: cfg.Generation.ChargesPartialRuns(),
	}, orchestrator.Deps{
		Proposals: proposals,
		Credits:   creditService,
		Catalog:   questions,
		Generator: generator,
		AutoSave:  saver,
	}, log)

	exporter := export.NewClient(cfg.APIs.Export.BaseURL, cfg.APIs.Export.APIKey, config.GetDuration(cfg.APIs.Export.Timeout))
	progress := camunda.NewProgressPublisher(zeebe, progressMessageTTL)

	var (
		sesClient awsclient.SESService
		snsClient awsclient.SNSService
	)
	if cfg.Notifications.Email.Enabled {
		c, err := awsclient.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("failed to create SES client", zap.Error(err))
		}
		sesClient = c
	}
	if cfg.Notifications.SMS.Enabled {
		c, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("failed to create SNS client", zap.Error(err))
		}
		snsClient = c
	}

	zapLog.Info("All service clients initialized")

	// --- Register workers ---
	group := camunda.NewWorkerGroup(zeebe.GetClient(), zapLog)

	if c := ep.LoadConfig(cfg); c.Enabled {
		group.Start(ep.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), ep.NewHandler(c, proposals, sessions, log))
	}
	if c := ga.LoadConfig(cfg); c.Enabled {
		handler := ga.NewHandler(c, runner, sessions, progress, log).WithRecorder(obs)
		group.Start(ga.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), handler)
	}
	if c := cg.LoadConfig(cfg); c.Enabled {
		group.Start(cg.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), cg.NewHandler(c, sessions, log))
	}
	if c := sa.LoadConfig(cfg); c.Enabled {
		group.Start(sa.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), sa.NewHandler(c, questions, proposals, saver, log))
	}
	if c := mp.LoadConfig(cfg); c.Enabled {
		group.Start(mp.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), mp.NewHandler(c, proposals, questions, saver, log))
	}
	if c := gsq.LoadConfig(cfg); c.Enabled {
		group.Start(gsq.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), gsq.NewHandler(c, questions, log))
	}
	if c := xp.LoadConfig(cfg); c.Enabled {
		group.Start(xp.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), xp.NewHandler(c, proposals, saver, questions, exporter, log))
	}
	if c := cc.LoadConfig(cfg); c.Enabled {
		group.Start(cc.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), cc.NewHandler(c, creditService, sessions, log))
	}
	if c := ng.LoadConfig(cfg); c.Enabled {
		group.Start(ng.TaskType, workerOptions(c.MaxJobsActive, c.Timeout), ng.NewHandler(c, sesClient, snsClient, log))
	}
	zapLog.Info("workers registered", zap.Strings("taskTypes", group.TaskTypes()))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ready", "time": time.Now().Format(time.RFC3339)}
		code := http.StatusOK
		if err := pg.Ping(checkCtx); err != nil {
			status["status"], status["postgres"], code = "not_ready", err.Error(), http.StatusServiceUnavailable
		}
		if err := redis.Ping(checkCtx); err != nil {
			status["status"], status["redis"], code = "not_ready", err.Error(), http.StatusServiceUnavailable
		}
		if err := zeebe.HealthCheck(checkCtx); err != nil {
			status["status"], status["zeebe"], code = "not_ready", err.Error(), http.StatusServiceUnavailable
		}
		writeStatus(w, code, status)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	server := &http.Server{Addr: cfg.App.HTTPAddress, Handler: mux}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.App.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	group.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func workerOptions(maxJobsActive int, timeout time.Duration) camunda.WorkerOptions {
	return camunda.WorkerOptions{MaxJobsActive: maxJobsActive, Timeout: timeout}
}

func writeStatus(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
