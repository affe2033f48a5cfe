// cmd/intake-engine/main.go
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

	"intake-engine/internal/analyzer"
	"intake-engine/internal/artifact"
	"intake-engine/internal/common/aws"
	"intake-engine/internal/common/config"
	"intake-engine/internal/common/database"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/common/observability"
	"intake-engine/internal/cursor"
	"intake-engine/internal/formservice"
	"intake-engine/internal/guard"
	"intake-engine/internal/identity"
	"intake-engine/internal/notify"
	"intake-engine/internal/pipeline"
	"intake-engine/internal/poller"
	"intake-engine/internal/search"
	"intake-engine/internal/store"
	"intake-engine/internal/workflow"
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
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info", "console")
		fallback.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting intake engine...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.Int("forms", len(cfg.Forms)),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
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
	zapLog.Info("PostgreSQL connected successfully")

	st := store.NewPostgresStore(pg.DB)
	if err := st.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("schema setup failed", zap.Error(err))
	}

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (optional: analyses mirror) ---
	var indexer pipeline.AnalysisIndexer
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
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
		indexer = search.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.AnalysisIndex, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init AWS clients ---
	var sesSvc notify.SESService
	if cfg.Integrations.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		sesSvc = sesClient
	}

	var snsSvc notify.SNSService
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		snsSvc = snsClient
	}

	// --- External HTTP service clients ---
	forms, err := formservice.NewClient(
		cfg.APIs.FormService.BaseURL,
		cfg.APIs.FormService.APIKey,
		config.GetDuration(cfg.APIs.FormService.Timeout),
		log,
	)
	if err != nil {
		zapLog.Fatal("form service client init failed", zap.Error(err))
	}

	summarizer := analyzer.NewClient(
		cfg.APIs.Analyzer.BaseURL,
		cfg.APIs.Analyzer.APIKey,
		cfg.APIs.Analyzer.Model,
		config.GetDuration(cfg.APIs.Analyzer.Timeout),
		log,
	)

	reports := artifact.NewClient(
		cfg.APIs.ArtifactGenerator.BaseURL,
		cfg.APIs.ArtifactGenerator.APIKey,
		config.GetDuration(cfg.APIs.ArtifactGenerator.Timeout),
		log,
	)

	notifier := notify.NewNotifier(
		sesSvc,
		cfg.Integrations.AWS.SES.FromEmail,
		cfg.Integrations.AWS.SES.Enabled,
		config.GetDuration(cfg.Notifications.Timeout),
		log,
	)
	alerter := notify.NewAlerter(snsSvc, cfg.Integrations.AWS.SNS.AlertTopicARN, cfg.Integrations.AWS.SNS.Enabled, log)

	// --- Wire the pipeline ---
	router := identity.NewRouter(st, log)
	idGuard := guard.New(st, rdb.Client, config.GetDuration(cfg.Polling.GuardTTL), log)
	engine := workflow.NewEngine(st, log)
	cursors := cursor.NewManager(st, log)

	pipe := pipeline.New(
		st, router, idGuard, engine,
		summarizer, reports, notifier, alerter, indexer, obs,
		config.GetDuration(cfg.Polling.RetryBaseDelay),
		log,
	)

	p := poller.New(
		cfg.Forms, forms, pipe, cursors,
		config.GetDuration(cfg.Polling.Interval),
		cfg.Polling.MaxConcurrentForms,
		log,
	)

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "postgres unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ops/test-submission", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "email is required")
			return
		}
		if err := p.ProcessTestSubmission(r.Context(), req.Email, req.Name); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, "processed")
	})

	opsServer := &http.Server{Addr: cfg.Ops.Address, Handler: mux}
	go func() {
		zapLog.Info("ops server listening", zap.String("address", cfg.Ops.Address))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("ops server failed", zap.Error(err))
		}
	}()

	// --- Start polling ---
	go p.Start(ctx)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping poller...")
	cancel()
	p.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("ops server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Intake engine stopped")
}
