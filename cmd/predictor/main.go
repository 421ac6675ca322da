// cmd/predictor/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"

	awsclient "heart-risk-predictor/internal/common/aws"
	"heart-risk-predictor/internal/common/camunda"
	"heart-risk-predictor/internal/common/config"
	"heart-risk-predictor/internal/common/database"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/common/messaging"
	"heart-risk-predictor/internal/common/observability"
	"heart-risk-predictor/internal/inference"
	"heart-risk-predictor/internal/predictor"
	"heart-risk-predictor/internal/recorder"
	"heart-risk-predictor/internal/server"

	phr "heart-risk-predictor/internal/workers/prediction/predict-heart-risk"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "console").Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	log.Info("Starting heart risk predictor...", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.App, cfg.Observability)
	if err != nil {
		zapLog.Fatal("tracer init failed", zap.Error(err))
	}
	cleanup.add(func() { _ = shutdownTracer(context.Background()) })

	var obs *observability.Observability
	if cfg.Observability.MetricsEnabled {
		obs = observability.New(cfg.Observability.ServiceName, log)
		cleanup.add(func() { _ = obs.Shutdown(context.Background()) })
	}

	// Artifacts are required: no model, no service.
	bundle, err := inference.LoadFromConfig(cfg.Model)
	if err != nil {
		zapLog.Fatal("model artifacts failed to load", zap.Error(err))
	}
	log.Info("Model loaded", map[string]interface{}{
		"modelVersion": bundle.Version,
		"trees":        len(bundle.Model.Trees),
		"features":     bundle.Schema.Len(),
		"applyScaler":  cfg.Model.ApplyScaler,
	})

	var checks []server.Check
	opts := []predictor.Option{predictor.WithObservability(obs)}

	// --- Redis: prediction cache and rate limiter ---
	var rdb *database.RedisClient
	if cfg.Cache.Enabled || cfg.RateLimit.Enabled {
		rdb = database.NewRedis(cfg.Database.Redis)
		cleanup.add(func() { _ = rdb.Close() })
		if err := retryWithBackoff(func() error { return rdb.Ping(ctx) }, 5, time.Second, log, "Redis connection"); err != nil {
			// Cache misses and the limiter fails open until Redis is back.
			log.Warn("Redis unavailable, continuing degraded", map[string]interface{}{"error": err.Error()})
		}
		checks = append(checks, server.Check{Name: "redis", Check: rdb.Ping})
		if cfg.Cache.Enabled {
			opts = append(opts, predictor.WithCache(predictor.NewRedisCache(rdb.Client, config.GetDuration(cfg.Cache.TTL))))
		}
	}

	// --- Recorders ---
	recorders, recorderChecks := setupRecorders(ctx, cfg, log, &cleanup)
	checks = append(checks, recorderChecks...)
	if len(recorders) > 0 {
		opts = append(opts, predictor.WithRecorder(recorder.NewMulti(recorder.DefaultTimeout, log, recorders...)))
	}

	svc, err := predictor.NewService(predictor.Config{
		TopFeatures: cfg.Model.TopFeatures,
		CachePrefix: cfg.Cache.KeyPrefix,
	}, bundle, log, opts...)
	if err != nil {
		zapLog.Fatal("predictor init failed", zap.Error(err))
	}

	// --- Zeebe worker ---
	if cfg.Camunda.Enabled && config.IsWorkerEnabled(cfg, phr.TaskType) {
		zeebeClient, jobWorker := startZeebeWorker(ctx, cfg, svc, obs, log)
		if jobWorker != nil {
			cleanup.add(jobWorker.Close)
		}
		if zeebeClient != nil {
			cleanup.add(func() {
				if err := zeebeClient.Close(); err != nil {
					log.Error("Error closing Zeebe client", map[string]interface{}{"error": err.Error()})
				}
			})
		}
	}

	// --- HTTP server ---
	deps := server.Deps{Predictor: svc, Checks: checks}
	if rdb != nil {
		deps.Redis = rdb.Client
	}
	srv, err := server.New(cfg, deps, log)
	if err != nil {
		zapLog.Fatal("server init failed", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping server...", nil)
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Heart risk predictor stopped gracefully", nil)
}

// setupRecorders connects every enabled sink. A sink that cannot be
// reached at startup is skipped; predictions are still served.
func setupRecorders(ctx context.Context, cfg *config.Config, log logger.Logger, cleanup *closers) ([]recorder.Recorder, []server.Check) {
	var (
		recorders []recorder.Recorder
		checks    []server.Check
	)

	if pgCfg := cfg.Database.Postgres; pgCfg.Enabled {
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			if pg, err = database.NewPostgres(pgCfg); err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 5, 2*time.Second, log, "PostgreSQL connection")
		if err == nil {
			rec := recorder.NewPostgresRecorder(pg)
			err = rec.EnsureSchema(ctx)
			if err == nil {
				recorders = append(recorders, rec)
				checks = append(checks, server.Check{Name: "postgres", Check: pg.Ping})
			}
		}
		if pg != nil {
			cleanup.add(func() { _ = pg.Close() })
		}
		logRecorderSetup(log, "postgres", err)
	}

	if esCfg := cfg.Database.Elasticsearch; esCfg.Enabled {
		var es *database.ElasticsearchClient
		err := retryWithBackoff(func() error {
			var err error
			if es, err = database.NewElasticsearch(esCfg); err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 5, 2*time.Second, log, "Elasticsearch connection")
		if err == nil {
			rec := recorder.NewElasticsearchRecorder(es, esCfg.Index)
			if err = rec.EnsureIndex(ctx); err == nil {
				recorders = append(recorders, rec)
				checks = append(checks, server.Check{Name: "elasticsearch", Check: es.Ping})
			}
		}
		logRecorderSetup(log, "elasticsearch", err)
	}

	if amqpCfg := cfg.Messaging.AMQP; amqpCfg.Enabled {
		var mq *messaging.AMQPClient
		err := retryWithBackoff(func() error {
			var err error
			mq, err = messaging.NewAMQP(amqpCfg.URL, amqpCfg.Queue)
			return err
		}, 5, 2*time.Second, log, "RabbitMQ connection")
		if err == nil {
			recorders = append(recorders, recorder.NewAMQPRecorder(mq.Channel, amqpCfg.Queue))
			cleanup.add(func() { _ = mq.Close() })
		}
		logRecorderSetup(log, "amqp", err)
	}

	if snsCfg := cfg.Alerts.SNS; snsCfg.Enabled {
		client, err := awsclient.NewSNSClient(ctx, snsCfg.Region)
		if err == nil {
			recorders = append(recorders, recorder.NewSNSRecorder(client, snsCfg.TopicARN))
		}
		logRecorderSetup(log, "sns", err)
	}

	return recorders, checks
}

func logRecorderSetup(log logger.Logger, name string, err error) {
	if err != nil {
		log.Warn("Recorder disabled", map[string]interface{}{"recorder": name, "error": err.Error()})
		return
	}
	log.Info("Recorder enabled", map[string]interface{}{"recorder": name})
}

func startZeebeWorker(ctx context.Context, cfg *config.Config, svc *predictor.Service, obs *observability.Observability, log logger.Logger) (zbc.Client, worker.JobWorker) {
	var zeebeClient zbc.Client
	err := retryWithBackoff(func() error {
		var err error
		zeebeClient, err = camunda.Connect(ctx, cfg.Camunda)
		return err
	}, 10, 2*time.Second, log, "Zeebe client initialization")
	if err != nil {
		log.Error("Zeebe unavailable, job worker not started", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}

	wcfg := config.GetWorkerConfig(cfg, phr.TaskType)
	handler := phr.NewHandler(phr.LoadConfig(wcfg), svc, obs, log)
	return zeebeClient, camunda.StartWorker(zeebeClient, phr.TaskType, wcfg, handler, log)
}
