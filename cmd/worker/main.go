package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"airquality-platform/internal/config"
	"airquality-platform/internal/events"
	"airquality-platform/internal/models"
	"airquality-platform/internal/repository"
	"airquality-platform/internal/services"
	"airquality-platform/internal/simulation"
	"airquality-platform/pkg/cache"
	"airquality-platform/pkg/database"
	"airquality-platform/pkg/logging"
	"airquality-platform/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("airquality-worker", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info(ctx, "[WORKER_START] Starting simulation worker", logging.Fields{
		"version":             "1.0.0",
		"brokers":             cfg.Kafka.Brokers,
		"topic":               cfg.Kafka.TopicRuns,
		"consumer_group":      cfg.Kafka.ConsumerGroup,
		"max_concurrent_runs": cfg.Simulation.MaxConcurrentRuns,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("airquality_worker")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[WORKER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repositories
	scenarioRepo := repository.NewScenarioRepository(db, logger, metricsCollector)
	refRepo := repository.NewReferenceRepository(db, logger, metricsCollector)

	// Baseline cache is optional; the worker falls back to direct
	// database lookups when Redis is not configured.
	var cacheClient *cache.Client
	if cfg.Redis.Enabled {
		cacheClient, err = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn(ctx, "[WORKER_CACHE_UNAVAILABLE] Redis unavailable, baseline caching disabled", logging.Fields{
				"addr": cfg.Redis.Addr,
			})
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	baselineService := services.NewBaselineService(refRepo, cacheClient, cfg.Simulation.BaselineCacheTTL, logger, metricsCollector)

	// Initialize simulation engine
	engine := simulation.NewEngine(scenarioRepo, refRepo, baselineService, logger, metricsCollector)

	// Initialize event plumbing
	publisher := events.NewPublisher(
		cfg.Kafka.Brokers,
		cfg.Kafka.TopicRuns,
		cfg.Kafka.TopicLifecycle,
		logger,
		metricsCollector,
	)
	defer publisher.Close()

	reader := events.NewReader(cfg.Kafka.Brokers, cfg.Kafka.TopicRuns, cfg.Kafka.ConsumerGroup)
	defer reader.Close()

	// Bounded concurrency across in-flight runs
	semaphore := make(chan struct{}, cfg.Simulation.MaxConcurrentRuns)
	var wg sync.WaitGroup

	go func() {
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Error(ctx, "[WORKER_FETCH_ERROR] Failed to fetch message", logging.Fields{}, err)
				time.Sleep(time.Second)
				continue
			}

			request, err := events.ParseMessageJSON[events.RunRequested](msg)
			if err != nil {
				logger.Warn(ctx, "[WORKER_PARSE_ERROR] Dropping malformed run request", logging.Fields{
					"offset": msg.Offset,
				})
				if err := reader.CommitMessages(ctx, msg); err != nil {
					logger.Error(ctx, "[WORKER_COMMIT_ERROR] Failed to commit message", logging.Fields{}, err)
				}
				continue
			}

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				return
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-semaphore }()
				executeRun(ctx, engine, scenarioRepo, refRepo, publisher, logger, metricsCollector, request)
			}()

			if err := reader.CommitMessages(ctx, msg); err != nil {
				logger.Error(ctx, "[WORKER_COMMIT_ERROR] Failed to commit message", logging.Fields{}, err)
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[WORKER_SHUTDOWN] Shutting down, waiting for in-flight runs...", logging.Fields{})

	cancel()
	wg.Wait()

	logger.Info(ctx, "[WORKER_SHUTDOWN_COMPLETE] Worker stopped", logging.Fields{})
}

// executeRun loads the scenario, runs the engine, and emits a lifecycle
// event reflecting the terminal state the engine recorded.
func executeRun(
	ctx context.Context,
	engine *simulation.Engine,
	scenarioRepo repository.ScenarioRepository,
	refRepo repository.ReferenceRepository,
	publisher *events.Publisher,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	request events.RunRequested,
) {
	runCtx := logging.WithScenarioID(ctx, request.ScenarioID.String())

	metricsCollector.RunningScenarios.Inc()
	defer metricsCollector.RunningScenarios.Dec()

	scenario, err := scenarioRepo.GetScenario(runCtx, request.ScenarioID)
	if err != nil {
		logger.Error(runCtx, "[WORKER_LOAD_ERROR] Failed to load scenario for run", logging.Fields{
			"scenario_id": request.ScenarioID.String(),
		}, err)
		return
	}

	var template *models.ScenarioTemplate
	if scenario.TemplateID != nil {
		template, err = refRepo.GetTemplate(runCtx, *scenario.TemplateID)
		if err != nil {
			logger.Warn(runCtx, "[WORKER_TEMPLATE_MISSING] Template lookup failed, running without template", logging.Fields{
				"scenario_id": scenario.ID.String(),
				"template_id": scenario.TemplateID.String(),
			})
			template = nil
		}
	}

	runErr := engine.Run(runCtx, scenario, template)

	// Re-read the terminal state the engine persisted.
	final, err := scenarioRepo.GetScenario(context.WithoutCancel(runCtx), scenario.ID)
	if err != nil {
		logger.Error(runCtx, "[WORKER_STATE_ERROR] Failed to read final run state", logging.Fields{
			"scenario_id": scenario.ID.String(),
		}, err)
		return
	}

	publisher.PublishLifecycleChanged(context.WithoutCancel(runCtx), events.LifecycleChanged{
		ScenarioID:   final.ID,
		Status:       final.Status,
		ProgressPct:  final.ProgressPct,
		ErrorMessage: final.ErrorMessage,
		OccurredAt:   time.Now().UTC(),
	})

	if runErr != nil && !errors.Is(runErr, simulation.ErrCancelled) {
		logger.Error(runCtx, "[WORKER_RUN_ERROR] Simulation run ended with error", logging.Fields{
			"scenario_id": scenario.ID.String(),
			"status":      string(final.Status),
		}, runErr)
	}
}
