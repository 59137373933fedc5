package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/iago/resume-analyzer-back/internal/aggregate"
	"github.com/iago/resume-analyzer-back/internal/ai"
	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/cache"
	"github.com/iago/resume-analyzer-back/internal/config"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/fingerprint"
	"github.com/iago/resume-analyzer-back/internal/logger"
	"github.com/iago/resume-analyzer-back/internal/orchestrator"
	"github.com/iago/resume-analyzer-back/internal/queue"
	"github.com/iago/resume-analyzer-back/internal/repository"
	"github.com/iago/resume-analyzer-back/internal/resume"
	"github.com/iago/resume-analyzer-back/internal/retry"
	"github.com/iago/resume-analyzer-back/internal/service"
	"github.com/iago/resume-analyzer-back/internal/stage"
	"github.com/iago/resume-analyzer-back/internal/status"
	"github.com/iago/resume-analyzer-back/internal/worker"
)

// engineOptions selects adapters. The local commands force in-process ones.
type engineOptions struct {
	InProcess bool
	Resumes   resume.Source
}

type engine struct {
	store     repository.JobStore
	index     fingerprint.Index
	producer  queue.Producer
	consumer  queue.Consumer
	processor *worker.Processor
	analyses  *service.AnalysisService
	statuses  *status.Service

	closers []func()
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func buildEngine(ctx context.Context, cfg config.Config, log *logger.Logger, opts engineOptions) (*engine, error) {
	e := &engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	var redisClient redis.UniversalClient
	if !opts.InProcess && cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, falling back to in-process index and queue", "error", err)
			_ = client.Close()
		} else {
			redisClient = client
			e.closers = append(e.closers, func() { _ = client.Close() })
		}
	}

	e.store = setupStore(ctx, cfg, log, opts, e)
	e.index = setupIndex(ctx, cfg, log, redisClient, e)
	if err := setupQueue(ctx, cfg, log, redisClient, e); err != nil {
		return nil, err
	}

	executors, err := setupExecutors(cfg, log)
	if err != nil {
		return nil, err
	}
	aggregator, err := setupAggregator(cfg)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:        e.store,
		Index:        e.index,
		Executors:    executors,
		Aggregator:   aggregator,
		Retry:        retryPolicy(cfg),
		StageTimeout: cfg.StageTimeout,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	e.processor, err = worker.NewProcessor(worker.Config{
		Consumer:    e.consumer,
		Producer:    e.producer,
		Runner:      orch,
		Store:       e.store,
		Index:       e.index,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	resumes := opts.Resumes
	if resumes == nil {
		dir, err := resume.NewDirSource(cfg.ResumeDir)
		if err != nil {
			return nil, err
		}
		resumes = dir
	}
	e.analyses, err = service.NewAnalysisService(service.AnalysisDependencies{
		Store:    e.store,
		Index:    e.index,
		Producer: e.producer,
		Resumes:  resumes,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	e.statuses = status.NewService(e.store)

	ok = true
	return e, nil
}

func setupStore(ctx context.Context, cfg config.Config, log *logger.Logger, opts engineOptions, e *engine) repository.JobStore {
	if opts.InProcess || cfg.DatabaseURL == "" {
		log.Info("using in-memory job store")
		return repository.NewMemoryJobStore()
	}

	pgStore, err := repository.NewPostgresJobStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Warn("postgres unavailable, falling back to in-memory job store", "error", err)
		return repository.NewMemoryJobStore()
	}
	if err := pgStore.EnsureSchema(ctx); err != nil {
		log.Warn("ensure postgres schema failed, falling back to in-memory job store", "error", err)
		pgStore.Close()
		return repository.NewMemoryJobStore()
	}
	e.closers = append(e.closers, pgStore.Close)
	log.Info("postgres job store initialized")
	return pgStore
}

func setupIndex(ctx context.Context, cfg config.Config, log *logger.Logger, client redis.UniversalClient, e *engine) fingerprint.Index {
	if client != nil {
		log.Info("using redis fingerprint index", "prefix", cfg.RedisIndexPrefix)
		return fingerprint.NewRedisIndex(client, fingerprint.RedisConfig{
			Prefix: cfg.RedisIndexPrefix,
			TTL:    cfg.CacheTTL,
		})
	}

	index := fingerprint.NewMemoryIndex(fingerprint.MemoryConfig{TTL: cfg.CacheTTL})
	sweepCtx, cancel := context.WithCancel(ctx)
	go index.RunSweeper(sweepCtx, time.Minute)
	e.closers = append(e.closers, cancel)
	return index
}

func setupQueue(ctx context.Context, cfg config.Config, log *logger.Logger, client redis.UniversalClient, e *engine) error {
	if client != nil {
		streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: cfg.QueueMaxAttempts,
			Logger:      log,
		})
		if err == nil {
			log.Info("redis streams queue initialized", "stream", cfg.RedisStream)
			e.producer, e.consumer = streams, streams
			return nil
		}
		log.Warn("redis streams queue unavailable, falling back to local queue", "error", err)
	}

	local := queue.NewLocalQueue(queue.LocalConfig{
		BufferSize:  cfg.QueueBufferSize,
		MaxAttempts: cfg.QueueMaxAttempts,
		Logger:      log,
	})
	e.producer, e.consumer = local, local
	return nil
}

// setupExecutors uses the model provider when an API key is configured and
// the offline heuristic otherwise. Both sit behind the shared rate limiter.
func setupExecutors(cfg config.Config, log *logger.Logger) (*stage.Registry, error) {
	var executor stage.Executor
	if cfg.OpenRouterAPIKey == "" {
		log.Info("OPENROUTER_API_KEY not configured, using heuristic stage executor")
		executor = stage.NewHeuristicExecutor()
	} else {
		client := ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			BaseURL: cfg.OpenRouterBaseURL,
			Timeout: cfg.OpenRouterTimeout,
			SiteURL: cfg.OpenRouterSiteURL,
			AppName: cfg.OpenRouterAppName,
		})
		router := ai.NewModelRouter(ai.ModelRouterConfig{
			StructureModel: cfg.OpenRouterModelStructure,
			AppealModel:    cfg.OpenRouterModelAppeal,
			FallbackModel:  cfg.OpenRouterModelFallback,
		})
		executor = stage.NewLLMExecutor(client, router).WithCache(cache.NewResultCache(cache.Config{
			TTL:        cfg.ModelCacheTTL,
			MaxEntries: cfg.ModelCacheMaxEntries,
		}))
		log.Info("using model stage executor", "structure_model", cfg.OpenRouterModelStructure, "appeal_model", cfg.OpenRouterModelAppeal)
	}

	if cfg.StageRateLimitRPS > 0 {
		burst := max(cfg.StageRateLimitBurst, 1)
		executor = stage.Limited(executor, rate.NewLimiter(rate.Limit(cfg.StageRateLimitRPS), burst))
	}
	registry := stage.NewRegistry()
	if err := registry.RegisterAll(executor); err != nil {
		return nil, err
	}
	return registry, nil
}

func setupAggregator(cfg config.Config) (*aggregate.WeightedAggregator, error) {
	policy := aggregate.DefaultPolicy()
	if cfg.AggregationPolicyFile != "" {
		loaded, err := aggregate.LoadPolicy(cfg.AggregationPolicyFile)
		if err != nil {
			return nil, err
		}
		policy = loaded
	} else {
		policy.Weights = map[domain.StageKind]float64{
			domain.StageStructure: cfg.AggregationStructureWeight,
			domain.StageAppeal:    cfg.AggregationAppealWeight,
		}
	}
	aggregator, err := aggregate.NewWeightedAggregator(policy)
	if err != nil {
		return nil, apperr.Wrap(err, "aggregation policy")
	}
	return aggregator, nil
}

func retryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{Settings: retry.Settings{
		MaxAttempts:    cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		JitterFraction: cfg.RetryJitterFraction,
	}}
}
