// Package app assembles the query pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatpd/orchestrator/internal/api/handlers"
	"github.com/chatpd/orchestrator/internal/cache"
	"github.com/chatpd/orchestrator/internal/config"
	"github.com/chatpd/orchestrator/internal/database"
	"github.com/chatpd/orchestrator/internal/extractor"
	"github.com/chatpd/orchestrator/internal/fallback"
	"github.com/chatpd/orchestrator/internal/health"
	"github.com/chatpd/orchestrator/internal/llm"
	"github.com/chatpd/orchestrator/internal/middleware"
	"github.com/chatpd/orchestrator/internal/migration"
	"github.com/chatpd/orchestrator/internal/repository"
	"github.com/chatpd/orchestrator/internal/semantic"
	"github.com/chatpd/orchestrator/internal/services"
	"github.com/chatpd/orchestrator/internal/structured"
	"github.com/chatpd/orchestrator/internal/synthesis"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// App is the wired service.
type App struct {
	Config       *config.Config
	DB           *database.Manager
	Repos        *repository.RepositoryManager
	Orchestrator *services.Orchestrator
	Health       *health.HealthChecker
	Handler      *handlers.QueryHandler

	sweeper cache.Sweeper
	limiter *middleware.RateLimiter
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

// New connects to the databases, runs migrations when enabled and builds the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	dbManager, err := database.NewManager(&database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    redisURL(cfg),
		LogLevel:    cfg.Database.LogLevel,
	}, logger)
	if err != nil {
		return nil, err
	}

	a, err := build(ctx, cfg, dbManager, logger)
	if err != nil {
		dbManager.Close()
		return nil, err
	}
	return a, nil
}

// redisURL returns the Redis address only when something uses Redis.
func redisURL(cfg *config.Config) string {
	if cfg.Cache.Enabled && cfg.Cache.Backend == cache.BackendRedis {
		return cfg.Redis.URL
	}
	return ""
}

func build(ctx context.Context, cfg *config.Config, dbManager *database.Manager, logger *logrus.Logger) (*App, error) {
	if cfg.Migrations.Enabled {
		if err := migration.NewRunner(dbManager, logger).RunMigrations(cfg.Migrations.Path); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	repos := repository.NewRepositoryManager(dbManager.DB)

	gazetteer, err := buildGazetteer(ctx, cfg, repos.Regulatory, logger)
	if err != nil {
		return nil, err
	}
	table, err := fallback.LoadFile(cfg.Fallback.ArticlesFile)
	if err != nil {
		return nil, err
	}

	checker := health.NewHealthChecker(repos.SystemHealth, logger)
	checker.Register("postgresql", true, dbManager.PingDatabase)
	if dbManager.Redis != nil {
		checker.Register("redis", false, dbManager.PingRedis)
	}

	var retriever services.SemanticRetriever
	if cfg.SemanticEnabled() {
		embedder, err := buildEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := semantic.NewPostgresStore(dbManager.DB, cfg.Retrieval.SearchMode)
		retriever = semantic.NewRetriever(embedder, store, cfg.Embedding.Dimensions, logger)
		checker.Register("corpus", false, health.CorpusProbe(store, cfg.Embedding.Dimensions))
		logger.WithFields(logrus.Fields{
			"embedder":    embedder.Name(),
			"dimensions":  cfg.Embedding.Dimensions,
			"search_mode": cfg.Retrieval.SearchMode,
		}).Info("Semantic retrieval enabled")
	} else {
		logger.Warn("No embedding provider configured, semantic retrieval disabled")
	}

	var composer synthesis.Composer
	if cfg.LLMEnabled() {
		svc, err := buildComposer(cfg, logger)
		if err != nil {
			return nil, err
		}
		composer = svc
		checker.Register("llm", false, health.PingProbe(svc))
		logger.WithField("composer", svc.Name()).Info("LLM composition enabled")
	}

	qc, err := buildCache(cfg, dbManager)
	if err != nil {
		return nil, err
	}
	var sweeper cache.Sweeper
	if s, ok := qc.(cache.Sweeper); ok {
		sweeper = s
	}

	orch := services.NewOrchestrator(services.Dependencies{
		Extractor:   extractor.NewExtractor(gazetteer, cfg.Retrieval.DefaultDocument, logger),
		Structured:  structured.NewSynthesizer(repos.Regulatory, repos.Regulatory, cfg.Retrieval.MaxRows, logger),
		Semantic:    retriever,
		Synthesizer: synthesis.NewSynthesizer(composer, logger),
		Fallback:    table,
		Cache:       qc,
	}, orchestratorConfig(cfg), logger)

	analytics := repos
	if !cfg.Analytics.Enabled {
		analytics = nil
	}

	return &App{
		Config:       cfg,
		DB:           dbManager,
		Repos:        repos,
		Orchestrator: orch,
		Health:       checker,
		Handler:      handlers.NewQueryHandler(orch, analytics, checker, cfg.Server.MaxQueryLength, logger),
		sweeper:      sweeper,
		limiter:      middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow),
		logger:       logger,
	}, nil
}

func orchestratorConfig(cfg *config.Config) services.Config {
	return services.Config{
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		StructuredTimeout:   cfg.Retrieval.StructuredTimeout,
		SemanticTimeout:     cfg.Retrieval.SemanticTimeout,
		CacheTTL:            cfg.Cache.TTL,
	}
}

// NeighborhoodSource lists the names present in the regulatory relation.
type NeighborhoodSource interface {
	Neighborhoods(ctx context.Context) ([]string, error)
	ZoneCodes(ctx context.Context) ([]string, error)
}

func buildGazetteer(ctx context.Context, cfg *config.Config, src NeighborhoodSource, logger *logrus.Logger) (*extractor.Gazetteer, error) {
	g, err := extractor.LoadGazetteerFile(cfg.Gazetteer.File)
	if err != nil {
		return nil, err
	}
	if !cfg.Gazetteer.LoadFromDB {
		return g, nil
	}

	neighborhoods, err := src.Neighborhoods(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to load neighborhoods from database, using gazetteer file only")
		return g, nil
	}
	zones, err := src.ZoneCodes(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to load zone codes from database, using gazetteer file only")
		return g, nil
	}

	extended := g.With(neighborhoods, zones)
	logger.WithFields(logrus.Fields{
		"file_neighborhoods": g.Size(),
		"neighborhoods":      extended.Size(),
	}).Info("Gazetteer extended from regulatory data")
	return extended, nil
}

func buildEmbedder(ctx context.Context, cfg *config.Config) (semantic.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" {
			return nil, fmt.Errorf("embedding.api_key is required for the openai provider")
		}
		return semantic.NewOpenAIEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey,
			cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.Timeout), nil
	case "genai", "gemini":
		return semantic.NewGenAIEmbedder(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func buildComposer(cfg *config.Config, logger *logrus.Logger) (*llm.Service, error) {
	client, err := llm.NewClient(llm.Config{
		Provider:    cfg.LLM.Provider,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return llm.NewService(client, logger), nil
}

// buildCache returns nil when caching is disabled.
func buildCache(cfg *config.Config, dbManager *database.Manager) (cache.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	switch cfg.Cache.Backend {
	case cache.BackendMemory:
		return cache.NewMemoryCache(), nil
	case cache.BackendRedis:
		if dbManager.Redis == nil {
			return nil, fmt.Errorf("redis cache backend requires redis.url")
		}
		return cache.NewRedisCache(dbManager.Redis), nil
	case cache.BackendPostgres:
		return cache.NewPostgresCache(dbManager.DB), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// Router builds the HTTP engine with the middleware chain.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Timeout(a.Config.Server.RequestTimeout))

	a.Handler.RegisterRoutes(r, a.limiter.RateLimit())
	return r
}

// Start launches the background loops; they stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.Config.Health.Interval > 0 {
		a.run(func() { a.Health.PeriodicHealthCheck(ctx, a.Config.Health.Interval) })
	}
	a.run(func() { a.limiter.Cleanup(ctx, time.Minute) })
	if a.sweeper != nil {
		a.run(func() { services.RunCacheJanitor(ctx, a.sweeper, a.Config.Cache.SweepInterval, a.logger) })
	}
}

func (a *App) run(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Close waits for background work and releases connections.
func (a *App) Close() error {
	a.wg.Wait()
	a.Handler.Wait()
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
