package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/config"
	"github.com/markdave123-py/kbparse/internal/core"
	"github.com/markdave123-py/kbparse/internal/core/analyzer"
	db "github.com/markdave123-py/kbparse/internal/core/database"
	"github.com/markdave123-py/kbparse/internal/core/index"
	"github.com/markdave123-py/kbparse/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbparse/internal/core/llm"
	objectclient "github.com/markdave123-py/kbparse/internal/core/object-client"
	"github.com/markdave123-py/kbparse/internal/core/tasks"
	"github.com/markdave123-py/kbparse/internal/core/workers"
	"github.com/markdave123-py/kbparse/internal/services"
)

type App struct {
	cfg *config.Config
	log *zap.Logger

	sqlDB    *sql.DB
	DBClient core.DbClient
	Objects  core.ObjectClient
	Index    core.IndexStore
	redis    *redis.Client

	Documents  *services.DocumentService
	Embeddings *services.EmbeddingService
	Ingest     *services.IngestService

	queue *ingestion_engine.DocumentIngestor
	pool  *workers.Pool
}

// EnvEmbedding is the embedding configuration used when no system row exists.
func EnvEmbedding(cfg *config.Config) llm.Settings {
	s := llm.Settings{
		Provider: llm.Provider(cfg.EmbedProvider),
		Model:    cfg.EmbedModel,
		APIBase:  cfg.EmbedAPIBase,
		APIKey:   cfg.EmbedAPIKey,
		Timeout:  cfg.EmbedTimeout,
	}
	if s.Provider == llm.ProviderGemini && cfg.GeminiAPIKey != "" {
		s.APIKey = cfg.GeminiAPIKey
	}
	return s
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (a *App, err error) {
	a = &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if a.sqlDB, err = db.Open(initCtx, cfg); err != nil {
		return nil, err
	}
	dbClient, err := db.NewDatabaseClient(initCtx, a.sqlDB)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	log.Info("database ready")

	if a.Objects, err = objectclient.New(initCtx, cfg); err != nil {
		return nil, err
	}
	log.Info("object store ready", zap.String("driver", cfg.ObjectStore))

	if a.Index, err = index.New(initCtx, cfg, a.sqlDB); err != nil {
		return nil, err
	}
	log.Info("search index ready", zap.String("driver", cfg.IndexStore))

	layout, err := analyzer.New(cfg)
	if err != nil {
		return nil, err
	}

	parser := ingestion_engine.NewParser(
		a.DBClient, a.Objects, a.Index,
		layout, analyzer.ExcelAnalyzer{},
		llm.NewEmbedder,
		ingestion_engine.IngestConfig{
			EmbedDim:    cfg.EmbedDim,
			IndexPrefix: cfg.IndexPrefix,
			TempDir:     cfg.TempDir,
		},
		log.Named("parser"),
	)

	a.Embeddings = services.NewEmbeddingService(a.DBClient, EnvEmbedding(cfg), llm.NewEmbedder, log.Named("embedding"))
	a.Documents = services.NewDocumentService(a.DBClient, parser, a.Embeddings, log.Named("documents"))

	a.queue = ingestion_engine.NewDocumentIngestor(a.Documents.ParseDocument, cfg.ParseQueueSize, log.Named("queue"))

	poolCfg := workers.DefaultConfig()
	poolCfg.Capacity = cfg.BatchCapacity
	if a.pool, err = workers.NewPool("batch-parse", poolCfg, log); err != nil {
		return nil, err
	}

	registry, err := a.registry(initCtx)
	if err != nil {
		return nil, err
	}
	tracker := tasks.NewTracker(registry, a.DBClient, a.Documents.ParseDocument, a.pool, log.Named("batch"))

	a.Ingest = services.NewIngestService(a.DBClient, a.queue, tracker)
	return a, nil
}

func (a *App) registry(ctx context.Context) (tasks.Registry, error) {
	if a.cfg.TaskRegistry != "redis" {
		return tasks.NewMemoryRegistry(), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", a.cfg.RedisAddr, err)
	}
	a.log.Info("batch registry ready", zap.String("driver", "redis"), zap.String("addr", a.cfg.RedisAddr))
	return tasks.NewRedisRegistry(a.redis, 0), nil
}

// StartWorkers runs the async parse queue until ctx is cancelled.
func (a *App) StartWorkers(ctx context.Context) {
	a.queue.Start(ctx, a.cfg.ParseWorkers)
	a.log.Info("parse workers started", zap.Int("workers", a.cfg.ParseWorkers))
}

// Close waits for in-flight work after the worker context is cancelled and
// releases every client.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Wait()
	}
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Release(30*time.Second))
	}
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DBClient != nil {
		errs = append(errs, a.DBClient.Close())
	} else if a.sqlDB != nil {
		errs = append(errs, a.sqlDB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown", zap.Error(err))
	}
}
