// Package app wires the infrastructure shared by the API server and the
// worker.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	cfg "github.com/feichai0017/vectordocs/config"
	"github.com/feichai0017/vectordocs/pkg/cancel"
	"github.com/feichai0017/vectordocs/pkg/events"
	"github.com/feichai0017/vectordocs/pkg/llm/ollama"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/queue"
	"github.com/feichai0017/vectordocs/pkg/storage"
	"github.com/feichai0017/vectordocs/pkg/store/postgres"
)

type App struct {
	Pipeline *cfg.PipelineConfig
	Server   *cfg.ServerConfig
	Logger   logger.Logger

	Redis    *redis.Client
	Store    *postgres.Store
	Storage  storage.Storage
	Queue    *queue.AsynqQueue
	Registry cancel.Registry
	Events   events.Publisher
	LLM      *ollama.Client

	closers []func()
}

// New connects to redis, postgres and object storage. Every connection
// opened before a failure is closed again.
func New(ctx context.Context, log logger.Logger) (*App, error) {
	a := &App{Server: cfg.GetServerConfig(), Logger: log}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	log := a.Logger

	var err error
	a.Pipeline, err = cfg.GetPipelineConfig()
	if err != nil {
		return fmt.Errorf("failed to load pipeline config: %w", err)
	}

	redisCfg := cfg.GetRedisConfig()
	a.Redis = redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	a.onClose(func() { _ = a.Redis.Close() })
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	pgCfg := cfg.GetPostgresConfig()
	a.Store, err = postgres.New(ctx, postgres.Config{
		DSN:          pgCfg.DSN,
		MaxConns:     int32(pgCfg.MaxConns),
		EmbeddingDim: pgCfg.EmbeddingDim,
	}, log.Named("postgres"))
	if err != nil {
		return err
	}
	a.onClose(a.Store.Close)

	a.Storage, err = storage.NewStorage(ctx, storage.StorageType(a.Server.StorageType), log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.Queue = queue.NewAsynqQueue(QueueConfig(redisCfg), log)
	a.onClose(func() { _ = a.Queue.Close() })

	a.Registry = cancel.NewRedisRegistry(a.Redis, redisCfg.CancelTTL)
	a.Events = events.NewRedisPublisher(a.Redis, log.Named("events"))

	ollamaCfg := cfg.GetOllamaConfig()
	a.LLM = ollama.NewClient(ollama.Config{
		Endpoint:   ollamaCfg.Endpoint,
		EmbedModel: ollamaCfg.EmbedModel,
		ChatModel:  ollamaCfg.ChatModel,
		Timeout:    ollamaCfg.Timeout,
	}, log.Named("ollama"))
	a.onClose(func() { _ = a.LLM.Close() })

	return nil
}

// QueueConfig points asynq at the configured redis.
func QueueConfig(r *cfg.RedisConfig) *queue.QueueConfig {
	return &queue.QueueConfig{
		RedisAddr:     r.Addr,
		RedisPassword: r.Password,
		RedisDB:       r.DB,
	}
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
