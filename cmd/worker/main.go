package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "github.com/feichai0017/vectordocs/config"
	"github.com/feichai0017/vectordocs/internal/agent"
	"github.com/feichai0017/vectordocs/internal/app"
	"github.com/feichai0017/vectordocs/internal/chunker"
	"github.com/feichai0017/vectordocs/internal/service/document"
	"github.com/feichai0017/vectordocs/internal/service/embedding"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/pool"
	"github.com/feichai0017/vectordocs/pkg/queue"
	"github.com/feichai0017/vectordocs/pkg/worker"
)

func main() {
	serverCfg := cfg.GetServerConfig()

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(serverCfg.LogLevel),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
		logger.WithService("worker"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("Worker exited with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker stopped")
}

func run(ctx context.Context, log logger.Logger) error {
	a, err := app.New(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()
	pc := a.Pipeline

	// 文本抽取
	factory, err := agent.NewProcessorFactory(ctx, log.Named("extract"), pc.OCR)
	if err != nil {
		return err
	}
	defer factory.Close()

	var tokens chunker.TokenCounter
	if pc.Chunking.CountToks {
		counter, err := chunker.NewTiktokenCounter("cl100k_base")
		if err != nil {
			log.Warn("Token counting disabled", logger.Error(err))
		} else {
			tokens = counter
		}
	}
	ch := chunker.New(pc.Chunking.Size, pc.Chunking.Overlap, tokens)

	// 嵌入调度: asynq 任务或进程内协程池
	var (
		scheduler embedding.Scheduler
		workers   *pool.Scheduler
	)
	switch pc.Embedding.Scheduler {
	case "pool":
		workers, err = pool.NewScheduler(ctx, pool.Config{
			Capacity:       pc.Embedding.PoolSize,
			ExpiryDuration: pool.DefaultConfig().ExpiryDuration,
		}, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := workers.Close(30 * time.Second); err != nil {
				log.Warn("Embedding pool did not drain", logger.Error(err))
			}
		}()
		scheduler = workers
	default:
		scheduler = queue.NewEmbeddingScheduler(a.Queue)
	}

	pipeline := embedding.NewPipeline(a.Store, ch, a.LLM, a.Events, a.Registry, scheduler, embedding.Config{
		BatchSize:   pc.Embedding.BatchSize,
		MaxAttempts: pc.Embedding.MaxAttempts,
		Backoff:     pc.Embedding.Backoff,
	}, log)
	if workers != nil {
		workers.Handle(pipeline.ProcessDocument)
	}

	fetcher := document.NewFetcher(a.Storage, a.Server.MaxUploadSize, time.Minute)
	docService := document.NewService(a.Store, a.Storage, a.Queue, a.Registry, a.Events, log,
		document.WithProcessing(factory, pipeline, fetcher),
	)

	// 创建 worker
	documentWorker, err := worker.NewDocumentWorker(&worker.Config{
		Redis:         app.QueueConfig(cfg.GetRedisConfig()).RedisOpt(),
		Concurrency:   a.Server.WorkerCount,
		Queues:        queue.Queues,
		SweepInterval: pc.Embedding.SweepInterval,
	}, worker.NewHandlers(docService, pipeline, log), log)
	if err != nil {
		return err
	}

	if err := documentWorker.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down worker...")
	return documentWorker.Stop()
}
