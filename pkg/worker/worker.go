package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/queue"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	Redis         asynq.RedisClientOpt
	Concurrency   int
	Queues        map[string]int
	SweepInterval time.Duration
}

// BaseWorker owns the asynq server and the periodic task scheduler.
type BaseWorker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    logger.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
}

func newBaseWorker(cfg *Config, log logger.Logger) *BaseWorker {
	if cfg.Queues == nil {
		cfg.Queues = queue.Queues
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	w := &BaseWorker{
		mux:      asynq.NewServeMux(),
		logger:   log,
		stopChan: make(chan struct{}),
	}
	w.server = asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(n) * time.Minute
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("Task failed",
				logger.String("type", task.Type()),
				logger.Error(err),
			)
		}),
	})
	w.scheduler = asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{})
	return w
}

// schedule registers a task enqueued every interval.
func (w *BaseWorker) schedule(interval time.Duration, taskType string) error {
	task, err := queue.NewTask(taskType, struct{}{})
	if err != nil {
		return err
	}
	cronSpec := fmt.Sprintf("@every %s", interval)
	if _, err := w.scheduler.Register(cronSpec, task, asynq.Queue(queue.QueueLow), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to register %s: %w", taskType, err)
	}
	w.logger.Info("Periodic task registered", logger.String("type", taskType), logger.Duration("interval", interval))
	return nil
}

func (w *BaseWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	if err := w.scheduler.Start(); err != nil {
		w.server.Shutdown()
		return fmt.Errorf("failed to start task scheduler: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.scheduler.Shutdown()
		w.server.Shutdown()
		w.logger.Info("Worker stopped")
	})
	return nil
}
