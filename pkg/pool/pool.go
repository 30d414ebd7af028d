// Package pool runs embedding generation in-process on an ants goroutine pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

var ErrNoHandler = errors.New("pool has no handler")

// HandlerFunc processes one scheduled document.
type HandlerFunc func(ctx context.Context, ref models.DocumentRef) error

type Config struct {
	// Capacity 最大并发文档数
	Capacity int
	// ExpiryDuration 空闲 goroutine 回收时间
	ExpiryDuration time.Duration
	// MaxBlockingTasks 池满时最多等待的提交数，0 表示不限
	MaxBlockingTasks int
}

func DefaultConfig() Config {
	return Config{
		Capacity:       4,
		ExpiryDuration: 30 * time.Second,
	}
}

// Scheduler submits documents to the pool. A document that is already
// queued or running is not submitted twice.
type Scheduler struct {
	ctx     context.Context
	pool    *ants.Pool
	logger  logger.Logger
	mu      sync.Mutex
	handler HandlerFunc
	active  map[string]bool
	wg      sync.WaitGroup
}

// NewScheduler creates the pool. Work runs under ctx, so cancelling it
// interrupts in-flight documents.
func NewScheduler(ctx context.Context, cfg Config, log logger.Logger) (*Scheduler, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.ExpiryDuration <= 0 {
		cfg.ExpiryDuration = DefaultConfig().ExpiryDuration
	}

	s := &Scheduler{
		ctx:    ctx,
		logger: log.Named("pool"),
		active: make(map[string]bool),
	}

	p, err := ants.NewPool(cfg.Capacity,
		ants.WithExpiryDuration(cfg.ExpiryDuration),
		ants.WithMaxBlockingTasks(cfg.MaxBlockingTasks),
		ants.WithPanicHandler(func(r interface{}) {
			s.logger.Error("Worker panic recovered", logger.Any("panic", r), logger.Stack())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	s.pool = p

	s.logger.Info("Worker pool created", logger.Int("capacity", cfg.Capacity))
	return s, nil
}

// Handle sets the function run for every scheduled document.
func (s *Scheduler) Handle(fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

func (s *Scheduler) Schedule(_ context.Context, ref models.DocumentRef) error {
	id := ref.ID.String()

	s.mu.Lock()
	handler := s.handler
	if handler == nil {
		s.mu.Unlock()
		return ErrNoHandler
	}
	if s.active[id] {
		s.mu.Unlock()
		s.logger.Debug("Document already scheduled", logger.String("documentId", id))
		return nil
	}
	s.active[id] = true
	s.mu.Unlock()

	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		defer s.release(id)

		if err := handler(s.ctx, ref); err != nil {
			s.logger.Error("Document processing failed",
				logger.String("documentId", id),
				logger.Error(err),
			)
		}
	})
	if err != nil {
		s.wg.Done()
		s.release(id)
		return fmt.Errorf("failed to submit document: %w", err)
	}
	return nil
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Running returns the number of workers currently busy.
func (s *Scheduler) Running() int {
	return s.pool.Running()
}

// Wait blocks until every submitted document has been handled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close waits up to timeout for running work and releases the pool.
func (s *Scheduler) Close(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("Timed out waiting for workers", logger.Duration("timeout", timeout))
	}
	return s.pool.ReleaseTimeout(timeout)
}
