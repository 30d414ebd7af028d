// Package queue carries document and embedding work between the API and
// the worker over asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/vectordocs/internal/models"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

// 任务类型
const (
	TaskTypeDocumentUploaded  = "document:uploaded"
	TaskTypeDocumentDeleted   = "document:deleted"
	TaskTypeEmbeddingGenerate = "embedding:generate"
	TaskTypeEmbeddingSweep    = "embedding:sweep"
)

// 队列名称
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues is the weighting the worker serves the queues with.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// Queue enqueues a JSON payload under a task type.
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error
}

type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MaxRetries     int
	ProcessTimeout time.Duration
}

func (c *QueueConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// AsynqQueue 实现
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	config    *QueueConfig
	logger    logger.Logger
}

func NewAsynqQueue(cfg *QueueConfig, log logger.Logger) *AsynqQueue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Minute
	}
	opt := cfg.RedisOpt()
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		config:    cfg,
		logger:    log.Named("queue"),
	}
}

// NewTask marshals payload into a task of the given type.
func NewTask(taskType string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return asynq.NewTask(taskType, data, opts...), nil
}

// DecodePayload unmarshals a task payload. Malformed payloads never
// succeed on retry, so the error skips retries.
func DecodePayload(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func (q *AsynqQueue) Enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	base := []asynq.Option{
		asynq.MaxRetry(q.config.MaxRetries),
		asynq.Timeout(q.config.ProcessTimeout),
		asynq.Queue(queueFor(taskType)),
	}

	t, err := NewTask(taskType, payload, append(base, opts...)...)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.Debug("Task enqueued",
		logger.String("taskId", info.ID),
		logger.String("type", taskType),
		logger.String("queue", info.Queue),
	)
	return nil
}

// Delete removes a task that has not started yet. Missing tasks are not
// an error.
func (q *AsynqQueue) Delete(taskType, taskID string) error {
	err := q.inspector.DeleteTask(queueFor(taskType), taskID)
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// archived reports whether the task exhausted its retries and sits in the
// archive, where it keeps holding its task id.
func (q *AsynqQueue) archived(taskType, taskID string) bool {
	info, err := q.inspector.GetTaskInfo(queueFor(taskType), taskID)
	return err == nil && info.State == asynq.TaskStateArchived
}

func (q *AsynqQueue) Close() error {
	if err := q.inspector.Close(); err != nil {
		q.logger.Warn("Failed to close inspector", logger.Error(err))
	}
	return q.client.Close()
}

// 根据任务类型选择队列
func queueFor(taskType string) string {
	switch taskType {
	case TaskTypeDocumentDeleted:
		return QueueCritical
	case TaskTypeEmbeddingSweep:
		return QueueLow
	default:
		return QueueDefault
	}
}

// EmbeddingTaskID is the task id used for a document's embedding task.
// While one is pending a second enqueue is rejected.
func EmbeddingTaskID(documentID string) string {
	return "embedding:" + documentID
}

// EmbeddingScheduler schedules embedding generation as queue tasks.
type EmbeddingScheduler struct {
	queue *AsynqQueue
}

func NewEmbeddingScheduler(q *AsynqQueue) *EmbeddingScheduler {
	return &EmbeddingScheduler{queue: q}
}

func (s *EmbeddingScheduler) Schedule(ctx context.Context, ref models.DocumentRef) error {
	taskID := EmbeddingTaskID(ref.ID.String())
	err := s.queue.Enqueue(ctx, TaskTypeEmbeddingGenerate, ref, asynq.TaskID(taskID))
	if !errors.Is(err, asynq.ErrTaskIDConflict) && !errors.Is(err, asynq.ErrDuplicateTask) {
		return err
	}
	if !s.queue.archived(TaskTypeEmbeddingGenerate, taskID) {
		return nil
	}
	// 归档任务仍占用 task id，删除后重新入队
	if err := s.queue.Delete(TaskTypeEmbeddingGenerate, taskID); err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, TaskTypeEmbeddingGenerate, ref, asynq.TaskID(taskID))
}

// Unschedule drops a pending embedding task for the document.
func (s *EmbeddingScheduler) Unschedule(_ context.Context, ref models.DocumentRef) error {
	return s.queue.Delete(TaskTypeEmbeddingGenerate, EmbeddingTaskID(ref.ID.String()))
}
