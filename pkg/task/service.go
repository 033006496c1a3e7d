package task

import (
	"context"
	"fmt"

	"helpdesk-gamification/pkg/logger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer hands background work (achievement evaluation, daily badge jobs)
// to the worker process.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client is the part of *asynq.Client the enqueuer needs.
type Client interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuer struct {
	client Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return NewEnqueuerWithClient(client)
}

func NewEnqueuerWithClient(client Client) Enqueuer {
	return &enqueuer{client: client}
}

// Enqueue keeps asynq sentinel errors (ErrTaskIDConflict, ErrDuplicateTask)
// reachable through errors.Is so callers can treat a repeat as done.
func (e *enqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	log := zap.L().With(logger.TraceFields(ctx)...).With(zap.String("task_type", t.Type()))

	info, err := e.client.EnqueueContext(ctx, t, opts...)
	if err != nil {
		log.Debug("enqueue rejected", zap.Error(err))
		return nil, fmt.Errorf("enqueue %s: %w", t.Type(), err)
	}

	log.Debug("task enqueued",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.Int("max_retry", info.MaxRetry),
	)
	return info, nil
}
