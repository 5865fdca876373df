package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/excerpo/internal/models"
)

// TaskQueue is the durable task queue feeding the background processor.
// Tasks survive restarts and become visible again when a consumer dies
// without acknowledging.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *models.QueueTask) error
	EnqueueWithDelay(ctx context.Context, task *models.QueueTask, delay time.Duration) error

	// Receive pulls the next visible task. The returned ack function
	// removes the task permanently; a task that is never acked reappears
	// after the visibility timeout.
	Receive(ctx context.Context) (*models.QueueTask, func() error, error)

	// Extend pushes out the visibility deadline for a task currently
	// being worked.
	Extend(ctx context.Context, taskID string, duration time.Duration) error

	Length(ctx context.Context) (int, error)
	Close() error
}

// TaskExecutor runs tasks of a single type.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.QueueTask) error
}

// TaskProcessor drains the task queue and dispatches each task to the
// executor registered for its type.
type TaskProcessor interface {
	RegisterExecutor(taskType string, executor TaskExecutor)
	Start() error
	Stop() error
}
