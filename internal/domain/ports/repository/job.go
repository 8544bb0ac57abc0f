package repository

import (
	"context"

	"agent-workflow-engine/internal/domain/model"
)

type UpdateJob struct {
	Status *model.JobStatus
	Output *model.JobOutput
}

// JobRepository persists queued jobs produced by rule pollers and external
// triggers. Poll/Release follow the same claim protocol as turns.
type JobRepository interface {
	Create(ctx context.Context, tx Tx, j *model.Job) error
	Get(ctx context.Context, tx Tx, id string) (*model.Job, error)

	// Poll atomically claims the oldest pending, unlocked job.
	// Returns domain.ErrNotFound when the queue is empty.
	Poll(ctx context.Context, workerID string) (*model.Job, error)

	// Update merges status/output. A terminal status clears the lock.
	Update(ctx context.Context, id string, patch UpdateJob) (*model.Job, error)

	Release(ctx context.Context, id string) (bool, error)
}
