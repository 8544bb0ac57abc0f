package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const jobColumns = `
id, reason, project_id, input, status, worker_id, last_worker_id, output, created_at, updated_at`

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, j *model.Job) error {
	if j.ID == "" {
		j.ID = model.NewID(time.Now())
	}
	reason, err := json.Marshal(j.Reason)
	if err != nil {
		return fmt.Errorf("marshal reason: %w", err)
	}
	input, err := json.Marshal(j.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	const q = `
INSERT INTO jobs (id, reason, project_id, input, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	ex, err := executor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q, j.ID, reason, j.ProjectID, input, j.Status, j.CreatedAt)
	return err
}

func (r *jobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	ex, err := executor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return scanJob(ex.QueryRow(ctx, q, id))
}

// Poll atomically claims the oldest pending job inside a transaction: the
// SKIP LOCKED select and the claiming update commit together, so a job is
// observed by at most one worker.
func (r *jobRepo) Poll(ctx context.Context, workerID string) (*model.Job, error) {
	var job *model.Job

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQ = `
SELECT id FROM jobs
 WHERE status = 'pending' AND worker_id IS NULL
 ORDER BY created_at
 LIMIT 1
 FOR UPDATE SKIP LOCKED;`

		ex, err := executor(r.pool, tx)
		if err != nil {
			return err
		}

		var id string
		if err := ex.QueryRow(ctx, fetchQ).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}

		claimQ := `
UPDATE jobs SET
  status = 'running',
  worker_id = $2,
  last_worker_id = $2,
  updated_at = now()
WHERE id = $1
RETURNING ` + jobColumns + `;`

		job, err = scanJob(ex.QueryRow(ctx, claimQ, id, workerID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) Update(ctx context.Context, id string, patch repository.UpdateJob) (*model.Job, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	var output []byte
	if patch.Output != nil {
		b, err := json.Marshal(patch.Output)
		if err != nil {
			return nil, fmt.Errorf("marshal output: %w", err)
		}
		output = b
	}

	q := `
UPDATE jobs SET
  status = COALESCE($2, status),
  output = COALESCE($3, output),
  worker_id = CASE WHEN COALESCE($2, status) IN ('completed', 'failed') THEN NULL ELSE worker_id END,
  updated_at = now()
WHERE id = $1
RETURNING ` + jobColumns + `;`

	return scanJob(r.pool.QueryRow(ctx, q, id, status, output))
}

func (r *jobRepo) Release(ctx context.Context, id string) (bool, error) {
	const q = `
UPDATE jobs SET
  status = 'pending',
  worker_id = NULL,
  updated_at = now()
WHERE id = $1 AND worker_id IS NOT NULL;`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j                    model.Job
		reasonB, inputB      []byte
		outputB              []byte
		workerID, lastWorker *string
		updatedAt            *time.Time
	)
	err := row.Scan(
		&j.ID, &reasonB, &j.ProjectID, &inputB, &j.Status,
		&workerID, &lastWorker, &outputB, &j.CreatedAt, &updatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if workerID != nil {
		j.WorkerID = *workerID
	}
	if lastWorker != nil {
		j.LastWorkerID = *lastWorker
	}
	if updatedAt != nil {
		j.UpdatedAt = *updatedAt
	}
	if err := json.Unmarshal(reasonB, &j.Reason); err != nil {
		return nil, fmt.Errorf("unmarshal reason: %w", err)
	}
	if err := json.Unmarshal(inputB, &j.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if len(outputB) > 0 {
		var out model.JobOutput
		if err := json.Unmarshal(outputB, &out); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
		j.Output = &out
	}
	return &j, nil
}
