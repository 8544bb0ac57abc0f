package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
)

var _ repository.ScheduledJobRuleRepository = (*scheduledRuleRepo)(nil)

type scheduledRuleRepo struct {
	pool *pgxpool.Pool
}

func NewScheduledRuleRepo(pool *pgxpool.Pool) *scheduledRuleRepo {
	return &scheduledRuleRepo{pool: pool}
}

const scheduledRuleColumns = `
id, project_id, input, next_run_at, disabled, worker_id, last_worker_id,
processed_at, job_id, created_at, updated_at`

func (r *scheduledRuleRepo) Create(ctx context.Context, rule *model.ScheduledJobRule) error {
	input, err := json.Marshal(rule.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	const q = `
INSERT INTO scheduled_job_rules (id, project_id, input, next_run_at, disabled, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`
	_, err = r.pool.Exec(ctx, q, rule.ID, rule.ProjectID, input, rule.NextRunAt, rule.Disabled, rule.CreatedAt)
	return err
}

func (r *scheduledRuleRepo) Get(ctx context.Context, id string) (*model.ScheduledJobRule, error) {
	q := `SELECT ` + scheduledRuleColumns + ` FROM scheduled_job_rules WHERE id = $1;`
	return scanScheduledRule(r.pool.QueryRow(ctx, q, id))
}

// Poll claims one due rule. The window predicate bounds how overdue a rule
// may be: anything older than the staleness window is skipped rather than
// fired late.
func (r *scheduledRuleRepo) Poll(ctx context.Context, workerID string, staleness int64) (*model.ScheduledJobRule, error) {
	now := time.Now().Unix()

	q := `
UPDATE scheduled_job_rules SET
  worker_id = $1,
  last_worker_id = $1,
  updated_at = now()
WHERE id = (
  SELECT id FROM scheduled_job_rules
   WHERE disabled = false
     AND worker_id IS NULL
     AND processed_at IS NULL
     AND next_run_at <= $2
     AND next_run_at >= $3
   ORDER BY next_run_at
   LIMIT 1
   FOR UPDATE SKIP LOCKED
)
RETURNING ` + scheduledRuleColumns + `;`

	return scanScheduledRule(r.pool.QueryRow(ctx, q, workerID, now, now-staleness))
}

// Release clears the lock. With a job id the rule is marked processed,
// which removes it from the pollable set permanently.
func (r *scheduledRuleRepo) Release(ctx context.Context, id, jobID string, retryAt int64) (*model.ScheduledJobRule, error) {
	q := `
UPDATE scheduled_job_rules SET
  worker_id = NULL,
  processed_at = CASE WHEN $2 <> '' THEN now() ELSE processed_at END,
  job_id = CASE WHEN $2 <> '' THEN $2 ELSE job_id END,
  next_run_at = CASE WHEN $2 = '' AND $3 > 0 THEN $3 ELSE next_run_at END,
  updated_at = now()
WHERE id = $1
RETURNING ` + scheduledRuleColumns + `;`

	return scanScheduledRule(r.pool.QueryRow(ctx, q, id, jobID, retryAt))
}

func (r *scheduledRuleRepo) List(ctx context.Context, projectID, cursor string, limit int) ([]*model.ScheduledJobRule, string, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + scheduledRuleColumns + `
  FROM scheduled_job_rules
 WHERE project_id = $1 AND ($2 = '' OR id < $2)
 ORDER BY id DESC
 LIMIT $3;`

	rows, err := r.pool.Query(ctx, q, projectID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []*model.ScheduledJobRule
	for rows.Next() {
		rule, err := scanScheduledRule(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (r *scheduledRuleRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	const q = `UPDATE scheduled_job_rules SET disabled = $2, updated_at = now() WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, id, disabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanScheduledRule(row pgx.Row) (*model.ScheduledJobRule, error) {
	var (
		rule                 model.ScheduledJobRule
		inputB               []byte
		workerID, lastWorker *string
		jobID                *string
		processedAt          *time.Time
		updatedAt            *time.Time
	)
	err := row.Scan(
		&rule.ID, &rule.ProjectID, &inputB, &rule.NextRunAt, &rule.Disabled,
		&workerID, &lastWorker, &processedAt, &jobID, &rule.CreatedAt, &updatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if workerID != nil {
		rule.WorkerID = *workerID
	}
	if lastWorker != nil {
		rule.LastWorkerID = *lastWorker
	}
	if jobID != nil {
		rule.JobID = *jobID
	}
	rule.ProcessedAt = processedAt
	if updatedAt != nil {
		rule.UpdatedAt = *updatedAt
	}
	if err := json.Unmarshal(inputB, &rule.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	return &rule, nil
}
