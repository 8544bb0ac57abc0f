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

var _ repository.RecurringJobRuleRepository = (*recurringRuleRepo)(nil)

type recurringRuleRepo struct {
	pool *pgxpool.Pool
}

func NewRecurringRuleRepo(pool *pgxpool.Pool) *recurringRuleRepo {
	return &recurringRuleRepo{pool: pool}
}

const recurringRuleColumns = `
id, project_id, input, cron, next_run_at, disabled, worker_id, last_worker_id,
last_processed_at, created_at, updated_at`

func (r *recurringRuleRepo) Create(ctx context.Context, rule *model.RecurringJobRule) error {
	input, err := json.Marshal(rule.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	const q = `
INSERT INTO recurring_job_rules (id, project_id, input, cron, next_run_at, disabled, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	_, err = r.pool.Exec(ctx, q, rule.ID, rule.ProjectID, input, rule.Cron, rule.NextRunAt, rule.Disabled, rule.CreatedAt)
	return err
}

func (r *recurringRuleRepo) Get(ctx context.Context, id string) (*model.RecurringJobRule, error) {
	q := `SELECT ` + recurringRuleColumns + ` FROM recurring_job_rules WHERE id = $1;`
	return scanRecurringRule(r.pool.QueryRow(ctx, q, id))
}

func (r *recurringRuleRepo) Poll(ctx context.Context, workerID string, staleness int64) (*model.RecurringJobRule, error) {
	now := time.Now().Unix()

	q := `
UPDATE recurring_job_rules SET
  worker_id = $1,
  last_worker_id = $1,
  last_processed_at = now(),
  updated_at = now()
WHERE id = (
  SELECT id FROM recurring_job_rules
   WHERE disabled = false
     AND worker_id IS NULL
     AND next_run_at <= $2
     AND next_run_at >= $3
   ORDER BY next_run_at
   LIMIT 1
   FOR UPDATE SKIP LOCKED
)
RETURNING ` + recurringRuleColumns + `;`

	return scanRecurringRule(r.pool.QueryRow(ctx, q, workerID, now, now-staleness))
}

// Release clears the lock and advances the schedule in one write, so a
// crash between "fire" and "release" can never leave the rule locked with a
// stale next_run_at.
func (r *recurringRuleRepo) Release(ctx context.Context, id string, nextRunAt int64) (*model.RecurringJobRule, error) {
	q := `
UPDATE recurring_job_rules SET
  worker_id = NULL,
  next_run_at = $2,
  updated_at = now()
WHERE id = $1
RETURNING ` + recurringRuleColumns + `;`

	return scanRecurringRule(r.pool.QueryRow(ctx, q, id, nextRunAt))
}

func (r *recurringRuleRepo) List(ctx context.Context, projectID, cursor string, limit int) ([]*model.RecurringJobRule, string, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + recurringRuleColumns + `
  FROM recurring_job_rules
 WHERE project_id = $1 AND ($2 = '' OR id < $2)
 ORDER BY id DESC
 LIMIT $3;`

	rows, err := r.pool.Query(ctx, q, projectID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []*model.RecurringJobRule
	for rows.Next() {
		rule, err := scanRecurringRule(rows)
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

func (r *recurringRuleRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	const q = `UPDATE recurring_job_rules SET disabled = $2, updated_at = now() WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, id, disabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanRecurringRule(row pgx.Row) (*model.RecurringJobRule, error) {
	var (
		rule                 model.RecurringJobRule
		inputB               []byte
		workerID, lastWorker *string
		lastProcessedAt      *time.Time
		updatedAt            *time.Time
	)
	err := row.Scan(
		&rule.ID, &rule.ProjectID, &inputB, &rule.Cron, &rule.NextRunAt, &rule.Disabled,
		&workerID, &lastWorker, &lastProcessedAt, &rule.CreatedAt, &updatedAt,
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
	rule.LastProcessedAt = lastProcessedAt
	if updatedAt != nil {
		rule.UpdatedAt = *updatedAt
	}
	if err := json.Unmarshal(inputB, &rule.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	return &rule, nil
}
