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

var _ repository.TurnRepository = (*turnRepo)(nil)

type turnRepo struct {
	pool *pgxpool.Pool
}

func NewTurnRepo(pool *pgxpool.Pool) *turnRepo {
	return &turnRepo{pool: pool}
}

const turnColumns = `
id, project_id, conversation_id, trigger_data, messages, status, error,
worker_id, last_worker_id, created_at, last_updated_at`

func (r *turnRepo) Create(ctx context.Context, tx repository.Tx, t *model.Turn) error {
	if t.ID == "" {
		t.ID = model.NewID(time.Now())
	}
	trigger, err := json.Marshal(t.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	msgs, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	if t.Messages == nil {
		msgs = []byte("[]")
	}

	const q = `
INSERT INTO turns (id, project_id, conversation_id, trigger_data, messages, status, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7);`

	ex, err := executor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q, t.ID, t.ProjectID, t.ConversationID, trigger, msgs, t.Status, t.CreatedAt)
	return err
}

func (r *turnRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Turn, error) {
	ex, err := executor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + turnColumns + ` FROM turns WHERE id = $1;`
	return scanTurn(ex.QueryRow(ctx, q, id))
}

// Poll claims the oldest pending, unlocked turn in one statement. SKIP
// LOCKED keeps concurrent pollers from blocking on each other; only one
// UPDATE can match a given row, so exactly one of N concurrent polls wins.
func (r *turnRepo) Poll(ctx context.Context, workerID string) (*model.Turn, error) {
	q := `
UPDATE turns SET
  status = 'running',
  worker_id = $1,
  last_worker_id = $1,
  last_updated_at = now()
WHERE id = (
  SELECT id FROM turns
   WHERE status = 'pending' AND worker_id IS NULL
   ORDER BY created_at
   LIMIT 1
   FOR UPDATE SKIP LOCKED
)
RETURNING ` + turnColumns + `;`

	return scanTurn(r.pool.QueryRow(ctx, q, workerID))
}

// Lock is the same claim scoped to one id.
func (r *turnRepo) Lock(ctx context.Context, id, workerID string) (*model.Turn, error) {
	q := `
UPDATE turns SET
  status = 'running',
  worker_id = $2,
  last_worker_id = $2,
  last_updated_at = now()
WHERE id = $1 AND status = 'pending' AND worker_id IS NULL
RETURNING ` + turnColumns + `;`

	return scanTurn(r.pool.QueryRow(ctx, q, id, workerID))
}

func (r *turnRepo) Release(ctx context.Context, id string) (bool, error) {
	const q = `
UPDATE turns SET
  status = 'pending',
  worker_id = NULL,
  last_updated_at = now()
WHERE id = $1 AND worker_id IS NOT NULL;`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AppendMessages concatenates onto the jsonb log. The `||` append preserves
// existing indices, which the streaming bridge depends on.
func (r *turnRepo) AppendMessages(ctx context.Context, id string, msgs []model.Message) (*model.Turn, error) {
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}

	q := `
UPDATE turns SET
  messages = messages || $2::jsonb,
  last_updated_at = now()
WHERE id = $1
RETURNING ` + turnColumns + `;`

	return scanTurn(r.pool.QueryRow(ctx, q, id, b))
}

// Save merges status/error. A terminal status clears the worker lock in the
// same write so the running ⇔ locked invariant is never observable as
// violated.
func (r *turnRepo) Save(ctx context.Context, id string, patch repository.UpdateTurn) (*model.Turn, error) {
	var status, errMsg *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	errMsg = patch.Error

	q := `
UPDATE turns SET
  status = COALESCE($2, status),
  error = COALESCE($3, error),
  worker_id = CASE WHEN COALESCE($2, status) IN ('completed', 'failed') THEN NULL ELSE worker_id END,
  last_updated_at = now()
WHERE id = $1
RETURNING ` + turnColumns + `;`

	return scanTurn(r.pool.QueryRow(ctx, q, id, status, errMsg))
}

func (r *turnRepo) ListByConversation(ctx context.Context, conversationID string) ([]*model.Turn, error) {
	q := `SELECT ` + turnColumns + ` FROM turns WHERE conversation_id = $1 ORDER BY created_at;`
	rows, err := r.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTurn(row pgx.Row) (*model.Turn, error) {
	var (
		t                    model.Turn
		conversationID       *string
		triggerB, messagesB  []byte
		errMsg               *string
		workerID, lastWorker *string
		lastUpdated          *time.Time
	)
	err := row.Scan(
		&t.ID, &t.ProjectID, &conversationID, &triggerB, &messagesB, &t.Status,
		&errMsg, &workerID, &lastWorker, &t.CreatedAt, &lastUpdated,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if conversationID != nil {
		t.ConversationID = *conversationID
	}
	if errMsg != nil {
		t.Error = *errMsg
	}
	if workerID != nil {
		t.WorkerID = *workerID
	}
	if lastWorker != nil {
		t.LastWorkerID = *lastWorker
	}
	if lastUpdated != nil {
		t.LastUpdatedAt = *lastUpdated
	}
	if err := json.Unmarshal(triggerB, &t.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(messagesB, &t.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return &t, nil
}
