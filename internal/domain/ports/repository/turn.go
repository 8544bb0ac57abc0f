package repository

import (
	"context"

	"agent-workflow-engine/internal/domain/model"
)

// UpdateTurn is a partial patch for a turn's terminal fields. Nil fields are
// left untouched. Setting a terminal status also clears the worker lock so
// the running ⇔ locked invariant holds after the write.
type UpdateTurn struct {
	Status *model.TurnStatus
	Error  *string
}

// TurnRepository persists turns and implements the locking protocol. Every
// mutating operation is a single atomic conditional update: the claim is the
// write itself, so N concurrent workers need no external mutex.
type TurnRepository interface {
	Create(ctx context.Context, tx Tx, t *model.Turn) error
	Get(ctx context.Context, tx Tx, id string) (*model.Turn, error)

	// Poll atomically claims the oldest pending, unlocked turn for workerID
	// and marks it running. Returns domain.ErrNotFound when no work is
	// available; callers back off rather than spin.
	Poll(ctx context.Context, workerID string) (*model.Turn, error)

	// Lock is the same claim scoped to one id, for direct dispatch. Returns
	// domain.ErrNotFound when the turn is absent, already locked, or not
	// pending.
	Lock(ctx context.Context, id, workerID string) (*model.Turn, error)

	// Release clears the lock and moves the turn back to pending. Reports
	// whether a lock was actually released.
	Release(ctx context.Context, id string) (bool, error)

	// AppendMessages appends to the log and bumps LastUpdatedAt. The log is
	// append-only and index-preserving: array position is the streaming
	// bridge's ordering key.
	AppendMessages(ctx context.Context, id string, msgs []model.Message) (*model.Turn, error)

	Save(ctx context.Context, id string, patch UpdateTurn) (*model.Turn, error)

	ListByConversation(ctx context.Context, conversationID string) ([]*model.Turn, error)
}
