package repository

import (
	"context"

	"agent-workflow-engine/internal/domain/model"
)

// RecurringJobRuleRepository persists cron-driven rules.
type RecurringJobRuleRepository interface {
	Create(ctx context.Context, r *model.RecurringJobRule) error
	Get(ctx context.Context, id string) (*model.RecurringJobRule, error)

	// Poll atomically claims a due rule within the staleness window and
	// records LastProcessedAt. Returns domain.ErrNotFound when nothing is
	// due.
	Poll(ctx context.Context, workerID string, staleness int64) (*model.RecurringJobRule, error)

	// Release clears the lock and sets the next eligible time, making the
	// rule pollable again. Always called, including after a processing
	// failure (with a short retry delay), so a bad rule cannot stay locked.
	Release(ctx context.Context, id string, nextRunAt int64) (*model.RecurringJobRule, error)

	List(ctx context.Context, projectID string, cursor string, limit int) ([]*model.RecurringJobRule, string, error)
	SetDisabled(ctx context.Context, id string, disabled bool) error
}
