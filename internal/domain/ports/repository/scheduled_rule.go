package repository

import (
	"context"

	"agent-workflow-engine/internal/domain/model"
)

// ScheduledJobRuleRepository persists one-shot rules.
type ScheduledJobRuleRepository interface {
	Create(ctx context.Context, r *model.ScheduledJobRule) error
	Get(ctx context.Context, id string) (*model.ScheduledJobRule, error)

	// Poll atomically claims a due rule: disabled=false, unlocked, not yet
	// processed, and next_run_at within [now-staleness, now]. The staleness
	// window keeps a rule frozen by a long outage from firing a storm of
	// overdue jobs. Returns domain.ErrNotFound when nothing is due.
	Poll(ctx context.Context, workerID string, staleness int64) (*model.ScheduledJobRule, error)

	// Release clears the lock. When jobID is non-empty the rule is marked
	// processed and never becomes pollable again. When jobID is empty and
	// retryAt > 0 the rule's next_run_at moves to retryAt so a failed fire
	// is retried later instead of immediately.
	Release(ctx context.Context, id, jobID string, retryAt int64) (*model.ScheduledJobRule, error)

	List(ctx context.Context, projectID string, cursor string, limit int) ([]*model.ScheduledJobRule, string, error)
	SetDisabled(ctx context.Context, id string, disabled bool) error
}
