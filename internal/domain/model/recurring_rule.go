package model

import "time"

// RecurringJobRule is a long-lived schedule driven by a cron expression.
// On every release the poller recomputes NextRunAt, so the rule cycles
// between idle and locked-and-firing until disabled.
type RecurringJobRule struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Input           JobInput   `json:"input"`
	Cron            string     `json:"cron"`
	NextRunAt       int64      `json:"next_run_at"` // epoch seconds, minute-quantized
	Disabled        bool       `json:"disabled"`
	WorkerID        string     `json:"worker_id,omitempty"`
	LastWorkerID    string     `json:"last_worker_id,omitempty"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
}

func NewRecurringJobRule(projectID string, input JobInput, cron string, firstRunAt time.Time) *RecurringJobRule {
	now := time.Now()
	return &RecurringJobRule{
		ID:        NewID(now),
		ProjectID: projectID,
		Input:     input,
		Cron:      cron,
		NextRunAt: QuantizeMinute(firstRunAt),
		CreatedAt: now,
	}
}
