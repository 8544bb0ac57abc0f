package model

import "time"

// ScheduledJobRule is a one-shot schedule: it fires once at NextRunAt and is
// never pollable again once ProcessedAt is set.
//
// A rule is pollable when disabled=false, WorkerID is empty, ProcessedAt is
// nil and NextRunAt falls inside the staleness window ending at now.
type ScheduledJobRule struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Input        JobInput   `json:"input"`
	NextRunAt    int64      `json:"next_run_at"` // epoch seconds, minute-quantized
	Disabled     bool       `json:"disabled"`
	WorkerID     string     `json:"worker_id,omitempty"`
	LastWorkerID string     `json:"last_worker_id,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	JobID        string     `json:"job_id,omitempty"` // job created when the rule fired
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

func NewScheduledJobRule(projectID string, input JobInput, runAt time.Time) *ScheduledJobRule {
	now := time.Now()
	return &ScheduledJobRule{
		ID:        NewID(now),
		ProjectID: projectID,
		Input:     input,
		NextRunAt: QuantizeMinute(runAt),
		CreatedAt: now,
	}
}

// QuantizeMinute truncates t to the minute and returns epoch seconds.
func QuantizeMinute(t time.Time) int64 {
	return t.Truncate(time.Minute).Unix()
}
