package model

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type JobReasonType string

const (
	JobReasonComposioTrigger  JobReasonType = "composio_trigger"
	JobReasonRecurringJobRule JobReasonType = "recurring_job_rule"
	JobReasonScheduledJobRule JobReasonType = "scheduled_job_rule"
)

// JobReason records what enqueued the job: an external trigger or one of the
// rule pollers. RuleID/TriggerID is set according to Type.
type JobReason struct {
	Type      JobReasonType `json:"type"`
	RuleID    string        `json:"rule_id,omitempty"`
	TriggerID string        `json:"trigger_id,omitempty"`
}

// JobInput is the work payload: the workflow to run and the input messages.
type JobInput struct {
	Workflow Workflow  `json:"workflow"`
	Messages []Message `json:"messages"`
}

type JobOutput struct {
	TurnID string `json:"turn_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Job is a generic queued unit of work. It shares the turn's lock/poll
// shape so the same claim pattern applies.
type Job struct {
	ID           string     `json:"id"`
	Reason       JobReason  `json:"reason"`
	ProjectID    string     `json:"project_id"`
	Input        JobInput   `json:"input"`
	Status       JobStatus  `json:"status"`
	WorkerID     string     `json:"worker_id,omitempty"`
	LastWorkerID string     `json:"last_worker_id,omitempty"`
	Output       *JobOutput `json:"output,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

func NewJob(projectID string, reason JobReason, input JobInput) *Job {
	now := time.Now()
	return &Job{
		ID:        NewID(now),
		Reason:    reason,
		ProjectID: projectID,
		Input:     input,
		Status:    JobStatusPending,
		CreatedAt: now,
	}
}
