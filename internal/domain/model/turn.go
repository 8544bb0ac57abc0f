package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type TurnStatus string

const (
	TurnStatusPending   TurnStatus = "pending"
	TurnStatusRunning   TurnStatus = "running"
	TurnStatusCompleted TurnStatus = "completed"
	TurnStatusFailed    TurnStatus = "failed"
)

// TriggerData carries the workflow and the initial input messages a turn was
// created with. It is persisted verbatim next to the turn.
type TriggerData struct {
	Workflow Workflow  `json:"workflow"`
	Messages []Message `json:"messages"`
}

// Turn is one execution of a workflow against one input. Messages is an
// append-only log; array position is the ordering key for streaming, so
// entries are never edited or removed.
//
// Invariant: Status == running exactly when WorkerID is non-empty.
type Turn struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Trigger        TriggerData `json:"trigger_data"`
	Messages       []Message   `json:"messages"`
	Status         TurnStatus  `json:"status"`
	Error          string      `json:"error,omitempty"`
	WorkerID       string      `json:"worker_id,omitempty"`
	LastWorkerID   string      `json:"last_worker_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastUpdatedAt  time.Time   `json:"last_updated_at,omitempty"`
}

func NewTurn(projectID, conversationID string, trigger TriggerData) *Turn {
	now := time.Now()
	return &Turn{
		ID:             NewID(now),
		ProjectID:      projectID,
		ConversationID: conversationID,
		Trigger:        trigger,
		Messages:       append([]Message(nil), trigger.Messages...),
		Status:         TurnStatusPending,
		CreatedAt:      now,
	}
}

func (t *Turn) Terminal() bool {
	return t.Status == TurnStatusCompleted || t.Status == TurnStatusFailed
}

// NewID returns a ULID, so ids sort by creation time and "oldest pending
// first" polling can order by id.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
