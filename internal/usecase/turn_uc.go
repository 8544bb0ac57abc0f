package usecase

import (
	"context"
	"strings"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
	"agent-workflow-engine/internal/domain/ports/service"
)

// Compile-time check
var _ TurnUseCase = (*turnUC)(nil)

type TurnUseCase interface {
	CreateTurn(ctx context.Context, projectID, conversationID string, trigger model.TriggerData) (*model.Turn, error)
	GetTurn(ctx context.Context, projectID, id string) (*model.Turn, error)
	ListConversation(ctx context.Context, projectID, conversationID string) ([]*model.Turn, error)

	// StopTurn requests cancellation of a running turn. force skips the
	// termination grace period for spawned processes. Stopping a turn that
	// is already terminal is a no-op.
	StopTurn(ctx context.Context, projectID, id string, force bool) (*model.Turn, error)
}

type turnUC struct {
	turns  repository.TurnRepository
	aborts service.AbortRegistry
	bus    service.PubSub
}

func NewTurnUseCase(turns repository.TurnRepository, aborts service.AbortRegistry, bus service.PubSub) *turnUC {
	return &turnUC{turns: turns, aborts: aborts, bus: bus}
}

func (u *turnUC) CreateTurn(ctx context.Context, projectID, conversationID string, trigger model.TriggerData) (*model.Turn, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if len(trigger.Workflow.Steps) == 0 || len(trigger.Messages) == 0 {
		return nil, domain.ErrInvalidArgument
	}

	t := model.NewTurn(projectID, conversationID, trigger)
	if err := u.turns.Create(ctx, nil, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (u *turnUC) GetTurn(ctx context.Context, projectID, id string) (*model.Turn, error) {
	t, err := u.turns.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if t.ProjectID != projectID {
		return nil, domain.ErrNotAuthorized
	}
	return t, nil
}

func (u *turnUC) ListConversation(ctx context.Context, projectID, conversationID string) ([]*model.Turn, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	turns, err := u.turns.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, t := range turns {
		if t.ProjectID != projectID {
			return nil, domain.ErrNotAuthorized
		}
	}
	return turns, nil
}

func (u *turnUC) StopTurn(ctx context.Context, projectID, id string, force bool) (*model.Turn, error) {
	t, err := u.GetTurn(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		return t, nil
	}
	// Cancel locally for single-process deployments and relay over the bus
	// for whichever worker actually holds the turn.
	req := service.AbortRequest
	if force {
		u.aborts.ForceAbort(id)
		req = service.ForceAbortRequest
	} else {
		u.aborts.Abort(id)
	}
	if err := u.bus.Publish(ctx, service.TopicTurnControl(id), req); err != nil {
		return nil, err
	}
	return t, nil
}
