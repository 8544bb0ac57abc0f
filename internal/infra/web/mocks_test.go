package web

import (
	"context"
	"time"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
)

// stubTurnUC answers from function fields; unset methods report not found.
type stubTurnUC struct {
	create func(ctx context.Context, projectID, conversationID string, trigger model.TriggerData) (*model.Turn, error)
	get    func(ctx context.Context, projectID, id string) (*model.Turn, error)
	list   func(ctx context.Context, projectID, conversationID string) ([]*model.Turn, error)
	stop   func(ctx context.Context, projectID, id string, force bool) (*model.Turn, error)
}

func (s *stubTurnUC) CreateTurn(ctx context.Context, projectID, conversationID string, trigger model.TriggerData) (*model.Turn, error) {
	if s.create == nil {
		return nil, domain.ErrNotFound
	}
	return s.create(ctx, projectID, conversationID, trigger)
}

func (s *stubTurnUC) GetTurn(ctx context.Context, projectID, id string) (*model.Turn, error) {
	if s.get == nil {
		return nil, domain.ErrNotFound
	}
	return s.get(ctx, projectID, id)
}

func (s *stubTurnUC) ListConversation(ctx context.Context, projectID, conversationID string) ([]*model.Turn, error) {
	if s.list == nil {
		return nil, nil
	}
	return s.list(ctx, projectID, conversationID)
}

func (s *stubTurnUC) StopTurn(ctx context.Context, projectID, id string, force bool) (*model.Turn, error) {
	if s.stop == nil {
		return nil, domain.ErrNotFound
	}
	return s.stop(ctx, projectID, id, force)
}

type stubStreamUC struct {
	stream func(ctx context.Context, projectID, turnID string, fromIndex int) (<-chan model.TurnEvent, error)
}

func (s *stubStreamUC) Stream(ctx context.Context, projectID, turnID string, fromIndex int) (<-chan model.TurnEvent, error) {
	if s.stream == nil {
		return nil, domain.ErrNotFound
	}
	return s.stream(ctx, projectID, turnID, fromIndex)
}

type stubRuleUC struct {
	createScheduled func(ctx context.Context, projectID string, input model.JobInput, runAt time.Time) (*model.ScheduledJobRule, error)
	getScheduled    func(ctx context.Context, projectID, id string) (*model.ScheduledJobRule, error)
	listScheduled   func(ctx context.Context, projectID, cursor string, limit int) ([]*model.ScheduledJobRule, string, error)
	setScheduled    func(ctx context.Context, projectID, id string, disabled bool) error

	createRecurring func(ctx context.Context, projectID string, input model.JobInput, cron string) (*model.RecurringJobRule, error)
	getRecurring    func(ctx context.Context, projectID, id string) (*model.RecurringJobRule, error)
	listRecurring   func(ctx context.Context, projectID, cursor string, limit int) ([]*model.RecurringJobRule, string, error)
	setRecurring    func(ctx context.Context, projectID, id string, disabled bool) error
}

func (s *stubRuleUC) CreateScheduledRule(ctx context.Context, projectID string, input model.JobInput, runAt time.Time) (*model.ScheduledJobRule, error) {
	if s.createScheduled == nil {
		return nil, domain.ErrInvalidArgument
	}
	return s.createScheduled(ctx, projectID, input, runAt)
}

func (s *stubRuleUC) GetScheduledRule(ctx context.Context, projectID, id string) (*model.ScheduledJobRule, error) {
	if s.getScheduled == nil {
		return nil, domain.ErrNotFound
	}
	return s.getScheduled(ctx, projectID, id)
}

func (s *stubRuleUC) ListScheduledRules(ctx context.Context, projectID, cursor string, limit int) ([]*model.ScheduledJobRule, string, error) {
	if s.listScheduled == nil {
		return nil, "", nil
	}
	return s.listScheduled(ctx, projectID, cursor, limit)
}

func (s *stubRuleUC) SetScheduledRuleDisabled(ctx context.Context, projectID, id string, disabled bool) error {
	if s.setScheduled == nil {
		return domain.ErrNotFound
	}
	return s.setScheduled(ctx, projectID, id, disabled)
}

func (s *stubRuleUC) CreateRecurringRule(ctx context.Context, projectID string, input model.JobInput, cron string) (*model.RecurringJobRule, error) {
	if s.createRecurring == nil {
		return nil, domain.ErrInvalidArgument
	}
	return s.createRecurring(ctx, projectID, input, cron)
}

func (s *stubRuleUC) GetRecurringRule(ctx context.Context, projectID, id string) (*model.RecurringJobRule, error) {
	if s.getRecurring == nil {
		return nil, domain.ErrNotFound
	}
	return s.getRecurring(ctx, projectID, id)
}

func (s *stubRuleUC) ListRecurringRules(ctx context.Context, projectID, cursor string, limit int) ([]*model.RecurringJobRule, string, error) {
	if s.listRecurring == nil {
		return nil, "", nil
	}
	return s.listRecurring(ctx, projectID, cursor, limit)
}

func (s *stubRuleUC) SetRecurringRuleDisabled(ctx context.Context, projectID, id string, disabled bool) error {
	if s.setRecurring == nil {
		return domain.ErrNotFound
	}
	return s.setRecurring(ctx, projectID, id, disabled)
}
