package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
)

// Compile-time check
var _ RuleUseCase = (*ruleUC)(nil)

type RuleUseCase interface {
	CreateScheduledRule(ctx context.Context, projectID string, input model.JobInput, runAt time.Time) (*model.ScheduledJobRule, error)
	GetScheduledRule(ctx context.Context, projectID, id string) (*model.ScheduledJobRule, error)
	ListScheduledRules(ctx context.Context, projectID, cursor string, limit int) ([]*model.ScheduledJobRule, string, error)
	SetScheduledRuleDisabled(ctx context.Context, projectID, id string, disabled bool) error

	CreateRecurringRule(ctx context.Context, projectID string, input model.JobInput, cron string) (*model.RecurringJobRule, error)
	GetRecurringRule(ctx context.Context, projectID, id string) (*model.RecurringJobRule, error)
	ListRecurringRules(ctx context.Context, projectID, cursor string, limit int) ([]*model.RecurringJobRule, string, error)
	SetRecurringRuleDisabled(ctx context.Context, projectID, id string, disabled bool) error
}

type ruleUC struct {
	scheduled repository.ScheduledJobRuleRepository
	recurring repository.RecurringJobRuleRepository
}

func NewRuleUseCase(scheduled repository.ScheduledJobRuleRepository, recurring repository.RecurringJobRuleRepository) *ruleUC {
	return &ruleUC{scheduled: scheduled, recurring: recurring}
}

func validRuleInput(projectID string, input model.JobInput) error {
	if strings.TrimSpace(projectID) == "" {
		return domain.ErrInvalidArgument
	}
	if len(input.Workflow.Steps) == 0 || len(input.Messages) == 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (u *ruleUC) CreateScheduledRule(ctx context.Context, projectID string, input model.JobInput, runAt time.Time) (*model.ScheduledJobRule, error) {
	if err := validRuleInput(projectID, input); err != nil {
		return nil, err
	}
	if runAt.Before(time.Now().Truncate(time.Minute)) {
		return nil, domain.ErrInvalidArgument
	}
	r := model.NewScheduledJobRule(projectID, input, runAt)
	if err := u.scheduled.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (u *ruleUC) GetScheduledRule(ctx context.Context, projectID, id string) (*model.ScheduledJobRule, error) {
	r, err := u.scheduled.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.ProjectID != projectID {
		return nil, domain.ErrNotAuthorized
	}
	return r, nil
}

func (u *ruleUC) ListScheduledRules(ctx context.Context, projectID, cursor string, limit int) ([]*model.ScheduledJobRule, string, error) {
	return u.scheduled.List(ctx, projectID, cursor, limit)
}

func (u *ruleUC) SetScheduledRuleDisabled(ctx context.Context, projectID, id string, disabled bool) error {
	if _, err := u.GetScheduledRule(ctx, projectID, id); err != nil {
		return err
	}
	return u.scheduled.SetDisabled(ctx, id, disabled)
}

func (u *ruleUC) CreateRecurringRule(ctx context.Context, projectID string, input model.JobInput, cron string) (*model.RecurringJobRule, error) {
	if err := validRuleInput(projectID, input); err != nil {
		return nil, err
	}
	if err := model.ValidateCron(cron); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	r := model.NewRecurringJobRule(projectID, input, cron, model.NextCronRun(cron, time.Now()))
	if err := u.recurring.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (u *ruleUC) GetRecurringRule(ctx context.Context, projectID, id string) (*model.RecurringJobRule, error) {
	r, err := u.recurring.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.ProjectID != projectID {
		return nil, domain.ErrNotAuthorized
	}
	return r, nil
}

func (u *ruleUC) ListRecurringRules(ctx context.Context, projectID, cursor string, limit int) ([]*model.RecurringJobRule, string, error) {
	return u.recurring.List(ctx, projectID, cursor, limit)
}

func (u *ruleUC) SetRecurringRuleDisabled(ctx context.Context, projectID, id string, disabled bool) error {
	if _, err := u.GetRecurringRule(ctx, projectID, id); err != nil {
		return err
	}
	return u.recurring.SetDisabled(ctx, id, disabled)
}
