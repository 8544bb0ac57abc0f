package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
	"agent-workflow-engine/internal/domain/ports/service"
	"agent-workflow-engine/internal/infra/metrics"
)

// failRetryDelay is how far a scheduled rule is pushed out after a failed
// fire before it becomes pollable again.
const failRetryDelay = 5 * time.Minute

// ScheduledRulePoller turns due one-shot rules into queued jobs. Every tick
// it drains all claimable rules, so a backlog clears in one pass.
type ScheduledRulePoller struct {
	workerID string
	interval time.Duration
	stale    time.Duration
	rules    repository.ScheduledJobRuleRepository
	jobs     repository.JobRepository
	bus      service.PubSub
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduledRulePoller(
	workerID string,
	interval, staleness time.Duration,
	rules repository.ScheduledJobRuleRepository,
	jobs repository.JobRepository,
	bus service.PubSub,
	log *zerolog.Logger,
) *ScheduledRulePoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ScheduledRulePoller{
		workerID: workerID,
		interval: interval,
		stale:    staleness,
		rules:    rules,
		jobs:     jobs,
		bus:      bus,
		log:      log,
		done:     make(chan struct{}),
	}
}

func (p *ScheduledRulePoller) Start(parentCtx context.Context) {
	if p.ctx != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(parentCtx)
	go p.loop()
}

func (p *ScheduledRulePoller) loop() {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		close(p.done)
	}()

	p.log.Info().Dur("interval", p.interval).Msg("scheduled rule poller started")
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.drain()
		}
	}
}

// drain claims and fires due rules until the repository reports none left.
func (p *ScheduledRulePoller) drain() {
	for {
		rule, err := p.rules.Poll(p.ctx, p.workerID, int64(p.stale.Seconds()))
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && p.ctx.Err() == nil {
				p.log.Error().Err(err).Msg("scheduled rule poll failed")
			}
			return
		}
		p.fire(rule)
	}
}

func (p *ScheduledRulePoller) fire(rule *model.ScheduledJobRule) {
	log := p.log.With().Str("rule_id", rule.ID).Logger()

	job := model.NewJob(rule.ProjectID, model.JobReason{
		Type:   model.JobReasonScheduledJobRule,
		RuleID: rule.ID,
	}, rule.Input)

	err := p.jobs.Create(p.ctx, nil, job)
	metrics.IncRuleFired("scheduled", err)
	if err != nil {
		log.Error().Err(err).Msg("create job from scheduled rule failed")
		retryAt := time.Now().Add(failRetryDelay).Unix()
		if _, rerr := p.rules.Release(p.ctx, rule.ID, "", retryAt); rerr != nil {
			log.Error().Err(rerr).Msg("release scheduled rule failed")
		}
		return
	}

	if _, err := p.rules.Release(p.ctx, rule.ID, job.ID, 0); err != nil {
		log.Error().Err(err).Msg("mark scheduled rule processed failed")
	}
	if err := p.bus.Publish(p.ctx, service.TopicNewJobs, job.ID); err != nil {
		log.Warn().Err(err).Msg("publish new_jobs failed")
	}
	log.Info().Str("job_id", job.ID).Msg("scheduled rule fired")
}

// Stop cancels the loop and waits for it to exit. Idempotent.
func (p *ScheduledRulePoller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.ctx, p.cancel = nil, nil
	p.done = make(chan struct{})
}
