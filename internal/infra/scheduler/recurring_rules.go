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

// RecurringRulePoller fires cron-driven rules. Rules quantize their
// schedules to the minute, so instead of a free-running ticker the loop
// aligns itself to wall-clock minute boundaries plus a small offset that
// gives the database time to see the new minute.
type RecurringRulePoller struct {
	workerID string
	offset   time.Duration
	stale    time.Duration
	rules    repository.RecurringJobRuleRepository
	jobs     repository.JobRepository
	bus      service.PubSub
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRecurringRulePoller(
	workerID string,
	offset, staleness time.Duration,
	rules repository.RecurringJobRuleRepository,
	jobs repository.JobRepository,
	bus service.PubSub,
	log *zerolog.Logger,
) *RecurringRulePoller {
	if offset <= 0 {
		offset = 2 * time.Second
	}
	return &RecurringRulePoller{
		workerID: workerID,
		offset:   offset,
		stale:    staleness,
		rules:    rules,
		jobs:     jobs,
		bus:      bus,
		log:      log,
		done:     make(chan struct{}),
	}
}

func (p *RecurringRulePoller) Start(parentCtx context.Context) {
	if p.ctx != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(parentCtx)
	go p.loop()
}

func (p *RecurringRulePoller) loop() {
	defer close(p.done)

	p.log.Info().Dur("offset", p.offset).Msg("recurring rule poller started")
	for {
		timer := time.NewTimer(untilNextMinute(time.Now(), p.offset))
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.drain()
		}
	}
}

// untilNextMinute returns the wait until the next minute boundary plus
// offset. Always positive so the loop cannot spin.
func untilNextMinute(now time.Time, offset time.Duration) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute).Add(offset)
	return next.Sub(now)
}

func (p *RecurringRulePoller) drain() {
	for {
		rule, err := p.rules.Poll(p.ctx, p.workerID, int64(p.stale.Seconds()))
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && p.ctx.Err() == nil {
				p.log.Error().Err(err).Msg("recurring rule poll failed")
			}
			return
		}
		p.fire(rule)
	}
}

func (p *RecurringRulePoller) fire(rule *model.RecurringJobRule) {
	log := p.log.With().Str("rule_id", rule.ID).Logger()

	job := model.NewJob(rule.ProjectID, model.JobReason{
		Type:   model.JobReasonRecurringJobRule,
		RuleID: rule.ID,
	}, rule.Input)

	err := p.jobs.Create(p.ctx, nil, job)
	metrics.IncRuleFired("recurring", err)
	if err != nil {
		log.Error().Err(err).Msg("create job from recurring rule failed")
		retryAt := time.Now().Add(failRetryDelay).Unix()
		if _, rerr := p.rules.Release(p.ctx, rule.ID, retryAt); rerr != nil {
			log.Error().Err(rerr).Msg("release recurring rule failed")
		}
		return
	}

	next := model.NextCronRun(rule.Cron, time.Now())
	if _, err := p.rules.Release(p.ctx, rule.ID, next.Unix()); err != nil {
		log.Error().Err(err).Msg("advance recurring rule failed")
	}
	if err := p.bus.Publish(p.ctx, service.TopicNewJobs, job.ID); err != nil {
		log.Warn().Err(err).Msg("publish new_jobs failed")
	}
	log.Info().Str("job_id", job.ID).Time("next_run", next).Msg("recurring rule fired")
}

func (p *RecurringRulePoller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.ctx, p.cancel = nil, nil
	p.done = make(chan struct{})
}
