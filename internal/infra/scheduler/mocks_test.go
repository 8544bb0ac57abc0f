package scheduler

import (
	"context"
	"sync"
	"time"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
	"agent-workflow-engine/internal/domain/ports/service"
)

// memScheduledRepo implements the poll/release protocol in memory so the
// poller logic can be exercised without postgres.
type memScheduledRepo struct {
	mu    sync.Mutex
	store map[string]*model.ScheduledJobRule
}

func newMemScheduledRepo() *memScheduledRepo {
	return &memScheduledRepo{store: make(map[string]*model.ScheduledJobRule)}
}

func (m *memScheduledRepo) put(r *model.ScheduledJobRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.store[r.ID] = &cp
}

func (m *memScheduledRepo) get(id string) *model.ScheduledJobRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.store[id]
	return &cp
}

func (m *memScheduledRepo) Create(ctx context.Context, r *model.ScheduledJobRule) error {
	m.put(r)
	return nil
}

func (m *memScheduledRepo) Get(ctx context.Context, id string) (*model.ScheduledJobRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memScheduledRepo) Poll(ctx context.Context, workerID string, staleness int64) (*model.ScheduledJobRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	var due *model.ScheduledJobRule
	for _, r := range m.store {
		if r.Disabled || r.WorkerID != "" || r.ProcessedAt != nil {
			continue
		}
		if r.NextRunAt > now || r.NextRunAt < now-staleness {
			continue
		}
		if due == nil || r.NextRunAt < due.NextRunAt {
			due = r
		}
	}
	if due == nil {
		return nil, domain.ErrNotFound
	}
	due.WorkerID = workerID
	due.LastWorkerID = workerID
	cp := *due
	return &cp, nil
}

func (m *memScheduledRepo) Release(ctx context.Context, id, jobID string, retryAt int64) (*model.ScheduledJobRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r.WorkerID = ""
	if jobID != "" {
		now := time.Now()
		r.JobID = jobID
		r.ProcessedAt = &now
	} else if retryAt > 0 {
		r.NextRunAt = retryAt
	}
	cp := *r
	return &cp, nil
}

func (m *memScheduledRepo) List(ctx context.Context, projectID, cursor string, limit int) ([]*model.ScheduledJobRule, string, error) {
	return nil, "", nil
}

func (m *memScheduledRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Disabled = disabled
	return nil
}

type memRecurringRepo struct {
	mu    sync.Mutex
	store map[string]*model.RecurringJobRule
}

func newMemRecurringRepo() *memRecurringRepo {
	return &memRecurringRepo{store: make(map[string]*model.RecurringJobRule)}
}

func (m *memRecurringRepo) put(r *model.RecurringJobRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.store[r.ID] = &cp
}

func (m *memRecurringRepo) get(id string) *model.RecurringJobRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.store[id]
	return &cp
}

func (m *memRecurringRepo) Create(ctx context.Context, r *model.RecurringJobRule) error {
	m.put(r)
	return nil
}

func (m *memRecurringRepo) Get(ctx context.Context, id string) (*model.RecurringJobRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecurringRepo) Poll(ctx context.Context, workerID string, staleness int64) (*model.RecurringJobRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var due *model.RecurringJobRule
	for _, r := range m.store {
		if r.Disabled || r.WorkerID != "" {
			continue
		}
		if r.NextRunAt > now.Unix() || r.NextRunAt < now.Unix()-staleness {
			continue
		}
		if due == nil || r.NextRunAt < due.NextRunAt {
			due = r
		}
	}
	if due == nil {
		return nil, domain.ErrNotFound
	}
	due.WorkerID = workerID
	due.LastWorkerID = workerID
	due.LastProcessedAt = &now
	cp := *due
	return &cp, nil
}

func (m *memRecurringRepo) Release(ctx context.Context, id string, nextRunAt int64) (*model.RecurringJobRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r.WorkerID = ""
	r.NextRunAt = nextRunAt
	cp := *r
	return &cp, nil
}

func (m *memRecurringRepo) List(ctx context.Context, projectID, cursor string, limit int) ([]*model.RecurringJobRule, string, error) {
	return nil, "", nil
}

func (m *memRecurringRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Disabled = disabled
	return nil
}

// memJobRepo records created jobs and can be told to fail.
type memJobRepo struct {
	mu      sync.Mutex
	jobs    []*model.Job
	failErr error
}

func newMemJobRepo() *memJobRepo { return &memJobRepo{} }

func (m *memJobRepo) created() []*model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Job(nil), m.jobs...)
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, j *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	cp := *j
	m.jobs = append(m.jobs, &cp)
	return nil
}

func (m *memJobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) Poll(ctx context.Context, workerID string) (*model.Job, error) {
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) Update(ctx context.Context, id string, patch repository.UpdateJob) (*model.Job, error) {
	return m.Get(ctx, nil, id)
}

func (m *memJobRepo) Release(ctx context.Context, id string) (bool, error) {
	return false, nil
}

// recordingBus captures publishes; Subscribe is unused by the pollers.
type recordingBus struct {
	mu        sync.Mutex
	published map[string][]string
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: make(map[string][]string)}
}

func (b *recordingBus) Publish(ctx context.Context, topic, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic string) (service.Subscription, error) {
	return nil, domain.ErrNotFound
}

func (b *recordingBus) topicPayloads(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published[topic]...)
}
