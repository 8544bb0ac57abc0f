package usecase

import (
	"context"
	"os/exec"
	"sort"
	"sync"
	"time"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
	"agent-workflow-engine/internal/domain/ports/service"
)

// memTurnRepo is a small in-memory implementation used by unit tests.
type memTurnRepo struct {
	mu    sync.Mutex
	store map[string]*model.Turn
}

func newMemTurnRepo() *memTurnRepo {
	return &memTurnRepo{store: make(map[string]*model.Turn)}
}

func (m *memTurnRepo) put(t *model.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.store[t.ID] = &cp
}

func (m *memTurnRepo) Create(ctx context.Context, _ repository.Tx, t *model.Turn) error {
	m.put(t)
	return nil
}

func (m *memTurnRepo) Get(ctx context.Context, _ repository.Tx, id string) (*model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	cp.Messages = append([]model.Message(nil), t.Messages...)
	return &cp, nil
}

func (m *memTurnRepo) Poll(ctx context.Context, workerID string) (*model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *model.Turn
	for _, t := range m.store {
		if t.Status != model.TurnStatusPending || t.WorkerID != "" {
			continue
		}
		if oldest == nil || t.ID < oldest.ID {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	oldest.Status = model.TurnStatusRunning
	oldest.WorkerID = workerID
	oldest.LastWorkerID = workerID
	cp := *oldest
	return &cp, nil
}

func (m *memTurnRepo) Lock(ctx context.Context, id, workerID string) (*model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.Status != model.TurnStatusPending || t.WorkerID != "" {
		return nil, domain.ErrNotFound
	}
	t.Status = model.TurnStatusRunning
	t.WorkerID = workerID
	t.LastWorkerID = workerID
	cp := *t
	return &cp, nil
}

func (m *memTurnRepo) Release(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.WorkerID == "" {
		return false, nil
	}
	t.WorkerID = ""
	t.Status = model.TurnStatusPending
	return true, nil
}

func (m *memTurnRepo) AppendMessages(ctx context.Context, id string, msgs []model.Message) (*model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Messages = append(t.Messages, msgs...)
	cp := *t
	cp.Messages = append([]model.Message(nil), t.Messages...)
	return &cp, nil
}

func (m *memTurnRepo) Save(ctx context.Context, id string, patch repository.UpdateTurn) (*model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if patch.Status != nil {
		t.Status = *patch.Status
		if t.Status == model.TurnStatusCompleted || t.Status == model.TurnStatusFailed {
			t.WorkerID = ""
		}
	}
	if patch.Error != nil {
		t.Error = *patch.Error
	}
	cp := *t
	cp.Messages = append([]model.Message(nil), t.Messages...)
	return &cp, nil
}

func (m *memTurnRepo) ListByConversation(ctx context.Context, conversationID string) ([]*model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Turn
	for _, t := range m.store {
		if t.ConversationID == conversationID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memBus delivers published payloads to every live subscriber of the topic.
type memBus struct {
	mu   sync.Mutex
	subs map[string][]*memSub
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string][]*memSub)}
}

type memSub struct {
	bus    *memBus
	topic  string
	events chan string
	once   sync.Once
}

func (b *memBus) Publish(ctx context.Context, topic, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[topic] {
		select {
		case s.events <- payload:
		default:
		}
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, topic string) (service.Subscription, error) {
	s := &memSub{bus: b, topic: topic, events: make(chan string, 64)}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return s, nil
}

func (s *memSub) Events() <-chan string { return s.events }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		list := s.bus.subs[s.topic]
		for i, sub := range list {
			if sub == s {
				s.bus.subs[s.topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
		close(s.events)
	})
	return nil
}

// fakeAborts records which runs were aborted.
type fakeAborts struct {
	mu      sync.Mutex
	aborted map[string]bool
	forced  map[string]bool
}

func newFakeAborts() *fakeAborts {
	return &fakeAborts{aborted: make(map[string]bool), forced: make(map[string]bool)}
}

func (f *fakeAborts) CreateForRun(parent context.Context, runID string) context.Context {
	return parent
}
func (f *fakeAborts) RegisterProcess(runID string, cmd *exec.Cmd)   {}
func (f *fakeAborts) UnregisterProcess(runID string, cmd *exec.Cmd) {}

func (f *fakeAborts) Abort(runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted[runID] = true
}

func (f *fakeAborts) ForceAbort(runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted[runID] = true
	f.forced[runID] = true
}

func (f *fakeAborts) IsAborted(runID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[runID]
}

func (f *fakeAborts) Cleanup(runID string) {}

// memScheduledRepo and memRecurringRepo cover the rule use case.
type memScheduledRepo struct {
	mu    sync.Mutex
	store map[string]*model.ScheduledJobRule
}

func newMemScheduledRepo() *memScheduledRepo {
	return &memScheduledRepo{store: make(map[string]*model.ScheduledJobRule)}
}

func (m *memScheduledRepo) Create(ctx context.Context, r *model.ScheduledJobRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.store[r.ID] = &cp
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

// Poll mirrors the SQL claim: oldest due, undisabled, unprocessed,
// unlocked rule inside the staleness window.
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
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ScheduledJobRule
	for _, r := range m.store {
		if r.ProjectID != projectID {
			continue
		}
		if cursor != "" && r.ID >= cursor {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		return out, out[len(out)-1].ID, nil
	}
	return out, "", nil
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

func (m *memRecurringRepo) Create(ctx context.Context, r *model.RecurringJobRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.store[r.ID] = &cp
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
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RecurringJobRule
	for _, r := range m.store {
		if r.ProjectID != projectID {
			continue
		}
		if cursor != "" && r.ID >= cursor {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		return out, out[len(out)-1].ID, nil
	}
	return out, "", nil
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
