package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/adapter"
	"agent-workflow-engine/internal/domain/ports/repository"
	"agent-workflow-engine/internal/domain/ports/service"
)

// memTurnRepo is an in-memory TurnRepository honoring the locking protocol.
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
	cp.Messages = append([]model.Message(nil), oldest.Messages...)
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

// memJobRepo implements the job claim protocol in memory.
type memJobRepo struct {
	mu    sync.Mutex
	store map[string]*model.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.Job)}
}

func (m *memJobRepo) Create(ctx context.Context, _ repository.Tx, j *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.store[j.ID] = &cp
	return nil
}

func (m *memJobRepo) Get(ctx context.Context, _ repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Poll(ctx context.Context, workerID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *model.Job
	for _, j := range m.store {
		if j.Status != model.JobStatusPending || j.WorkerID != "" {
			continue
		}
		if oldest == nil || j.ID < oldest.ID {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	oldest.Status = model.JobStatusRunning
	oldest.WorkerID = workerID
	oldest.LastWorkerID = workerID
	cp := *oldest
	return &cp, nil
}

func (m *memJobRepo) Update(ctx context.Context, id string, patch repository.UpdateJob) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if patch.Status != nil {
		j.Status = *patch.Status
		if j.Status == model.JobStatusCompleted || j.Status == model.JobStatusFailed {
			j.WorkerID = ""
		}
	}
	if patch.Output != nil {
		j.Output = patch.Output
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Release(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok || j.WorkerID == "" {
		return false, nil
	}
	j.WorkerID = ""
	j.Status = model.JobStatusPending
	return true, nil
}

// memBus fans published payloads out to live subscribers.
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

// scriptedRunner plays back one canned event sequence per invocation, in
// order. A nil script entry blocks until ctx is cancelled, standing in for a
// hung provider stream. A non-zero delay holds each script back before any
// event is emitted, standing in for a slow provider step.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts [][]adapter.StepEvent
	delay   time.Duration
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, step model.AgentStep, messages []model.Message) (<-chan adapter.StepEvent, error) {
	r.mu.Lock()
	if r.calls >= len(r.scripts) {
		r.mu.Unlock()
		return nil, fmt.Errorf("unexpected invocation %d", r.calls)
	}
	script := r.scripts[r.calls]
	r.calls++
	r.mu.Unlock()

	out := make(chan adapter.StepEvent, len(script)+1)
	go func() {
		defer close(out)
		if script == nil {
			<-ctx.Done()
			out <- adapter.StepEvent{Type: adapter.StepError, Delta: ctx.Err().Error()}
			return
		}
		if r.delay > 0 {
			select {
			case <-ctx.Done():
				out <- adapter.StepEvent{Type: adapter.StepError, Delta: ctx.Err().Error()}
				return
			case <-time.After(r.delay):
			}
		}
		for _, ev := range script {
			out <- ev
		}
	}()
	return out, nil
}

func textScript(text string) []adapter.StepEvent {
	return []adapter.StepEvent{
		{Type: adapter.StepTextStart},
		{Type: adapter.StepTextDelta, Delta: text},
		{Type: adapter.StepTextEnd},
	}
}

func toolCallScript(id, name, args string) []adapter.StepEvent {
	return []adapter.StepEvent{
		{Type: adapter.StepToolCall, ToolCall: &model.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}},
	}
}

// mapTools resolves tools from a name -> result map.
type mapTools struct {
	mu      sync.Mutex
	results map[string]string
	calls   []string
}

func newMapTools(results map[string]string) *mapTools {
	return &mapTools{results: results}
}

func (t *mapTools) Execute(ctx context.Context, runID, name string, args json.RawMessage) (json.RawMessage, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, name)
	res, ok := t.results[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, domain.ErrUnknownTool)
	}
	return json.RawMessage(res), nil
}
