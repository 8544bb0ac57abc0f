package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/adapter"
	"agent-workflow-engine/internal/domain/ports/repository"
	"agent-workflow-engine/internal/domain/ports/service"
	"agent-workflow-engine/internal/infra/metrics"
)

// TurnWorker drives turns end to end: claim, execute the workflow steps,
// append every produced message to the durable log, mirror it onto the bus,
// and land the turn in a terminal state exactly once.
type TurnWorker struct {
	host     string
	workers  int
	backoff  time.Duration
	maxSteps int

	turns  repository.TurnRepository
	bus    service.PubSub
	aborts service.AbortRegistry
	runner adapter.AgentRunner
	tools  adapter.ToolExecutor
	log    *zerolog.Logger

	wg sync.WaitGroup
}

func NewTurnWorker(
	host string,
	workers int,
	backoff time.Duration,
	maxSteps int,
	turns repository.TurnRepository,
	bus service.PubSub,
	aborts service.AbortRegistry,
	runner adapter.AgentRunner,
	tools adapter.ToolExecutor,
	log *zerolog.Logger,
) *TurnWorker {
	if workers <= 0 {
		workers = 1
	}
	if backoff <= 0 {
		backoff = 3 * time.Second
	}
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &TurnWorker{
		host:     host,
		workers:  workers,
		backoff:  backoff,
		maxSteps: maxSteps,
		turns:    turns,
		bus:      bus,
		aborts:   aborts,
		runner:   runner,
		tools:    tools,
		log:      log,
	}
}

func (w *TurnWorker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		workerID := fmt.Sprintf("%s-turn-%s", w.host, uuid.NewString()[:8])
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx, workerID)
		}()
	}
	w.log.Info().Int("workers", w.workers).Msg("turn workers started")
}

// Wait blocks until every loop has observed ctx cancellation and returned.
func (w *TurnWorker) Wait() { w.wg.Wait() }

func (w *TurnWorker) loop(ctx context.Context, workerID string) {
	log := w.log.With().Str("worker_id", workerID).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		turn, err := w.turns.Poll(ctx, workerID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
				log.Error().Err(err).Msg("turn poll failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		w.process(ctx, turn, &log)
	}
}

func (w *TurnWorker) process(ctx context.Context, turn *model.Turn, log *zerolog.Logger) {
	start := time.Now()
	tlog := log.With().Str("turn_id", turn.ID).Logger()
	tlog.Info().Str("workflow", turn.Trigger.Workflow.Name).Msg("processing turn")

	runCtx := w.aborts.CreateForRun(ctx, turn.ID)
	defer w.aborts.Cleanup(turn.ID)

	// Abort requests arrive over the bus because the API process holding
	// the stop endpoint is not the process holding the turn.
	if ctl, err := w.bus.Subscribe(runCtx, service.TopicTurnControl(turn.ID)); err != nil {
		tlog.Warn().Err(err).Msg("turn control subscription failed")
	} else {
		defer ctl.Close()
		go func() {
			for req := range ctl.Events() {
				switch req {
				case service.AbortRequest:
					w.aborts.Abort(turn.ID)
				case service.ForceAbortRequest:
					w.aborts.ForceAbort(turn.ID)
				}
			}
		}()
	}

	runErr := w.runWorkflow(runCtx, turn, &tlog)
	if runErr == nil && runCtx.Err() != nil {
		runErr = errors.New("turn aborted")
	}

	status := model.TurnStatusCompleted
	errMsg := ""
	if runErr != nil {
		status = model.TurnStatusFailed
		errMsg = runErr.Error()
		tlog.Error().Err(runErr).Msg("turn failed")
	}

	// Terminal write and event go out even when the run context is dead, so
	// an aborted turn still lands in a terminal state.
	final, err := w.turns.Save(context.Background(), turn.ID, repository.UpdateTurn{
		Status: &status,
		Error:  &errMsg,
	})
	if err != nil {
		tlog.Error().Err(err).Msg("terminal save failed")
		return
	}

	var ev model.TurnEvent
	if status == model.TurnStatusFailed {
		ev = model.ErrorEvent(errMsg)
	} else {
		ev = model.DoneEvent(final)
	}
	w.publish(context.Background(), turn.ID, ev, &tlog)

	metrics.IncTurn(string(status), time.Since(start).Seconds())
	tlog.Info().Str("status", string(status)).Dur("duration", time.Since(start)).Msg("turn finished")
}

// runWorkflow executes the turn's steps in order. The working message log
// lives on turn.Messages and grows via appendAndPublish so the persisted
// log, the bus and the in-memory view advance together.
func (w *TurnWorker) runWorkflow(ctx context.Context, turn *model.Turn, log *zerolog.Logger) error {
	declared := turn.Trigger.Workflow.DeclaredTools()

	for _, step := range turn.Trigger.Workflow.Steps {
		if ctx.Err() != nil {
			return errors.New("turn aborted")
		}
		switch step.Kind {
		case model.StepAgent:
			if step.Agent == nil {
				return fmt.Errorf("agent step missing definition: %w", domain.ErrInvalidArgument)
			}
			if err := w.runAgentStep(ctx, turn, *step.Agent, declared, log); err != nil {
				return err
			}
		case model.StepFunction:
			if step.Function == nil {
				return fmt.Errorf("function step missing definition: %w", domain.ErrInvalidArgument)
			}
			if err := w.runFunctionStep(ctx, turn, *step.Function, log); err != nil {
				return err
			}
		default:
			return fmt.Errorf("step kind %q: %w", step.Kind, domain.ErrInvalidArgument)
		}
	}
	return nil
}

// runAgentStep is the agentic loop: invoke the model, persist its message,
// execute any tool calls, feed results back, and repeat until the model
// answers without tools or the step budget runs out.
func (w *TurnWorker) runAgentStep(ctx context.Context, turn *model.Turn, step model.AgentStep, declared map[string]bool, log *zerolog.Logger) error {
	for i := 0; i < w.maxSteps; i++ {
		events, err := w.runner.Run(ctx, step, turn.Messages)
		if err != nil {
			return fmt.Errorf("agent %s: %w", step.Name, err)
		}

		msg, runErr := collectStep(events)
		if runErr != nil {
			return fmt.Errorf("agent %s: %w", step.Name, runErr)
		}
		if err := w.appendAndPublish(ctx, turn, []model.Message{msg}, log); err != nil {
			return err
		}

		calls := msg.ToolCalls()
		if len(calls) == 0 {
			return nil
		}

		for _, call := range calls {
			if !declared[call.Name] {
				return fmt.Errorf("tool %q not declared by workflow: %w", call.Name, domain.ErrUnknownTool)
			}
			result, err := w.tools.Execute(ctx, turn.ID, call.Name, call.Arguments)
			if err != nil {
				if ctx.Err() != nil {
					return errors.New("turn aborted")
				}
				return fmt.Errorf("tool %s: %w", call.Name, err)
			}
			toolMsg := model.Message{
				ID:         model.NewID(time.Now()),
				Role:       model.RoleTool,
				Content:    string(result),
				ToolCallID: call.ID,
				Timestamp:  time.Now(),
			}
			if err := w.appendAndPublish(ctx, turn, []model.Message{toolMsg}, log); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("agent %s: step budget of %d exhausted", step.Name, w.maxSteps)
}

func (w *TurnWorker) runFunctionStep(ctx context.Context, turn *model.Turn, step model.FunctionStep, log *zerolog.Logger) error {
	result, err := w.tools.Execute(ctx, turn.ID, step.Name, step.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			return errors.New("turn aborted")
		}
		return fmt.Errorf("function %s: %w", step.Name, err)
	}
	msg := model.Message{
		ID:        model.NewID(time.Now()),
		Role:      model.RoleAssistant,
		Content:   string(result),
		Timestamp: time.Now(),
	}
	return w.appendAndPublish(ctx, turn, []model.Message{msg}, log)
}

// collectStep drains one agent invocation into a single assistant message.
// An in-band error event fails the whole step.
func collectStep(events <-chan adapter.StepEvent) (model.Message, error) {
	msg := model.Message{
		ID:        model.NewID(time.Now()),
		Role:      model.RoleAssistant,
		Timestamp: time.Now(),
	}
	var text, reasoning string
	for ev := range events {
		switch ev.Type {
		case adapter.StepTextDelta:
			text += ev.Delta
		case adapter.StepReasoningDelta:
			reasoning += ev.Delta
		case adapter.StepToolCall:
			if ev.ToolCall != nil {
				msg.Parts = append(msg.Parts, model.Part{Type: model.PartToolCall, ToolCall: ev.ToolCall})
			}
		case adapter.StepError:
			return msg, errors.New(ev.Delta)
		}
	}
	parts := msg.Parts
	msg.Parts = nil
	if reasoning != "" {
		msg.Parts = append(msg.Parts, model.Part{Type: model.PartReasoning, Text: reasoning})
	}
	if text != "" {
		msg.Parts = append(msg.Parts, model.Part{Type: model.PartText, Text: text})
	}
	msg.Parts = append(msg.Parts, parts...)
	return msg, nil
}

// appendAndPublish persists msgs to the log, refreshes the in-memory view
// and mirrors each entry onto the bus with its log index. Publish failures
// are logged and dropped; readers reconcile from the log.
func (w *TurnWorker) appendAndPublish(ctx context.Context, turn *model.Turn, msgs []model.Message, log *zerolog.Logger) error {
	updated, err := w.turns.AppendMessages(ctx, turn.ID, msgs)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	turn.Messages = updated.Messages
	metrics.AddTurnMessages(len(msgs))

	base := len(updated.Messages) - len(msgs)
	for i, m := range msgs {
		w.publish(ctx, turn.ID, model.MessageEvent(base+i, m), log)
	}
	return nil
}

func (w *TurnWorker) publish(ctx context.Context, turnID string, ev model.TurnEvent, log *zerolog.Logger) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("marshal turn event failed")
		return
	}
	if err := w.bus.Publish(ctx, service.TopicTurnEvents(turnID), string(payload)); err != nil {
		log.Warn().Err(err).Msg("publish turn event failed")
	}
}
