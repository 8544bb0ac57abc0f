package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
	"agent-workflow-engine/internal/domain/ports/service"
	"agent-workflow-engine/internal/infra/metrics"
	"agent-workflow-engine/internal/usecase"
)

// JobWorker converts queued jobs into turns and records the outcome. Each
// loop polls the queue, and between polls it sleeps on a shared wakeup
// subscription so freshly enqueued jobs start without waiting out the
// backoff.
type JobWorker struct {
	host    string
	workers int
	backoff time.Duration

	jobs    repository.JobRepository
	turns   usecase.TurnUseCase
	streams usecase.StreamUseCase
	bus     service.PubSub
	log     *zerolog.Logger

	wg sync.WaitGroup
}

func NewJobWorker(
	host string,
	workers int,
	backoff time.Duration,
	jobs repository.JobRepository,
	turns usecase.TurnUseCase,
	streams usecase.StreamUseCase,
	bus service.PubSub,
	log *zerolog.Logger,
) *JobWorker {
	if workers <= 0 {
		workers = 1
	}
	if backoff <= 0 {
		backoff = 3 * time.Second
	}
	return &JobWorker{
		host:    host,
		workers: workers,
		backoff: backoff,
		jobs:    jobs,
		turns:   turns,
		streams: streams,
		bus:     bus,
		log:     log,
	}
}

func (w *JobWorker) Start(ctx context.Context) {
	wake, err := w.bus.Subscribe(ctx, service.TopicNewJobs)
	if err != nil {
		w.log.Warn().Err(err).Msg("new_jobs subscription failed, falling back to timer polls")
	}
	var wakeCh <-chan string
	if wake != nil {
		wakeCh = wake.Events()
	}

	for i := 0; i < w.workers; i++ {
		workerID := fmt.Sprintf("%s-job-%s", w.host, uuid.NewString()[:8])
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx, workerID, wakeCh)
		}()
	}
	go func() {
		<-ctx.Done()
		if wake != nil {
			_ = wake.Close()
		}
	}()
	w.log.Info().Int("workers", w.workers).Msg("job workers started")
}

func (w *JobWorker) Wait() { w.wg.Wait() }

func (w *JobWorker) loop(ctx context.Context, workerID string, wake <-chan string) {
	log := w.log.With().Str("worker_id", workerID).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.jobs.Poll(ctx, workerID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
				log.Error().Err(err).Msg("job poll failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-wake:
			case <-time.After(w.backoff):
			}
			continue
		}
		w.process(ctx, job, &log)
	}
}

func (w *JobWorker) process(ctx context.Context, job *model.Job, log *zerolog.Logger) {
	jlog := log.With().Str("job_id", job.ID).Str("reason", string(job.Reason.Type)).Logger()
	jlog.Info().Msg("processing job")

	output := w.runJob(ctx, job, &jlog)

	status := model.JobStatusCompleted
	if output.Error != "" {
		status = model.JobStatusFailed
		jlog.Error().Str("error", output.Error).Msg("job failed")
	}
	metrics.IncJob(string(status))
	if _, err := w.jobs.Update(context.Background(), job.ID, repository.UpdateJob{
		Status: &status,
		Output: &output,
	}); err != nil {
		jlog.Error().Err(err).Msg("job update failed")
		return
	}
	jlog.Info().Str("status", string(status)).Str("turn_id", output.TurnID).Msg("job finished")
}

// maxStreamStalls bounds re-attach attempts that see no new messages. Each
// stalled attempt already lasted a full stream idle timeout.
const maxStreamStalls = 3

// runJob creates the turn and follows its stream to completion. A stream can
// end while the turn is still running (idle timeout during a long step, bus
// loss, cancellation), and its error events do not distinguish a failed turn
// from a timed-out stream, so the store has the final word: while the turn
// is not terminal the worker re-attaches instead of failing the job.
func (w *JobWorker) runJob(ctx context.Context, job *model.Job, log *zerolog.Logger) model.JobOutput {
	turn, err := w.turns.CreateTurn(ctx, job.ProjectID, "", model.TriggerData{
		Workflow: job.Input.Workflow,
		Messages: job.Input.Messages,
	})
	if err != nil {
		return model.JobOutput{Error: fmt.Sprintf("create turn: %v", err)}
	}

	lastSeen := -1
	stalls := 0
	for ctx.Err() == nil {
		events, err := w.streams.Stream(ctx, job.ProjectID, turn.ID, 0)
		if err != nil {
			return model.JobOutput{TurnID: turn.ID, Error: fmt.Sprintf("attach stream: %v", err)}
		}
		for ev := range events {
			if ev.Type == model.TurnEventDone {
				return model.JobOutput{TurnID: turn.ID}
			}
			if ev.Type == model.TurnEventError {
				break
			}
		}

		t, gerr := w.turns.GetTurn(context.Background(), job.ProjectID, turn.ID)
		if gerr != nil {
			return model.JobOutput{TurnID: turn.ID, Error: fmt.Sprintf("read turn: %v", gerr)}
		}
		if t.Terminal() {
			if t.Status == model.TurnStatusFailed {
				return model.JobOutput{TurnID: turn.ID, Error: t.Error}
			}
			return model.JobOutput{TurnID: turn.ID}
		}

		if len(t.Messages) > lastSeen {
			lastSeen = len(t.Messages)
			stalls = 0
		} else {
			stalls++
			if stalls >= maxStreamStalls {
				break
			}
		}
		log.Info().Str("turn_id", turn.ID).Int("stalls", stalls).Msg("stream ended before turn finished, re-attaching")
		select {
		case <-ctx.Done():
		case <-time.After(w.backoff):
		}
	}
	return model.JobOutput{TurnID: turn.ID, Error: "turn did not reach a terminal state"}
}
