package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/repository"
	"agent-workflow-engine/internal/domain/ports/service"
	"agent-workflow-engine/internal/infra/metrics"
)

// Compile-time check
var _ StreamUseCase = (*streamUC)(nil)

type StreamUseCase interface {
	// Stream replays the turn's message log from fromIndex and then follows
	// live events until the turn reaches a terminal state, the stream goes
	// idle past the configured timeout, or ctx is cancelled. The returned
	// channel is always closed.
	Stream(ctx context.Context, projectID, turnID string, fromIndex int) (<-chan model.TurnEvent, error)
}

type streamUC struct {
	turns       repository.TurnRepository
	bus         service.PubSub
	idleTimeout time.Duration
	recheckEach time.Duration
	log         *zerolog.Logger
}

func NewStreamUseCase(turns repository.TurnRepository, bus service.PubSub, idleTimeout, recheckEach time.Duration, log *zerolog.Logger) *streamUC {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	if recheckEach <= 0 {
		recheckEach = 5 * time.Second
	}
	return &streamUC{
		turns:       turns,
		bus:         bus,
		idleTimeout: idleTimeout,
		recheckEach: recheckEach,
		log:         log,
	}
}

// Stream subscribes before reading the snapshot, so nothing published after
// the snapshot read can be missed: anything that races arrives on the
// subscription and is deduplicated by message index.
func (u *streamUC) Stream(ctx context.Context, projectID, turnID string, fromIndex int) (<-chan model.TurnEvent, error) {
	if fromIndex < 0 {
		fromIndex = 0
	}

	sub, err := u.bus.Subscribe(ctx, service.TopicTurnEvents(turnID))
	if err != nil {
		return nil, err
	}

	snapshot, err := u.turns.Get(ctx, nil, turnID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	if snapshot.ProjectID != projectID {
		_ = sub.Close()
		return nil, domain.ErrNotAuthorized
	}

	out := make(chan model.TurnEvent, 32)
	go u.pump(ctx, sub, snapshot, fromIndex, out)
	return out, nil
}

func (u *streamUC) pump(ctx context.Context, sub service.Subscription, snapshot *model.Turn, fromIndex int, out chan<- model.TurnEvent) {
	metrics.StreamAttached()
	defer func() {
		_ = sub.Close()
		close(out)
		metrics.StreamDetached()
	}()

	turnID := snapshot.ID
	log := u.log.With().Str("turn_id", turnID).Logger()

	// maxYielded is the highest message index sent so far; live events at or
	// below it are duplicates of the snapshot replay.
	maxYielded := fromIndex - 1

	emit := func(ev model.TurnEvent, source string) bool {
		metrics.IncStreamEvent(string(ev.Type), source)
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	yieldLog := func(t *model.Turn, source string) bool {
		for i := maxYielded + 1; i < len(t.Messages); i++ {
			if !emit(model.MessageEvent(i, t.Messages[i]), source) {
				return false
			}
			maxYielded = i
		}
		return true
	}

	terminalEvent := func(t *model.Turn) model.TurnEvent {
		if t.Status == model.TurnStatusFailed {
			return model.ErrorEvent(t.Error)
		}
		return model.DoneEvent(t)
	}

	if !yieldLog(snapshot, "snapshot") {
		return
	}
	if snapshot.Terminal() {
		emit(terminalEvent(snapshot), "snapshot")
		return
	}

	// finish backfills any messages the reader has not seen yet, then sends
	// the terminal event. Used for both live terminals and recheck catches.
	finish := func(t *model.Turn, source string) {
		if yieldLog(t, source) {
			emit(terminalEvent(t), source)
		}
	}

	idle := time.NewTimer(u.idleTimeout)
	defer idle.Stop()
	resetIdle := func() {
		if !idle.Stop() {
			<-idle.C
		}
		idle.Reset(u.idleTimeout)
	}
	recheck := time.NewTicker(u.recheckEach)
	defer recheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case payload, ok := <-sub.Events():
			if !ok {
				// Bus dropped us; the recheck path is gone with it, so do a
				// final store read rather than ending the stream blind.
				if t, err := u.turns.Get(ctx, nil, turnID); err == nil && t.Terminal() {
					finish(t, "store")
				}
				return
			}
			resetIdle()

			var ev model.TurnEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				log.Warn().Err(err).Msg("bad turn event payload")
				continue
			}
			switch ev.Type {
			case model.TurnEventMessage:
				if ev.Message == nil || ev.Index <= maxYielded {
					continue
				}
				if !emit(model.MessageEvent(ev.Index, *ev.Message), "live") {
					return
				}
				maxYielded = ev.Index
			case model.TurnEventDone, model.TurnEventError:
				// Re-read the log so messages that never made it onto the
				// bus are not lost to this reader.
				t, err := u.turns.Get(ctx, nil, turnID)
				if err != nil {
					emit(ev, "live")
					return
				}
				if yieldLog(t, "store") {
					emit(ev, "live")
				}
				return
			}

		case <-recheck.C:
			// The bus is lossy; the durable log is the source of truth. A
			// periodic re-read catches anything dropped.
			t, err := u.turns.Get(ctx, nil, turnID)
			if err != nil {
				log.Warn().Err(err).Msg("stream recheck failed")
				continue
			}
			before := maxYielded
			if !yieldLog(t, "store") {
				return
			}
			if t.Terminal() {
				emit(terminalEvent(t), "store")
				return
			}
			// Messages recovered from the store are progress too; a turn
			// whose publishes are all lost must not idle out mid-flight.
			if maxYielded > before {
				resetIdle()
			}

		case <-idle.C:
			metrics.IncStreamIdleTimeout()
			log.Info().Dur("timeout", u.idleTimeout).Msg("stream idle timeout")
			emit(model.ErrorEvent(domain.ErrStreamIdleTimeout.Error()), "timeout")
			return
		}
	}
}
