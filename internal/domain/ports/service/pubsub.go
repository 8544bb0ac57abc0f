package service

import "context"

// TopicTurnEvents names the per-turn event topic shared by the publishing
// worker and the streaming readers.
func TopicTurnEvents(turnID string) string {
	return "turn_events:" + turnID
}

// TopicTurnControl carries abort requests from the API process to whichever
// worker holds the turn. Payloads are AbortRequest / ForceAbortRequest.
func TopicTurnControl(turnID string) string {
	return "turn_control:" + turnID
}

const (
	AbortRequest      = "abort"
	ForceAbortRequest = "force_abort"
)

// TopicNewJobs wakes job workers the moment a rule poller enqueues work,
// instead of them waiting out their poll timer.
const TopicNewJobs = "new_jobs"

// Subscription is a live attachment to one topic. Events delivers raw
// payloads in arrival order; the channel is closed after Close. Failing to
// Close leaks a topic listener for the lifetime of the process.
type Subscription interface {
	Events() <-chan string
	Close() error
}

// PubSub is a fire-and-forget topic bus: no delivery guarantee, no history,
// no ordering contract. It is a latency optimization next to the durable
// log, never the source of truth.
type PubSub interface {
	Publish(ctx context.Context, topic, payload string) error

	// Subscribe returns only after the subscription is active, so events
	// published afterwards are guaranteed to be buffered.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}
