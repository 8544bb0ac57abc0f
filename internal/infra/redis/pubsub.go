package redis

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"

	"agent-workflow-engine/internal/domain/ports/service"
)

var _ service.PubSub = (*Bus)(nil)

// Bus is the redis-backed pub/sub fabric. Events are fire-and-forget:
// anything published while nobody listens is dropped, which is fine because
// readers always reconcile against the persisted log.
type Bus struct {
	cli *redis.Client
}

func NewBus(c *Client) *Bus {
	return &Bus{cli: c.cli}
}

func (b *Bus) Publish(ctx context.Context, topic string, payload string) error {
	return b.cli.Publish(ctx, topic, payload).Err()
}

// Subscribe blocks until the server confirms the subscription, so a caller
// that subscribes before reading a snapshot cannot miss events published
// after the snapshot read.
func (b *Bus) Subscribe(ctx context.Context, topic string) (service.Subscription, error) {
	ps := b.cli.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &subscription{
		ps:     ps,
		events: make(chan string, 64),
		done:   make(chan struct{}),
	}
	go sub.relay()
	return sub, nil
}

type subscription struct {
	ps       *redis.PubSub
	events   chan string
	done     chan struct{}
	closeOne sync.Once
}

func (s *subscription) relay() {
	defer close(s.events)
	ch := s.ps.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.events <- msg.Payload:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Events() <-chan string { return s.events }

func (s *subscription) Close() error {
	var err error
	s.closeOne.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
