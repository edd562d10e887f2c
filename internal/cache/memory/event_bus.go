package memory

import (
	"context"
	"path"
	"sync"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan []byte
}

// EventBus implements domain.EventBus inside one process. Slow subscribers
// drop messages rather than block publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

var _ domain.EventBus = (*EventBus)(nil)

// NewEventBus creates an EventBus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every subscriber whose channel or glob
// pattern matches channel.
func (b *EventBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns payloads published on channel until ctx is cancelled,
// at which point the returned channel is closed.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()

	return s.ch, nil
}

func matches(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}
