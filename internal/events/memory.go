package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryBus is an in-process Bus for single-instance deployments and tests.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	closed      bool
	logger      zerolog.Logger
}

func NewMemoryBus(logger zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string]map[chan Event]struct{}),
		logger:      logger,
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers[channel] {
		select {
		case sub <- event:
		default:
			b.logger.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber full, dropping event")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan Event]struct{})
	}
	b.subscribers[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(channel, ch)
	}()
	return ch, nil
}

func (b *MemoryBus) remove(channel string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[channel]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, channel)
	}
}

// Subscribers reports how many subscribers a channel has.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, channel)
	}
	return nil
}
