package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBus implements Bus with Redis pub/sub so every server instance sees
// changes made through any other. One Redis subscription is shared by all
// local subscribers of a channel.
type RedisBus struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	subscribers   map[string]map[chan Event]struct{}
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	logger        zerolog.Logger
}

func NewRedisBus(client *redis.Client, logger zerolog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
		subscribers:   make(map[string]map[chan Event]struct{}),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	b.logger.Debug().Str("channel", channel).Str("event_id", event.ID).Str("kind", string(event.Kind)).Msg("published event")
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	if b.ctx.Err() != nil {
		return nil, errors.New("event bus is closed")
	}

	b.mu.Lock()
	if _, exists := b.subscriptions[channel]; !exists {
		pubsub := b.client.Subscribe(b.ctx, channel)
		// Wait for the confirmation so events published right after
		// Subscribe returns are not missed.
		if _, err := pubsub.Receive(ctx); err != nil {
			b.mu.Unlock()
			_ = pubsub.Close()
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
		b.subscriptions[channel] = pubsub
		go b.receive(channel, pubsub)
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan Event]struct{})
	}
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[channel][ch] = struct{}{}
	count := len(b.subscribers[channel])
	b.mu.Unlock()

	b.logger.Debug().Str("channel", channel).Int("subscribers", count).Msg("subscribed")

	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.removeSubscriber(channel, ch)
	}()
	return ch, nil
}

func (b *RedisBus) receive(channel string, pubsub *redis.PubSub) {
	defer b.cleanup(channel, pubsub)

	msgs := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn().Err(err).Str("channel", channel).Msg("discarding malformed event")
				continue
			}

			b.mu.RLock()
			for sub := range b.subscribers[channel] {
				select {
				case sub <- event:
				default:
					b.logger.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("subscriber full, dropping event")
				}
			}
			b.mu.RUnlock()
		}
	}
}

func (b *RedisBus) removeSubscriber(channel string, ch chan Event) {
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
		if pubsub, ok := b.subscriptions[channel]; ok {
			_ = pubsub.Close()
			delete(b.subscriptions, channel)
		}
	}
}

// cleanup closes the local subscribers of a channel once its Redis
// subscription ends, unless a newer subscription has replaced it.
func (b *RedisBus) cleanup(channel string, pubsub *redis.PubSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.subscriptions[channel]; ok && current != pubsub {
		return
	}
	for sub := range b.subscribers[channel] {
		close(sub)
	}
	delete(b.subscribers, channel)
	if _, ok := b.subscriptions[channel]; ok {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn().Err(err).Str("channel", channel).Msg("close subscription")
		}
		delete(b.subscriptions, channel)
	}
}

func (b *RedisBus) Close() error {
	b.cancel()

	b.mu.RLock()
	pubsubs := make(map[string]*redis.PubSub, len(b.subscriptions))
	for channel, ps := range b.subscriptions {
		pubsubs[channel] = ps
	}
	b.mu.RUnlock()

	for channel, ps := range pubsubs {
		b.cleanup(channel, ps)
	}
	b.logger.Info().Msg("event bus closed")
	return nil
}
