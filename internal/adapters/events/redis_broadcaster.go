package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	redisclient "github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/redis"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// RedisBroadcaster implements Broadcaster using Redis Pub/Sub so that every
// process attached to the same Redis sees the clinic's events.
type RedisBroadcaster struct {
	client        *redisclient.Client
	subscriptions map[string]*redis.PubSub
	subs          *fanout
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewRedisBroadcaster creates a new Redis-based broadcaster
func NewRedisBroadcaster(client *redisclient.Client) providers.Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBroadcaster{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
		subs:          newFanout(observability.Component("redis_broadcaster")),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Publish publishes an event to all subscribers
func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, event *entities.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal event", err)
	}

	if err := b.client.Client().Publish(ctx, channel, data).Err(); err != nil {
		return apperrors.NewExternalError("failed to publish event", err)
	}

	b.subs.logger.Debug().Str("channel", channel).Str("event_id", event.ID).Str("type", event.Type).Msg("Published event")
	return nil
}

// Subscribe subscribes to events on a channel
func (b *RedisBroadcaster) Subscribe(ctx context.Context, channel string) (<-chan *entities.Event, error) {
	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return nil, apperrors.NewStoreUnavailableError("broadcaster closed", b.ctx.Err())
	}
	if _, exists := b.subscriptions[channel]; !exists {
		pubsub := b.client.Client().Subscribe(b.ctx, channel)
		// wait for the subscription to be confirmed so that no publish
		// racing with Subscribe is lost
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			b.mu.Unlock()
			return nil, apperrors.NewExternalError("failed to subscribe to "+channel, err)
		}
		b.subscriptions[channel] = pubsub
		go b.receiveMessages(channel, pubsub)
	}
	eventChan, _ := b.subs.add(channel)
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.removeSubscriber(channel, eventChan)
	}()

	return eventChan, nil
}

// receiveMessages receives messages from Redis and hands them to subscribers
func (b *RedisBroadcaster) receiveMessages(channel string, pubsub *redis.PubSub) {
	defer func() {
		if err := b.cleanupChannel(channel, pubsub); err != nil {
			b.subs.logger.Error().Err(err).Str("channel", channel).Msg("Failed to cleanup channel")
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event entities.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.subs.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to unmarshal event")
				continue
			}
			b.subs.deliver(channel, &event)
		}
	}
}

func (b *RedisBroadcaster) removeSubscriber(channel string, eventChan chan *entities.Event) {
	if !b.subs.remove(channel, eventChan) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if pubsub, ok := b.subscriptions[channel]; ok {
		_ = pubsub.Close()
		delete(b.subscriptions, channel)
		b.subs.logger.Debug().Str("channel", channel).Msg("Closed subscription")
	}
}

// cleanupChannel closes subscribers and the Redis subscription of channel.
// A nil pubsub closes whatever subscription is current.
func (b *RedisBroadcaster) cleanupChannel(channel string, pubsub *redis.PubSub) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.subscriptions[channel]
	if !ok || (pubsub != nil && current != pubsub) {
		return nil
	}
	b.subs.dropChannel(channel)
	delete(b.subscriptions, channel)
	if err := current.Close(); err != nil {
		return fmt.Errorf("failed to close subscription %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe drops every subscriber of a channel
func (b *RedisBroadcaster) Unsubscribe(ctx context.Context, channel string) error {
	return b.cleanupChannel(channel, nil)
}

// Close closes the broadcaster and all subscriptions
func (b *RedisBroadcaster) Close() error {
	b.cancel()

	b.mu.Lock()
	channels := make([]string, 0, len(b.subscriptions))
	for channel := range b.subscriptions {
		channels = append(channels, channel)
	}
	b.mu.Unlock()

	var errs []error
	for _, channel := range channels {
		if err := b.cleanupChannel(channel, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing broadcaster: %v", errs)
	}

	b.subs.logger.Info().Msg("Broadcaster closed")
	return nil
}
