package events

import (
	"context"
	"sync"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// LocalBroadcaster is an in-process Broadcaster. Instances created by the same
// LocalHub share channels, which stands in for several processes attached to
// one Redis.
type LocalBroadcaster struct {
	hub    *LocalHub
	closed bool
	mu     sync.Mutex
}

// LocalHub is the shared medium of a set of LocalBroadcasters
type LocalHub struct {
	subs *fanout
}

// NewLocalHub creates an empty hub
func NewLocalHub() *LocalHub {
	return &LocalHub{subs: newFanout(observability.Component("local_broadcaster"))}
}

// Broadcaster returns a new broadcaster attached to the hub
func (h *LocalHub) Broadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{hub: h}
}

// NewLocalBroadcaster creates a broadcaster on a private hub
func NewLocalBroadcaster() *LocalBroadcaster {
	return NewLocalHub().Broadcaster()
}

func (b *LocalBroadcaster) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return apperrors.NewStoreUnavailableError("broadcaster closed", nil)
	}
	return nil
}

// Publish copies the event to every subscriber on the hub
func (b *LocalBroadcaster) Publish(_ context.Context, channel string, event *entities.Event) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	cp := *event
	b.hub.subs.deliver(channel, &cp)
	return nil
}

// Subscribe subscribes to events on a channel until ctx is done
func (b *LocalBroadcaster) Subscribe(ctx context.Context, channel string) (<-chan *entities.Event, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	ch, _ := b.hub.subs.add(channel)
	go func() {
		<-ctx.Done()
		b.hub.subs.remove(channel, ch)
	}()
	return ch, nil
}

// Unsubscribe drops every subscriber of a channel
func (b *LocalBroadcaster) Unsubscribe(_ context.Context, channel string) error {
	b.hub.subs.dropChannel(channel)
	return nil
}

// Close marks the broadcaster closed. Other broadcasters on the hub keep working.
func (b *LocalBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
