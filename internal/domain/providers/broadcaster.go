package providers

import (
	"context"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// Broadcaster carries events between processes on named channels.
// Delivery is best-effort: a subscriber that joins after a publish misses it.
type Broadcaster interface {
	// Publish publishes an event to all subscribers of channel
	Publish(ctx context.Context, channel string, event *entities.Event) error

	// Subscribe subscribes to events on a channel until ctx is done
	Subscribe(ctx context.Context, channel string) (<-chan *entities.Event, error)

	// Unsubscribe drops every subscriber of a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the broadcaster and all subscriptions
	Close() error
}
