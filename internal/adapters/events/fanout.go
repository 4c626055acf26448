package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

const subscriberBuffer = 100

// fanout tracks the local subscriber channels of each broadcast channel
type fanout struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.Event]struct{}
	logger      zerolog.Logger
}

func newFanout(logger zerolog.Logger) *fanout {
	return &fanout{
		subscribers: make(map[string]map[chan *entities.Event]struct{}),
		logger:      logger,
	}
}

// add registers a new buffered subscriber and reports whether it is the first
func (f *fanout) add(channel string) (chan *entities.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := false
	if f.subscribers[channel] == nil {
		f.subscribers[channel] = make(map[chan *entities.Event]struct{})
		first = true
	}
	ch := make(chan *entities.Event, subscriberBuffer)
	f.subscribers[channel][ch] = struct{}{}

	f.logger.Debug().Str("channel", channel).Int("subscribers", len(f.subscribers[channel])).Msg("Subscribed")
	return ch, first
}

// remove drops one subscriber and reports whether the channel is now empty
func (f *fanout) remove(channel string, ch chan *entities.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.subscribers[channel]
	if !ok {
		return false
	}
	if _, ok := subs[ch]; !ok {
		return false
	}
	delete(subs, ch)
	close(ch)

	if len(subs) == 0 {
		delete(f.subscribers, channel)
		return true
	}
	return false
}

// dropChannel closes every subscriber of channel
func (f *fanout) dropChannel(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers[channel] {
		close(ch)
	}
	delete(f.subscribers, channel)
}

// channels lists the channels with subscribers
func (f *fanout) channels() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.subscribers))
	for ch := range f.subscribers {
		out = append(out, ch)
	}
	return out
}

// deliver hands event to every subscriber, skipping full ones. It returns the
// number of subscribers that received it and the number skipped.
func (f *fanout) deliver(channel string, event *entities.Event) (int, int) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	delivered, dropped := 0, 0
	for sub := range f.subscribers[channel] {
		select {
		case sub <- event:
			delivered++
		default:
			dropped++
			f.logger.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("Subscriber channel full, skipping event")
		}
	}
	return delivered, dropped
}
