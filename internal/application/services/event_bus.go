package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
)

// AllTopics subscribes to every topic
const AllTopics = "*"

// MarkerOrigin is the origin of events synthesized from marker changes
const MarkerOrigin = "marker"

const localBuffer = 64

// BusConfig names the broadcast channels
type BusConfig struct {
	QueueChannel    string
	BrandingChannel string
}

// Delivery reports how far a publish got. Every channel is attempted even
// when another one fails.
type Delivery struct {
	Event       *entities.Event `json:"event"`
	Local       int             `json:"local"`
	Dropped     int             `json:"dropped"`
	Broadcast   bool            `json:"broadcast"`
	MarkerTouch bool            `json:"marker_touch"`
}

// EventBus signals "something changed" to same-process listeners, to other
// processes over the broadcaster and to marker watchers through local storage.
// Payloads are hints; receivers re-read state from the store.
type EventBus struct {
	broadcaster providers.Broadcaster
	storage     providers.LocalStorage
	cfg         BusConfig
	origin      string
	clock       Clock
	metrics     *observability.Metrics

	mu        sync.RWMutex
	listeners map[string]map[chan *entities.Event]struct{}

	writtenMu sync.Mutex
	written   map[string]string
}

// NewEventBus creates an event bus. broadcaster and storage may be nil, in
// which case that channel is skipped.
func NewEventBus(broadcaster providers.Broadcaster, storage providers.LocalStorage, cfg BusConfig, clock Clock, metrics *observability.Metrics) *EventBus {
	return &EventBus{
		broadcaster: broadcaster,
		storage:     storage,
		cfg:         cfg,
		origin:      uuid.NewString(),
		clock:       clock,
		metrics:     metrics,
		listeners:   make(map[string]map[chan *entities.Event]struct{}),
		written:     make(map[string]string),
	}
}

// Origin identifies this bus instance on the broadcast channels
func (b *EventBus) Origin() string {
	return b.origin
}

// Publish sends topic and an optional payload on every channel
func (b *EventBus) Publish(ctx context.Context, topic string, payload interface{}) Delivery {
	logger := observability.LoggerFromContext(ctx)

	raw, err := toPayload(payload)
	if err != nil {
		logger.Warn().Err(err).Str("topic", topic).Msg("Dropping unserializable event payload")
	}
	event := entities.NewEvent(topic, b.origin, raw)
	event.Timestamp = b.clock.Millis()

	d := Delivery{Event: event}
	d.Local, d.Dropped = b.deliver(event)

	if b.broadcaster != nil {
		channel, wire := b.cfg.QueueChannel, event
		if topic == entities.TopicBranding {
			cp := *event
			cp.Type = entities.EventTypeBrandingChange
			channel, wire = b.cfg.BrandingChannel, &cp
		}
		if err := b.broadcaster.Publish(ctx, channel, wire); err != nil {
			logger.Warn().Err(err).Str("topic", topic).Str("channel", channel).Msg("Broadcast failed")
		} else {
			d.Broadcast = true
		}
	}

	d.MarkerTouch = b.Touch(ctx, entities.MarkerKey(topic))

	observability.RecordPublish(ctx, b.metrics, topic, d.Dropped)
	return d
}

// Touch writes the current time to a marker key and reports whether the
// write landed. Failures are logged here.
func (b *EventBus) Touch(ctx context.Context, marker string) bool {
	if b.storage == nil {
		return false
	}
	value := strconv.FormatInt(b.clock.Millis(), 10)
	if err := b.storage.SetItem(ctx, marker, value); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("marker", marker).Msg("Marker touch failed")
		return false
	}
	b.writtenMu.Lock()
	b.written[marker] = value
	b.writtenMu.Unlock()
	return true
}

// Subscribe registers a same-process listener for topic, or AllTopics. The
// channel is closed when ctx is done. A listener that falls behind misses
// events.
func (b *EventBus) Subscribe(ctx context.Context, topic string) <-chan *entities.Event {
	ch := make(chan *entities.Event, localBuffer)

	b.mu.Lock()
	if b.listeners[topic] == nil {
		b.listeners[topic] = make(map[chan *entities.Event]struct{})
	}
	b.listeners[topic][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.listeners[topic], ch)
		if len(b.listeners[topic]) == 0 {
			delete(b.listeners, topic)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

func (b *EventBus) deliver(event *entities.Event) (int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, topic := range []string{event.Type, AllTopics} {
		for ch := range b.listeners[topic] {
			select {
			case ch <- event:
				delivered++
			default:
				dropped++
			}
		}
	}
	return delivered, dropped
}

// Start relays events published by other processes to local listeners until
// ctx is done. Events carrying this bus's own origin are skipped.
func (b *EventBus) Start(ctx context.Context) error {
	if b.broadcaster == nil {
		return nil
	}
	logger := observability.Component("event_bus")

	for _, channel := range []string{b.cfg.QueueChannel, b.cfg.BrandingChannel} {
		events, err := b.broadcaster.Subscribe(ctx, channel)
		if err != nil {
			return err
		}
		go func(channel string, events <-chan *entities.Event) {
			for ev := range events {
				if ev.Origin == b.origin {
					continue
				}
				if ev.Type == entities.EventTypeBrandingChange {
					cp := *ev
					cp.Type = entities.TopicBranding
					ev = &cp
				}
				b.deliver(ev)
			}
			logger.Debug().Str("channel", channel).Msg("Relay stopped")
		}(channel, events)
	}
	return nil
}

// WatchMarkers polls the marker keys of topics and delivers a payload-free
// event whenever one changes value. Markers written by this bus are ignored.
// It blocks until ctx is done.
func (b *EventBus) WatchMarkers(ctx context.Context, interval time.Duration, topics ...string) {
	if b.storage == nil || len(topics) == 0 {
		return
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	keys := make([]string, len(topics))
	topicOf := make(map[string]string, len(topics))
	for i, t := range topics {
		keys[i] = entities.MarkerKey(t)
		topicOf[keys[i]] = t
	}

	seen, err := b.storage.GetItems(ctx, keys...)
	if err != nil {
		seen = map[string]string{}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := b.storage.GetItems(ctx, keys...)
		if err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Msg("Marker poll failed")
			continue
		}
		for _, key := range keys {
			value, ok := current[key]
			if !ok || value == seen[key] {
				continue
			}
			seen[key] = value
			if b.ownMarker(key, value) {
				continue
			}
			ev := &entities.Event{ID: uuid.NewString(), Type: topicOf[key], Timestamp: b.clock.Millis(), Origin: MarkerOrigin}
			b.deliver(ev)
		}
	}
}

func (b *EventBus) ownMarker(key, value string) bool {
	b.writtenMu.Lock()
	defer b.writtenMu.Unlock()
	return b.written[key] == value
}

func toPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
