package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/adapters/database"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/events"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/mirror"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/storage"
	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
)

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	core    *services.Core
	store   *database.MemoryStore
	storage *storage.MemoryLocalStorage
	hub     *events.LocalHub
	mirror  *mirror.MemoryMirror
	clock   *testClock
}

var busConfig = services.BusConfig{QueueChannel: "clinic-queue-sync-v1", BrandingChannel: "branding-bus-v1"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := database.NewMemoryStore(ctx, schema.Clinic())
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		storage: storage.NewMemoryLocalStorage(),
		hub:     events.NewLocalHub(),
		mirror:  mirror.NewMemoryMirror(),
		clock:   &testClock{now: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)},
	}
	require.NoError(t, f.mirror.EnsureCollections(ctx))
	f.core = services.NewCore(services.Deps{
		Store:       store,
		Registry:    schema.Clinic(),
		Storage:     f.storage,
		Broadcaster: f.hub.Broadcaster(),
		Mirror:      f.mirror,
		Bus:         busConfig,
		Clock:       f.clock.Now,
	})
	return f
}

// drain collects the events already buffered on ch
func drain(ch <-chan *entities.Event) []*entities.Event {
	var out []*entities.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func topics(evs []*entities.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
