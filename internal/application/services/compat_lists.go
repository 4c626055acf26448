package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
)

// Flat list keys read wholesale by pages that predate the structured store
const (
	LabOrdersQueueKey = "lab_orders_queue"
	PharmaRxQueueKey  = "pharma_rx_queue"
)

// compatLists keeps the flat JSON-array copies of the queues. It is the only
// place that knows about them; removing it removes the dual write.
type compatLists struct {
	storage providers.LocalStorage
	mu      sync.Mutex
}

func newCompatLists(storage providers.LocalStorage) *compatLists {
	return &compatLists{storage: storage}
}

// readList decodes a flat list. A corrupt list reads as empty so that the
// next append starts it afresh.
func readList[T any](ctx context.Context, storage providers.LocalStorage, key string) ([]T, error) {
	raw, found, err := storage.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if !found || raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("key", key).Msg("Flat list is corrupt, treating as empty")
		return []T{}, nil
	}
	return out, nil
}

func writeList[T any](ctx context.Context, storage providers.LocalStorage, key string, list []T) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return storage.SetItem(ctx, key, string(raw))
}

func (c *compatLists) appendLab(ctx context.Context, order entities.LabOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, err := readList[entities.LabOrder](ctx, c.storage, LabOrdersQueueKey)
	if err != nil {
		return err
	}
	return writeList(ctx, c.storage, LabOrdersQueueKey, append(list, order))
}

func (c *compatLists) readLab(ctx context.Context) ([]entities.LabOrder, error) {
	return readList[entities.LabOrder](ctx, c.storage, LabOrdersQueueKey)
}

// updateLab rewrites the status of the entry with queueRef; a missing entry
// is not an error.
func (c *compatLists) updateLab(ctx context.Context, queueRef string, status entities.LabOrderStatus, clock Clock) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, err := readList[entities.LabOrder](ctx, c.storage, LabOrdersQueueKey)
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].QueueRef == queueRef {
			list[i].Status = status
			list[i].UpdatedAt = clock().UTC()
			return writeList(ctx, c.storage, LabOrdersQueueKey, list)
		}
	}
	return nil
}

func (c *compatLists) appendRx(ctx context.Context, entry entities.RxQueueEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, err := readList[entities.RxQueueEntry](ctx, c.storage, PharmaRxQueueKey)
	if err != nil {
		return err
	}
	return writeList(ctx, c.storage, PharmaRxQueueKey, append(list, entry))
}

func (c *compatLists) updateRx(ctx context.Context, saleID int64, status entities.RxStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, err := readList[entities.RxQueueEntry](ctx, c.storage, PharmaRxQueueKey)
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].SaleID == saleID {
			list[i].Status = status
			return writeList(ctx, c.storage, PharmaRxQueueKey, list)
		}
	}
	return nil
}

func (c *compatLists) clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.storage.RemoveItem(ctx, LabOrdersQueueKey); err != nil {
		return err
	}
	return c.storage.RemoveItem(ctx, PharmaRxQueueKey)
}
