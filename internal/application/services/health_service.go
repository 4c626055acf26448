package services

import (
	"context"
	"encoding/json"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
)

// HealthService probes the store without mutating it
type HealthService struct {
	store    repositories.Store
	registry *schema.Registry
}

// NewHealthService creates a new health service
func NewHealthService(store repositories.Store, registry *schema.Registry) *HealthService {
	return &HealthService{store: store, registry: registry}
}

// Check pings the store and probes every declared collection with a bounded
// read. A failing collection is reported on its own and does not stop the
// other probes.
func (h *HealthService) Check(ctx context.Context) *entities.HealthReport {
	report := &entities.HealthReport{OK: true, Backend: h.store.Backend()}

	if err := h.store.Ping(ctx); err != nil {
		report.OK = false
		report.Error = err.Error()
	} else if v, err := h.store.Version(ctx); err != nil {
		report.OK = false
		report.Error = err.Error()
	} else {
		report.Version = v
	}

	for _, name := range h.registry.Current().Names() {
		ch := entities.CollectionHealth{Name: name, OK: true}
		if err := h.store.Probe(ctx, name); err != nil {
			ch.OK = false
			ch.Error = err.Error()
			report.OK = false
		}
		report.Collections = append(report.Collections, ch)
	}
	return report
}

// Schema describes the collections and indexes of the current schema version
func (h *HealthService) Schema() json.RawMessage {
	return h.registry.Current().Describe()
}
