package services

import (
	"context"
	"encoding/json"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// SettingsService is the key/value settings store. Values are opaque JSON.
type SettingsService struct {
	store repositories.Store
	bus   *EventBus
	clock Clock
}

// NewSettingsService creates a new settings service
func NewSettingsService(store repositories.Store, bus *EventBus, clock Clock) *SettingsService {
	return &SettingsService{store: store, bus: bus, clock: clock}
}

// Get returns the stored value, or nil when the key is absent
func (s *SettingsService) Get(ctx context.Context, key string) (json.RawMessage, error) {
	setting, err := getSetting(ctx, s.store, key)
	if err != nil || setting == nil {
		return nil, err
	}
	return setting.Value, nil
}

// GetInto decodes the stored value into dst
func (s *SettingsService) GetInto(ctx context.Context, key string, dst interface{}) (bool, error) {
	value, err := s.Get(ctx, key)
	if err != nil || value == nil {
		return false, err
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return false, apperrors.NewInternalError("setting "+key+" does not decode", err)
	}
	return true, nil
}

// Set stores value under key and announces the change on the topic named by
// the key.
func (s *SettingsService) Set(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return apperrors.NewValidationError("setting key is required")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewValidationError("setting value is not JSON-serializable")
	}
	if err := putSetting(ctx, s.store, key, raw, s.clock); err != nil {
		return err
	}

	observability.LoggerFromContext(ctx).Debug().Str("key", key).Msg("Setting stored")
	s.bus.Publish(ctx, key, raw)
	return nil
}

// Delete removes key; deleting an absent key is not an error
func (s *SettingsService) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, schema.Settings, key); err != nil {
		return err
	}
	s.bus.Publish(ctx, key, nil)
	return nil
}

// getSetting reads a settings document; a missing key yields nil
func getSetting(ctx context.Context, ops repositories.DocumentOps, key string) (*entities.Setting, error) {
	rec, found, err := ops.Get(ctx, schema.Settings, key)
	if err != nil || !found {
		return nil, err
	}
	var setting entities.Setting
	if err := rec.Decode(&setting); err != nil {
		return nil, apperrors.NewInternalError("setting "+key+" is corrupt", err)
	}
	return &setting, nil
}

func putSetting(ctx context.Context, ops repositories.DocumentOps, key string, value json.RawMessage, clock Clock) error {
	return ops.Put(ctx, schema.Settings, key, entities.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: clock().UTC(),
	})
}
