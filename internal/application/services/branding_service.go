package services

import (
	"context"
	"encoding/json"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
)

const (
	// BrandingKey is the settings key holding the branding payload
	BrandingKey = entities.TopicBranding
	// BrandingListKey is the local storage copy read by older pages
	BrandingListKey = "branding_json"
)

// BrandingService stores the clinic's cosmetic identity
type BrandingService struct {
	settings *SettingsService
	storage  providers.LocalStorage
}

// NewBrandingService creates a new branding service
func NewBrandingService(settings *SettingsService, storage providers.LocalStorage) *BrandingService {
	return &BrandingService{settings: settings, storage: storage}
}

// Get returns the stored branding, falling back to the local storage copy
// and then to the default theme
func (s *BrandingService) Get(ctx context.Context) (*entities.Branding, error) {
	var b entities.Branding
	found, err := s.settings.GetInto(ctx, BrandingKey, &b)
	if err != nil {
		return nil, err
	}
	if !found && s.storage != nil {
		raw, ok, err := s.storage.GetItem(ctx, BrandingListKey)
		if err == nil && ok {
			_ = json.Unmarshal([]byte(raw), &b)
		}
	}
	if b.Theme == "" {
		b.Theme = schema.DefaultTheme
	}
	return &b, nil
}

// Set stores branding. The settings write broadcasts a branding change; the
// local storage copy is best effort.
func (s *BrandingService) Set(ctx context.Context, b *entities.Branding) (*entities.Branding, error) {
	out := *b
	if out.Theme == "" {
		out.Theme = schema.DefaultTheme
	}
	if err := s.settings.Set(ctx, BrandingKey, &out); err != nil {
		return nil, err
	}

	if s.storage != nil {
		raw, _ := json.Marshal(&out)
		if err := s.storage.SetItem(ctx, BrandingListKey, string(raw)); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Msg("Branding local copy not written")
		}
	}
	return &out, nil
}
