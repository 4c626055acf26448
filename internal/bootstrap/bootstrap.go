// Package bootstrap assembles the clinic core from configuration. The API
// server, the SSE server and clinicctl share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/onesystem-clinic/internal/adapters/database"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/events"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/mirror"
	"github.com/zatekoja/onesystem-clinic/internal/adapters/storage"
	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/redis"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	"github.com/zatekoja/onesystem-clinic/pkg/config"
)

// Runtime is a wired core plus the resources backing it
type Runtime struct {
	Core        *services.Core
	Store       repositories.Store
	Broadcaster providers.Broadcaster

	closers []func() error
}

// Build opens the store, migrates it and wires the core. Redis and the
// Typesense mirror are optional: when Redis is unreachable the runtime
// falls back to process-local storage and broadcasting.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*Runtime, error) {
	rt := &Runtime{}
	registry := schema.Clinic()

	store, err := openStore(ctx, cfg, registry, metrics)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	rt.closers = append(rt.closers, store.Close)

	if err := store.Migrate(ctx); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	var local providers.LocalStorage
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable; using process-local storage and broadcaster")
		} else {
			rt.closers = append(rt.closers, redisClient.Close)
			local = storage.NewRedisLocalStorage(redisClient, cfg.Store.Name)
			rt.Broadcaster = events.NewRedisBroadcaster(redisClient)
			log.Info().Msg("Redis storage and broadcaster initialized")
		}
	}
	if local == nil {
		local = storage.NewMemoryLocalStorage()
		rt.Broadcaster = events.NewLocalBroadcaster()
	}
	rt.closers = append(rt.closers, rt.Broadcaster.Close)

	var docMirror providers.DocumentMirror
	if cfg.Mirror.Enabled {
		tsClient, err := typesense.NewClient(&cfg.Typesense)
		if err != nil {
			log.Warn().Err(err).Msg("Typesense unavailable; document mirror disabled")
		} else {
			tm := mirror.NewTypesenseMirror(tsClient, cfg.Store.Name)
			if err := tm.EnsureCollections(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to ensure mirror collections; document mirror disabled")
			} else {
				docMirror = tm
				log.Info().Msg("Typesense document mirror initialized")
			}
		}
	}

	loc, err := cfg.App.Location()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Core = services.NewCore(services.Deps{
		Store:       store,
		Registry:    registry,
		Storage:     local,
		Broadcaster: rt.Broadcaster,
		Mirror:      docMirror,
		Bus: services.BusConfig{
			QueueChannel:    cfg.Bus.QueueChannel,
			BrandingChannel: cfg.Bus.BrandingChannel,
		},
		Clock:   services.SystemClock(loc),
		Metrics: metrics,
	})
	return rt, nil
}

type migratingStore interface {
	repositories.Store
	Migrate(ctx context.Context) error
}

func openStore(ctx context.Context, cfg *config.Config, registry *schema.Registry, metrics *observability.Metrics) (migratingStore, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		log.Warn().Msg("Using in-memory store; data is lost on exit")
		return database.NewMemoryStore(ctx, registry)
	default:
		pgClient, err := postgres.NewClient(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
		}
		return database.NewPostgresStore(pgClient, registry, cfg.Store.Name, metrics), nil
	}
}

// Close releases every resource in reverse order of acquisition
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
