package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
)

func collectionHealth(report *entities.HealthReport, name string) entities.CollectionHealth {
	for _, c := range report.Collections {
		if c.Name == name {
			return c
		}
	}
	return entities.CollectionHealth{}
}

func TestHealthService_FreshStore(t *testing.T) {
	f := newFixture(t)

	report := f.core.Health.Check(context.Background())
	assert.True(t, report.OK)
	assert.Equal(t, "memory", report.Backend)
	assert.Equal(t, schema.Clinic().CurrentVersion(), report.Version)
	assert.Len(t, report.Collections, len(schema.Clinic().Current().Names()))
	for _, c := range report.Collections {
		assert.True(t, c.OK, c.Name)
	}
}

func TestHealthService_CorruptCollectionIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.core.Inventory.UpsertProduct(ctx, &entities.Product{SKU: "PCM500", Name: "Paracetamol 500"})
	require.NoError(t, err)
	require.True(t, f.store.CorruptDocument(schema.Products, "1", []byte("{broken")))

	report := f.core.Health.Check(ctx)
	assert.False(t, report.OK)
	assert.False(t, collectionHealth(report, schema.Products).OK)
	assert.NotEmpty(t, collectionHealth(report, schema.Products).Error)
	assert.True(t, collectionHealth(report, schema.Patients).OK)
}

func TestHealthService_UnreachableStore(t *testing.T) {
	f := newFixture(t)
	f.store.FailCollection(schema.Sales, errors.New("permission denied"))
	require.NoError(t, f.store.Close())

	report := f.core.Health.Check(context.Background())
	assert.False(t, report.OK)
	assert.NotEmpty(t, report.Error)
	assert.False(t, collectionHealth(report, schema.Sales).OK)
}
