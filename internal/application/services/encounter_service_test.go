package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

func TestEncounterService_SaveServesAndBridges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	sub := f.core.Bus.Subscribe(ctx, entities.TopicOPDSaved)

	p, err := f.core.Patients.Upsert(ctx, &entities.Patient{Name: "Aarav", Phone: "9000000001"})
	require.NoError(t, err)
	_, err = f.core.Bookings.Create(ctx, services.BookingRequest{PID: p.PID(), Name: p.Name, Phone: p.Phone})
	require.NoError(t, err)

	res, err := f.core.Encounters.Save(ctx, &entities.Encounter{
		PID:       p.PID(),
		Diagnosis: "Viral fever",
		Rx:        []entities.LineItem{{"name": "Paracetamol Syp", "qty": 1}},
		Labs:      []entities.LineItem{{"test": "CBP"}},
		TokenRef:  "2024-06-01#1",
	}, services.SaveOptions{BridgeRx: true, BridgeLabs: true})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Encounter.ID)
	assert.Equal(t, "2024-06-01", res.Encounter.Date)
	assert.Equal(t, "opd", res.Encounter.Type)
	require.NotNil(t, res.Served)
	assert.Equal(t, entities.BookingStatusDone, res.Served.Status)
	require.NotNil(t, res.Rx)
	assert.True(t, res.Rx.Accepted)
	require.NotNil(t, res.Lab)
	assert.True(t, res.Lab.Accepted)
	assert.False(t, res.Lab.Partial)

	pending, err := f.core.Queue.ListPendingRx(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Aarav", pending[0].PatientName)
	assert.Equal(t, "9000000001", pending[0].PatientPhone)

	labs, err := f.core.Queue.ListLabOrders(ctx, "", "2024-06-01")
	require.NoError(t, err)
	require.Len(t, labs, 1)
	assert.Equal(t, "2024-06-01#1", labs[0].TokenRef)

	_, found, err := f.storage.GetItem(ctx, entities.MarkerOPDSaved)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, drain(sub), 1)
}

func TestEncounterService_SaveWithoutBridging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.core.Encounters.Save(ctx, &entities.Encounter{
		PID: "P00009",
		Rx:  []entities.LineItem{{"name": "ORS"}},
	}, services.SaveOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.Served, "no booking to serve")
	assert.Nil(t, res.Rx)
	assert.Nil(t, res.Lab)
	assert.NotNil(t, res.Encounter.Labs)

	pending, err := f.core.Queue.ListPendingRx(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEncounterService_UpdateKeepsID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.core.Encounters.Save(ctx, &entities.Encounter{PID: "P00001", Notes: "first"}, services.SaveOptions{})
	require.NoError(t, err)

	enc := *res.Encounter
	enc.Notes = "revised"
	_, err = f.core.Encounters.Save(ctx, &enc, services.SaveOptions{})
	require.NoError(t, err)

	n, err := f.core.Encounters.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := f.core.Encounters.ListByPatient(ctx, "P00001")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "revised", list[0].Notes)

	list, err = f.core.Encounters.ListByDate(ctx, "2024-06-01")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEncounterService_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.core.Encounters.Save(ctx, &entities.Encounter{}, services.SaveOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	_, err = f.core.Encounters.Save(ctx, &entities.Encounter{PID: "P00001", Date: "01-06-2024"}, services.SaveOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	_, err = f.core.Encounters.ListByDate(ctx, "yesterday")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}
