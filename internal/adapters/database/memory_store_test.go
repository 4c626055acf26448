package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

func newMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(context.Background(), schema.Clinic())
	require.NoError(t, err)
	return s
}

func decode(t *testing.T, rec repositories.Record) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Doc, &out))
	return out
}

func TestMemoryStore_OpensAtCurrentVersion(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	// reopening an already current store is a no-op
	require.NoError(t, s.Migrate(ctx))
	v, _ = s.Version(ctx)
	assert.Equal(t, 8, v)
	assert.Equal(t, BackendMemory, s.Backend())
}

func TestMemoryStore_InsertAssignsMonotonicKeys(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	k1, err := s.Insert(ctx, schema.Bookings, map[string]interface{}{"date": "2024-06-01", "token_no": 1})
	require.NoError(t, err)
	k2, err := s.Insert(ctx, schema.Bookings, map[string]interface{}{"date": "2024-06-01", "token_no": 2})
	require.NoError(t, err)
	assert.Equal(t, "1", k1)
	assert.Equal(t, "2", k2)

	require.NoError(t, s.Delete(ctx, schema.Bookings, k2))
	k3, err := s.Insert(ctx, schema.Bookings, map[string]interface{}{"date": "2024-06-01", "token_no": 3})
	require.NoError(t, err)
	assert.Equal(t, "3", k3, "keys are never reused")

	rec, found, err := s.Get(ctx, schema.Bookings, k1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(1), decode(t, *rec)["id"])
}

func TestMemoryStore_UniqueIndex(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	_, err := s.Insert(ctx, schema.Bookings, map[string]interface{}{"date": "2024-06-01", "token_no": 1})
	require.NoError(t, err)

	_, err = s.Insert(ctx, schema.Bookings, map[string]interface{}{"date": "2024-06-01", "token_no": 1})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	_, err = s.Insert(ctx, schema.Bookings, map[string]interface{}{"date": "2024-06-02", "token_no": 1})
	assert.NoError(t, err)

	// documents missing an indexed field are not indexed
	_, err = s.Insert(ctx, schema.Bookings, map[string]interface{}{"token_no": 1})
	assert.NoError(t, err)
	_, err = s.Insert(ctx, schema.Bookings, map[string]interface{}{"token_no": 1})
	assert.NoError(t, err)
}

func TestMemoryStore_CallerKeyed(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	require.NoError(t, s.Put(ctx, schema.Settings, "branding", map[string]interface{}{"key": "branding", "value": map[string]interface{}{"theme": "dark"}}))
	require.NoError(t, s.Put(ctx, schema.Settings, "branding", map[string]interface{}{"key": "branding", "value": map[string]interface{}{"theme": "pastel"}}))

	rec, found, err := s.Get(ctx, schema.Settings, "branding")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "pastel", decode(t, *rec)["value"].(map[string]interface{})["theme"])

	_, found, err = s.Get(ctx, schema.Settings, "missing")
	assert.NoError(t, err)
	assert.False(t, found)

	err = s.Put(ctx, schema.Bookings, "1", map[string]interface{}{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = s.Insert(ctx, schema.Patients, map[string]interface{}{"id": 1, "name": "Aarav", "phone": "9000000001"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, schema.Patients, map[string]interface{}{"id": 1, "name": "Diya", "phone": "9000000002"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestMemoryStore_FindFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	for i, d := range []string{"2024-06-02", "2024-06-01", "2024-06-03", "2024-06-01"} {
		_, err := s.Insert(ctx, schema.Bookings, map[string]interface{}{"date": d, "token_no": 10 - i, "status": "pending"})
		require.NoError(t, err)
	}

	recs, err := s.Find(ctx, schema.Bookings, repositories.Query{
		Where:   []repositories.Filter{repositories.Eq("date", "2024-06-01")},
		OrderBy: "token_no",
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, float64(7), decode(t, recs[0])["token_no"])
	assert.Equal(t, float64(9), decode(t, recs[1])["token_no"])

	recs, err = s.Find(ctx, schema.Bookings, repositories.Query{
		Where: []repositories.Filter{
			{Field: "date", Op: repositories.OpGte, Value: "2024-06-02"},
			{Field: "date", Op: repositories.OpLte, Value: "2024-06-03"},
		},
		OrderBy: "id",
		Desc:    true,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "3", recs[0].Key)
	assert.Equal(t, "1", recs[1].Key)

	n, err := s.Count(ctx, schema.Bookings, repositories.Query{Where: []repositories.Filter{repositories.Eq("token_no", 10)}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err = s.Find(ctx, schema.Bookings, repositories.Query{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2", recs[0].Key)
}

func TestMemoryStore_TxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)
	boom := errors.New("boom")

	err := s.Tx(ctx, func(tx repositories.Tx) error {
		if err := tx.Put(ctx, schema.Settings, "a", map[string]interface{}{"key": "a", "value": 1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, found, err := s.Get(ctx, schema.Settings, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_UpdateMissingIsNotFound(t *testing.T) {
	s := newMemoryStore(t)
	err := s.Update(context.Background(), schema.Sales, "99", map[string]interface{}{"status": "fulfilled"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestMemoryStore_FailuresAndClose(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	s.FailCollection(schema.LabOrders, errors.New("quota exceeded"))
	_, err := s.Insert(ctx, schema.LabOrders, map[string]interface{}{"pid": "P00001"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable))
	assert.Error(t, s.Probe(ctx, schema.LabOrders))
	assert.NoError(t, s.Probe(ctx, schema.Patients))

	s.FailCollection(schema.LabOrders, nil)
	assert.NoError(t, s.Probe(ctx, schema.LabOrders))

	require.NoError(t, s.Close())
	err = s.Ping(ctx)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable))
	_, _, err = s.Get(ctx, schema.Settings, "x")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable))
}

func TestMemoryStore_ProbeDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	_, err := s.Insert(ctx, schema.Products, map[string]interface{}{"sku": "PCM500"})
	require.NoError(t, err)
	assert.False(t, s.CorruptDocument(schema.Products, "9", []byte("{not json")))
	assert.False(t, s.CorruptDocument("users", "1", []byte("{not json")))
	assert.NoError(t, s.Probe(ctx, schema.Products))

	assert.True(t, s.CorruptDocument(schema.Products, "1", []byte("{not json")))
	assert.Error(t, s.Probe(ctx, schema.Products))
	assert.NoError(t, s.Probe(ctx, schema.Patients))
}

func TestMemoryStore_UnknownCollection(t *testing.T) {
	s := newMemoryStore(t)
	_, err := s.Find(context.Background(), "users", repositories.Query{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}
