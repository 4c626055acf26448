package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgresStore(postgres.NewFromDB(db), schema.Clinic(), "onesystem_clinic", nil)
	return store, mock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func TestPostgresStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("caller keyed document", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(q(`FROM "onesystem_clinic"."settings" WHERE ("key" = 'branding')`)).
			WillReturnRows(sqlmock.NewRows([]string{"key", "doc"}).AddRow("branding", []byte(`{"key":"branding","value":{"theme":"pastel"}}`)))

		rec, found, err := store.Get(ctx, schema.Settings, "branding")

		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "branding", rec.Key)
		assert.JSONEq(t, `{"key":"branding","value":{"theme":"pastel"}}`, string(rec.Doc))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store keyed document injects id", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(q(`jsonb_build_object('id'::text, id)`) + `.*` + q(`FROM "onesystem_clinic"."bookings" WHERE ("id" = 4)`)).
			WillReturnRows(sqlmock.NewRows([]string{"key", "doc"}).AddRow("4", []byte(`{"id":4,"token_no":2}`)))

		rec, found, err := store.Get(ctx, schema.Bookings, "4")

		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "4", rec.Key)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent document is not an error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(q(`FROM "onesystem_clinic"."settings"`)).
			WillReturnRows(sqlmock.NewRows([]string{"key", "doc"}))

		rec, found, err := store.Get(ctx, schema.Settings, "missing")

		assert.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, rec)
	})

	t.Run("non numeric store key cannot exist", func(t *testing.T) {
		store, mock := newMockStore(t)

		_, found, err := store.Get(ctx, schema.Bookings, "abc")

		assert.NoError(t, err)
		assert.False(t, found)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Find(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectQuery(q(`WHERE ((doc->>'date' = '2024-06-01') AND (doc->>'status' = 'pending')) ORDER BY doc->'token_no' ASC NULLS FIRST, "id" ASC LIMIT 5`)).
		WillReturnRows(sqlmock.NewRows([]string{"key", "doc"}).
			AddRow("1", []byte(`{"id":1,"token_no":1}`)).
			AddRow("2", []byte(`{"id":2,"token_no":2}`)))

	recs, err := store.Find(ctx, schema.Bookings, repositories.Query{
		Where:   []repositories.Filter{repositories.Eq("date", "2024-06-01"), repositories.Eq("status", "pending")},
		OrderBy: "token_no",
		Limit:   5,
	})

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2", recs[1].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM "onesystem_clinic"."patients"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.Count(context.Background(), schema.Patients, repositories.Query{})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPostgresStore_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("store keyed returns new id", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(q(`INSERT INTO "onesystem_clinic"."bookings"`) + `.*` + q(`RETURNING "id"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		key, err := store.Insert(ctx, schema.Bookings, map[string]interface{}{"id": 99, "date": "2024-06-01"})

		require.NoError(t, err)
		assert.Equal(t, "7", key)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(q(`INSERT INTO "onesystem_clinic"."patients"`)).
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

		_, err := store.Insert(ctx, schema.Patients, map[string]interface{}{"id": 1, "name": "Aarav", "phone": "9000000001"})

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	})

	t.Run("non object document is rejected before SQL", func(t *testing.T) {
		store, mock := newMockStore(t)

		_, err := store.Insert(ctx, schema.Sales, []int{1, 2})

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_PutUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(q(`INSERT INTO "onesystem_clinic"."settings"`) + `.*` + q(`ON CONFLICT (key) DO UPDATE SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Put(context.Background(), schema.Settings, "seq:global:patient_id", map[string]interface{}{"key": "seq:global:patient_id", "value": 4})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateMissingIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(q(`UPDATE "onesystem_clinic"."sales" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), schema.Sales, "12", map[string]interface{}{"status": "fulfilled"})

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestPostgresStore_Tx(t *testing.T) {
	ctx := context.Background()

	t.Run("serialization failure is a concurrency anomaly", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q(`FROM "onesystem_clinic"."settings"`)).
			WillReturnRows(sqlmock.NewRows([]string{"key", "doc"}).AddRow("seq:daily:token:2024-06-01", []byte(`{"key":"seq:daily:token:2024-06-01","value":2}`)))
		mock.ExpectExec(q(`INSERT INTO "onesystem_clinic"."settings"`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

		err := store.Tx(ctx, func(tx repositories.Tx) error {
			if _, _, err := tx.Get(ctx, schema.Settings, "seq:daily:token:2024-06-01"); err != nil {
				return err
			}
			return tx.Put(ctx, schema.Settings, "seq:daily:token:2024-06-01", map[string]interface{}{"key": "seq:daily:token:2024-06-01", "value": 3})
		})

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConcurrencyAnomaly))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := store.Tx(ctx, func(tx repositories.Tx) error { return boom })

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure means the store is unavailable", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

		err := store.Tx(ctx, func(tx repositories.Tx) error { return nil })

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable))
	})
}

func TestPostgresStore_Probe(t *testing.T) {
	ctx := context.Background()

	t.Run("empty collection is healthy", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(q(`SELECT "doc" FROM "onesystem_clinic"."patients" LIMIT 1`)).
			WillReturnRows(sqlmock.NewRows([]string{"doc"}))

		assert.NoError(t, store.Probe(ctx, schema.Patients))
	})

	t.Run("undecodable row fails", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(q(`SELECT "doc" FROM "onesystem_clinic"."products" LIMIT 1`)).
			WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow([]byte(`{broken`)))

		assert.Error(t, store.Probe(ctx, schema.Products))
	})

	t.Run("missing table is reported", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(q(`"onesystem_clinic"."lab_orders"`)).
			WillReturnError(&pq.Error{Code: "42P01", Message: "relation does not exist"})

		err := store.Probe(ctx, schema.LabOrders)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable))
	})
}

func TestPostgresStore_Migrate(t *testing.T) {
	ctx := context.Background()

	t.Run("applies pending step with touch-up", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(q(`CREATE SCHEMA IF NOT EXISTS "onesystem_clinic"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(q(`CREATE TABLE IF NOT EXISTS "onesystem_clinic"."schema_versions"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(`SELECT COALESCE(MAX("version"), 0)`)).WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(7))

		mock.ExpectBegin()
		mock.ExpectExec(q(`SELECT pg_advisory_xact_lock(hashtext('onesystem_clinic'))`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(`SELECT COALESCE(MAX("version"), 0)`)).WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(7))
		mock.ExpectExec(q(`CREATE INDEX IF NOT EXISTS "products_min_stock_idx" ON "onesystem_clinic"."products" ((doc->>'min_stock'))`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(`FROM "onesystem_clinic"."products" ORDER BY "id" ASC FOR UPDATE`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "doc"}).
				AddRow("1", []byte(`{"sku":"PCM500"}`)).
				AddRow("2", []byte(`{"sku":"AMX250","lead_time_days":3,"target_cover_days":7,"safety_stock_days":1,"pack_size":10}`)))
		mock.ExpectExec(q(`UPDATE "onesystem_clinic"."products" SET`) + `.*` + q(`"lead_time_days":5`) + `.*` + q(`WHERE ("id" = 1)`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q(`INSERT INTO "onesystem_clinic"."schema_versions"`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Migrate(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("current store is a no-op", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(q(`CREATE SCHEMA IF NOT EXISTS`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(q(`CREATE TABLE IF NOT EXISTS`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(`SELECT COALESCE(MAX("version"), 0)`)).WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(8))

		require.NoError(t, store.Migrate(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateTableSQL(t *testing.T) {
	auto := createTableSQL("clinic", schema.Collection{Name: "bookings", KeyPath: "id", KeyMode: schema.KeyAuto})
	assert.Contains(t, auto, `"clinic"."bookings"`)
	assert.Contains(t, auto, "id BIGSERIAL PRIMARY KEY")

	caller := createTableSQL("clinic", schema.Collection{Name: "settings", KeyPath: "key", KeyMode: schema.KeyCaller})
	assert.Contains(t, caller, "key TEXT PRIMARY KEY")

	idx := createIndexSQL("clinic", "patients", schema.Index{Name: "name+phone", Fields: []string{"name", "phone"}, Unique: true})
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "patients_name_phone_idx" ON "clinic"."patients" ((doc->>'name'), (doc->>'phone'))`, idx)
}

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.ErrorType
	}{
		{"serialization", &pq.Error{Code: "40001"}, apperrors.ErrorTypeConcurrencyAnomaly},
		{"deadlock", &pq.Error{Code: "40P01"}, apperrors.ErrorTypeConcurrencyAnomaly},
		{"unique", &pq.Error{Code: "23505"}, apperrors.ErrorTypeConflict},
		{"connection", &pq.Error{Code: "08001"}, apperrors.ErrorTypeStoreUnavailable},
		{"disk full", &pq.Error{Code: "53100"}, apperrors.ErrorTypeStoreUnavailable},
		{"other pq", &pq.Error{Code: "22P02"}, apperrors.ErrorTypeInternal},
		{"plain", errors.New("boom"), apperrors.ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperrors.TypeOf(mapPgError("op", tt.err)))
		})
	}
}
