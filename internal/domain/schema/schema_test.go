package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRewriter map[string]map[string]map[string]interface{}

func (m mapRewriter) Rewrite(_ context.Context, collection string, fn func(string, map[string]interface{}) (bool, error)) (int, error) {
	n := 0
	for key, doc := range m[collection] {
		changed, err := fn(key, doc)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func TestClinicHistory_IsValid(t *testing.T) {
	r := Clinic()

	assert.Equal(t, 8, r.CurrentVersion())

	current := r.Current()
	assert.Equal(t, 8, current.Version)
	for _, name := range []string{Settings, Patients, Bookings, Products, Batches, Sales, LabOrders, Audits, Devices} {
		_, ok := current.Collection(name)
		assert.True(t, ok, name)
	}

	patients, _ := current.Collection(Patients)
	require.Len(t, patients.UniqueIndexes(), 1)
	assert.Equal(t, []string{"name", "phone"}, patients.UniqueIndexes()[0].Fields)
	assert.False(t, patients.IsAuto())

	bookings, _ := current.Collection(Bookings)
	assert.True(t, bookings.IsAuto())
}

func TestRegistry_At_IsCumulative(t *testing.T) {
	r := Clinic()

	v1, err := r.At(1)
	require.NoError(t, err)
	assert.Equal(t, []string{Bookings, Patients, Settings}, v1.Names())

	bookingsV1, _ := v1.Collection(Bookings)
	bookingsV8, _ := r.Current().Collection(Bookings)
	assert.Len(t, bookingsV8.Indexes, len(bookingsV1.Indexes)+1)
	assert.Equal(t, bookingsV1.KeyPath, bookingsV8.KeyPath)
}

func TestRegistry_Pending(t *testing.T) {
	r := Clinic()

	assert.Len(t, r.Pending(0), 8)
	assert.Len(t, r.Pending(6), 2)
	assert.Empty(t, r.Pending(8))
}

func TestValidate_RejectsNonAdditiveSteps(t *testing.T) {
	base := Migration{Version: 1, Add: []Collection{{Name: "a", KeyPath: "id", KeyMode: KeyAuto}}}

	t.Run("non increasing version", func(t *testing.T) {
		_, err := NewRegistry(base, Migration{Version: 1})
		assert.Error(t, err)
	})

	t.Run("redeclared collection", func(t *testing.T) {
		_, err := NewRegistry(base, Migration{Version: 2, Add: []Collection{{Name: "a", KeyPath: "key", KeyMode: KeyCaller}}})
		assert.ErrorContains(t, err, "primary keys are immutable")
	})

	t.Run("index on unknown collection", func(t *testing.T) {
		_, err := NewRegistry(base, Migration{Version: 2, AddIndexes: map[string][]Index{"b": {idx("x")}}})
		assert.ErrorContains(t, err, "unknown collection")
	})

	t.Run("duplicate index", func(t *testing.T) {
		_, err := NewRegistry(base,
			Migration{Version: 2, AddIndexes: map[string][]Index{"a": {idx("x")}}},
			Migration{Version: 3, AddIndexes: map[string][]Index{"a": {idx("x")}}},
		)
		assert.Error(t, err)
	})

	t.Run("bad key mode", func(t *testing.T) {
		_, err := NewRegistry(Migration{Version: 1, Add: []Collection{{Name: "a", KeyPath: "id", KeyMode: "random"}}})
		assert.Error(t, err)
	})
}

func TestTouchUps_AreIdempotent(t *testing.T) {
	ctx := context.Background()
	data := mapRewriter{
		Settings: {
			"branding": {"key": "branding", "value": map[string]interface{}{"logo_url": "/logo.png"}},
			"other":    {"key": "other", "value": map[string]interface{}{"logo_url": "/x.png"}},
		},
		Products: {
			"1": {"sku": "PCM500"},
			"2": {"sku": "AMX250", "pack_size": 10},
		},
	}

	for _, m := range Clinic().Migrations() {
		if m.TouchUp != nil {
			require.NoError(t, m.TouchUp(ctx, data))
		}
	}

	branding := data[Settings]["branding"]["value"].(map[string]interface{})
	assert.Equal(t, DefaultTheme, branding["theme"])
	_, touched := data[Settings]["other"]["value"].(map[string]interface{})["theme"]
	assert.False(t, touched)

	assert.Equal(t, DefaultLeadTimeDays, data[Products]["1"]["lead_time_days"])
	assert.Equal(t, 10, data[Products]["2"]["pack_size"])

	// second pass changes nothing
	n, err := data.Rewrite(ctx, Products, func(_ string, doc map[string]interface{}) (bool, error) {
		return ApplyProductDefaults(doc), nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}
