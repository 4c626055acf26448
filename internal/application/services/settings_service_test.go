package services_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

func TestSettingsService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	value := map[string]interface{}{
		"endpoint": "https://push.example/abc",
		"keys":     map[string]interface{}{"p256dh": "k1", "auth": "a1"},
		"tags":     []interface{}{"opd", "lab"},
	}
	require.NoError(t, f.core.Settings.Set(ctx, "push_subscription", value))

	raw, err := f.core.Settings.Get(ctx, "push_subscription")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, value, got)

	require.NoError(t, f.core.Settings.Delete(ctx, "push_subscription"))
	raw, err = f.core.Settings.Get(ctx, "push_subscription")
	require.NoError(t, err)
	assert.Nil(t, raw)

	// deleting again is not an error
	assert.NoError(t, f.core.Settings.Delete(ctx, "push_subscription"))
}

func TestSettingsService_GetInto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var n int
	found, err := f.core.Settings.GetInto(ctx, "missing", &n)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, f.core.Settings.Set(ctx, "visits_goal", 40))
	found, err = f.core.Settings.GetInto(ctx, "visits_goal", &n)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 40, n)
}

func TestSettingsService_SetNotifies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)

	sub := f.core.Bus.Subscribe(ctx, "feature_flags")
	require.NoError(t, f.core.Settings.Set(ctx, "feature_flags", map[string]bool{"lab": true}))

	evs := drain(sub)
	require.Len(t, evs, 1)
	assert.JSONEq(t, `{"lab":true}`, string(evs[0].Payload))

	marker, found, err := f.storage.GetItem(ctx, entities.MarkerKey("feature_flags"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1717234200000", marker)
}

func TestSettingsService_Validation(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.core.Settings.Set(context.Background(), "", 1))
	assert.Error(t, f.core.Settings.Set(context.Background(), "bad", make(chan int)))
}
