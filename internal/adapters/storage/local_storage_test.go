package storage

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	redisclient "github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/redis"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

func setupRedisStorage(t *testing.T) (*miniredis.Miniredis, providers.LocalStorage) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisLocalStorage(redisclient.NewFromClient(client), "onesystem_clinic")
}

// exercise runs the shared LocalStorage contract against an implementation
func exercise(t *testing.T, ls providers.LocalStorage) {
	ctx := context.Background()

	_, found, err := ls.GetItem(ctx, "lab_orders_queue")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, ls.SetItem(ctx, "lab_orders_queue", `[{"pid":"P00001"}]`))
	require.NoError(t, ls.SetItem(ctx, "lab_orders_queue_touch", "1717200000000"))
	require.NoError(t, ls.SetItem(ctx, "sales_touch", "1717200000001"))

	v, found, err := ls.GetItem(ctx, "lab_orders_queue")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[{"pid":"P00001"}]`, v)

	items, err := ls.GetItems(ctx, "sales_touch", "missing_touch", "lab_orders_queue_touch")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sales_touch": "1717200000001", "lab_orders_queue_touch": "1717200000000"}, items)

	keys, err := ls.Keys(ctx, "lab_orders_")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"lab_orders_queue", "lab_orders_queue_touch"}, keys)

	require.NoError(t, ls.RemoveItem(ctx, "lab_orders_queue"))
	_, found, err = ls.GetItem(ctx, "lab_orders_queue")
	require.NoError(t, err)
	assert.False(t, found)

	empty, err := ls.GetItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisLocalStorage(t *testing.T) {
	mr, ls := setupRedisStorage(t)
	exercise(t, ls)

	require.NoError(t, ls.SetItem(context.Background(), "branding_json", `{"theme":"pastel"}`))
	got, err := mr.Get("onesystem_clinic:ls:branding_json")
	require.NoError(t, err)
	assert.Equal(t, `{"theme":"pastel"}`, got)
}

func TestRedisLocalStorage_Unavailable(t *testing.T) {
	mr, ls := setupRedisStorage(t)
	mr.Close()

	err := ls.SetItem(context.Background(), "sales_touch", "1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable))
}

func TestMemoryLocalStorage(t *testing.T) {
	exercise(t, NewMemoryLocalStorage())
}

func TestMemoryLocalStorage_FailKey(t *testing.T) {
	ctx := context.Background()
	ls := NewMemoryLocalStorage()
	ls.FailKey("lab_orders_queue", errors.New("quota exceeded"))

	err := ls.SetItem(ctx, "lab_orders_queue", "[]")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable))
	assert.NoError(t, ls.SetItem(ctx, "sales_touch", "1"))

	ls.FailKey("lab_orders_queue", nil)
	assert.NoError(t, ls.SetItem(ctx, "lab_orders_queue", "[]"))
}
