package services_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// anomalyStore fails the first n transactions with a serialization anomaly
type anomalyStore struct {
	repositories.Store
	remaining int32
	calls     int32
}

func (s *anomalyStore) Tx(ctx context.Context, fn func(tx repositories.Tx) error) error {
	atomic.AddInt32(&s.calls, 1)
	if atomic.AddInt32(&s.remaining, -1) >= 0 {
		return apperrors.NewConcurrencyAnomalyError("could not serialize access", nil)
	}
	return s.Store.Tx(ctx, fn)
}

func TestSequenceGenerator_SequentialNoGaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for want := int64(1); want <= 25; want++ {
		got, err := f.core.Sequences.Next(ctx, "Walk", "2024-06-01")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	n, err := f.core.Sequences.Peek(ctx, "Walk", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)
}

func TestSequenceGenerator_DailyScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var got []int64
	for i := 0; i < 3; i++ {
		n, err := f.core.Sequences.Next(ctx, "Walk", "2024-06-01")
		require.NoError(t, err)
		got = append(got, n)
	}
	assert.Equal(t, []int64{1, 2, 3}, got)

	n, err := f.core.Sequences.Next(ctx, "Walk", "2024-06-02")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// purposes are independent
	n, err = f.core.Sequences.Next(ctx, "Online", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSequenceGenerator_NextTokenResetsOnDateChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 1; i <= 3; i++ {
		n, err := f.core.Sequences.NextToken(ctx, services.PurposeToken)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	// later the same day numbering continues
	f.clock.Advance(8 * time.Hour)
	n, err := f.core.Sequences.NextToken(ctx, services.PurposeToken)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	f.clock.Advance(24 * time.Hour)
	n, err = f.core.Sequences.NextToken(ctx, services.PurposeToken)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := f.core.Sequences.Peek(ctx, services.PurposeToken, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(4), old, "previous day's counter is kept")
}

func TestSequenceGenerator_RollDayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.core.Sequences.Next(ctx, "token", "2024-05-30")
	require.NoError(t, err)

	rolled, err := f.core.Sequences.RollDay(ctx, "2024-06-01")
	require.NoError(t, err)
	assert.True(t, rolled)

	rolled, err = f.core.Sequences.RollDay(ctx, "2024-06-01")
	require.NoError(t, err)
	assert.False(t, rolled)

	n, err := f.core.Sequences.Peek(ctx, "token", "2024-05-30")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "earlier day's counter is kept")

	_, err = f.core.Sequences.RollDay(ctx, "1 June")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestSequenceGenerator_PastDayContinuesAfterRollover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.clock.Advance(48 * time.Hour)

	for i := 1; i <= 3; i++ {
		n, err := f.core.Sequences.Next(ctx, "Walk", "2024-06-01")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	n, err := f.core.Sequences.NextToken(ctx, services.PurposeToken)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.core.Sequences.Next(ctx, "Walk", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "numbering for 2024-06-01 continues without repeats")
}

func TestSequenceGenerator_FutureDayCountersSurviveRollover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		_, err := f.core.Sequences.Next(ctx, services.PurposeToken, "2024-06-03")
		require.NoError(t, err)
	}

	f.clock.Advance(24 * time.Hour)
	n, err := f.core.Sequences.NextToken(ctx, services.PurposeToken)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	future, err := f.core.Sequences.Peek(ctx, services.PurposeToken, "2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, int64(2), future, "tokens already issued for a later day are kept")
}

func TestSequenceGenerator_ConcurrentCallersGetDistinctValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const callers = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.core.Sequences.Next(ctx, "Walk", "2024-06-01")
			assert.NoError(t, err)
			mu.Lock()
			got = append(got, int(n))
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(got)
	want := make([]int, callers)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, got)
}

func TestSequenceGenerator_GlobalNeverReused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.core.Sequences.NextGlobal(ctx)
	require.NoError(t, err)
	b, err := f.core.Sequences.NextGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, []int64{a, b})

	f.clock.Advance(48 * time.Hour)
	_, err = f.core.Sequences.RollDay(ctx, f.clock.Now().Format(services.DayLayout))
	require.NoError(t, err)

	c, err := f.core.Sequences.NextGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c)
}

func TestSequenceGenerator_FailsLoudly(t *testing.T) {
	ctx := context.Background()

	t.Run("corrupt counter", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Put(ctx, schema.Settings, "seq:daily:Walk:2024-06-01",
			map[string]interface{}{"key": "seq:daily:Walk:2024-06-01", "value": "seven"}))

		_, err := f.core.Sequences.Next(ctx, "Walk", "2024-06-01")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
	})

	t.Run("unreadable document", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.core.Sequences.NextGlobal(ctx)
		require.NoError(t, err)
		require.True(t, f.store.CorruptDocument(schema.Settings, "seq:global:patient_id", []byte("{broken")))

		_, err = f.core.Sequences.NextGlobal(ctx)
		assert.Error(t, err)
	})

	t.Run("store closed", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Close())

		_, err := f.core.Sequences.Next(ctx, "Walk", "2024-06-01")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable))
	})
}

func TestSequenceGenerator_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.core.Sequences.Next(ctx, "", "2024-06-01")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	_, err = f.core.Sequences.Next(ctx, "a:b", "2024-06-01")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	_, err = f.core.Sequences.Next(ctx, "Walk", "01/06/2024")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestSequenceGenerator_RetriesAnomalyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	flaky := &anomalyStore{Store: f.store, remaining: 1}
	gen := services.NewSequenceGenerator(flaky, f.clock.Now, nil)

	n, err := gen.Next(ctx, "Walk", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky.calls))
}

func TestSequenceGenerator_SecondAnomalySurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	flaky := &anomalyStore{Store: f.store, remaining: 5}
	gen := services.NewSequenceGenerator(flaky, f.clock.Now, nil)

	_, err := gen.Next(ctx, "Walk", "2024-06-01")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConcurrencyAnomaly))
	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky.calls), "no unbounded retry")

	n, err := f.core.Sequences.Peek(ctx, "Walk", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
