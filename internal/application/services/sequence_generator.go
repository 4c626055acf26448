package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
	"github.com/zatekoja/onesystem-clinic/pkg/retry"
)

const (
	dailyPrefix      = "seq:daily:"
	dailyDayMarker   = "seq:daily_day"
	globalPatientKey = "seq:global:patient_id"

	// PurposeToken is the daily sequence behind booking tokens
	PurposeToken = "token"
)

// SequenceGenerator hands out per-day and global counters kept in the
// settings collection. Every allocation is a serializable read-modify-write.
type SequenceGenerator struct {
	store   repositories.Store
	clock   Clock
	metrics *observability.Metrics
}

// NewSequenceGenerator creates a new sequence generator
func NewSequenceGenerator(store repositories.Store, clock Clock, metrics *observability.Metrics) *SequenceGenerator {
	return &SequenceGenerator{store: store, clock: clock, metrics: metrics}
}

func dailyKey(purpose, date string) string {
	return dailyPrefix + purpose + ":" + date
}

func validatePurpose(purpose string) error {
	if purpose == "" || strings.ContainsAny(purpose, ":*") {
		return apperrors.NewValidationError("sequence purpose must be non-empty and free of ':'")
	}
	return nil
}

// Next returns the next value of the daily sequence (purpose, date),
// starting at 1.
func (g *SequenceGenerator) Next(ctx context.Context, purpose, date string) (int64, error) {
	if err := validatePurpose(purpose); err != nil {
		return 0, err
	}
	if err := validateDay("date", date); err != nil {
		return 0, err
	}

	var n int64
	err := g.inTx(ctx, func(tx repositories.Tx) error {
		var err error
		n, err = increment(ctx, tx, dailyKey(purpose, date), g.clock)
		return err
	})
	if err != nil {
		return 0, err
	}
	observability.RecordSequence(ctx, g.metrics, "daily", purpose)
	return n, nil
}

// NextToken records the day rollover and returns today's next value
func (g *SequenceGenerator) NextToken(ctx context.Context, purpose string) (int64, error) {
	today := g.clock.Today()
	if _, err := g.RollDay(ctx, today); err != nil {
		return 0, err
	}
	return g.Next(ctx, purpose, today)
}

// NextGlobal allocates the next patient number
func (g *SequenceGenerator) NextGlobal(ctx context.Context) (int64, error) {
	var n int64
	err := g.inTx(ctx, func(tx repositories.Tx) error {
		var err error
		n, err = g.nextGlobalTx(ctx, tx)
		return err
	})
	return n, err
}

// nextGlobalTx allocates inside a caller's transaction so the number and the
// record using it commit together.
func (g *SequenceGenerator) nextGlobalTx(ctx context.Context, tx repositories.Tx) (int64, error) {
	n, err := increment(ctx, tx, globalPatientKey, g.clock)
	if err != nil {
		return 0, err
	}
	observability.RecordSequence(ctx, g.metrics, "global", "patient_id")
	return n, nil
}

// Peek returns the last value handed out for (purpose, date), 0 if none
func (g *SequenceGenerator) Peek(ctx context.Context, purpose, date string) (int64, error) {
	if err := validatePurpose(purpose); err != nil {
		return 0, err
	}
	n, _, err := readCounter(ctx, g.store, dailyKey(purpose, date))
	return n, err
}

// PeekGlobal returns the last patient number handed out
func (g *SequenceGenerator) PeekGlobal(ctx context.Context) (int64, error) {
	n, _, err := readCounter(ctx, g.store, globalPatientKey)
	return n, err
}

// RollDay records today as the current sequence day and reports whether the
// day changed. Daily counters are never deleted: the date is part of their
// key, so a new day starts at 1 while earlier days keep counting from where
// they stopped. Calling it again for the same day is a no-op.
func (g *SequenceGenerator) RollDay(ctx context.Context, today string) (bool, error) {
	if err := validateDay("today", today); err != nil {
		return false, err
	}

	var previous string
	rolled := false
	err := g.inTx(ctx, func(tx repositories.Tx) error {
		rolled = false
		marker, err := getSetting(ctx, tx, dailyDayMarker)
		if err != nil {
			return err
		}
		previous = ""
		if marker != nil {
			_ = json.Unmarshal(marker.Value, &previous)
		}
		if previous == today {
			return nil
		}
		rolled = true
		value, _ := json.Marshal(today)
		return putSetting(ctx, tx, dailyDayMarker, value, g.clock)
	})
	if err != nil {
		return false, err
	}
	if rolled {
		observability.LoggerFromContext(ctx).Info().Str("previous", previous).Str("today", today).Msg("Daily sequences rolled over")
	}
	return rolled, nil
}

// inTx runs fn in a transaction, retrying exactly once on a concurrency anomaly
func (g *SequenceGenerator) inTx(ctx context.Context, fn func(tx repositories.Tx) error) error {
	return runTx(ctx, g.store, fn)
}

func runTx(ctx context.Context, store repositories.Store, fn func(tx repositories.Tx) error) error {
	return retry.DoIf(ctx, retry.OnceMore(), isAnomaly, func() error {
		return store.Tx(ctx, fn)
	})
}

func isAnomaly(err error) bool {
	return apperrors.IsType(err, apperrors.ErrorTypeConcurrencyAnomaly)
}

func increment(ctx context.Context, tx repositories.Tx, key string, clock Clock) (int64, error) {
	current, _, err := readCounter(ctx, tx, key)
	if err != nil {
		return 0, err
	}
	next := current + 1
	value, _ := json.Marshal(next)
	if err := putSetting(ctx, tx, key, value, clock); err != nil {
		return 0, err
	}
	return next, nil
}

// readCounter returns 0 for a never-seen key. A value that is not a
// non-negative integer fails loudly rather than restarting at 1.
func readCounter(ctx context.Context, ops repositories.DocumentOps, key string) (int64, bool, error) {
	setting, err := getSetting(ctx, ops, key)
	if err != nil {
		return 0, false, err
	}
	if setting == nil {
		return 0, false, nil
	}
	var n int64
	if err := json.Unmarshal(setting.Value, &n); err != nil || n < 0 {
		return 0, true, apperrors.NewInternalError(fmt.Sprintf("sequence counter %s is corrupt", key), err)
	}
	return n, true, nil
}
