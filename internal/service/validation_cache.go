package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

type CachedValidation struct {
	Result    EvaluationResult
	KlineTime time.Time
	ExpiresAt time.Time
}

// ValidationCache keeps the last evaluator result per (symbol, timeframe), valid until the
// next slot close. Rows are overwritten and never deleted.
type ValidationCache struct {
	Repo  repository.ValidationCacheRepository
	Clock timeframe.Clock
}

func (c *ValidationCache) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock.Now()
}

// Get returns hadEntry=false only when no row was ever written; an expired row still counts.
func (c *ValidationCache) Get(ctx context.Context, symbol string, tf timeframe.Timeframe) (*CachedValidation, bool, error) {
	if c == nil || c.Repo == nil {
		return nil, false, nil
	}
	row, err := c.Repo.GetValidationCache(ctx, symbol, tf.String())
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, nil
	}
	entry := &CachedValidation{KlineTime: row.KlineTime.UTC(), ExpiresAt: row.ExpiresAt.UTC()}
	if err := json.Unmarshal(row.Result, &entry.Result); err != nil {
		return nil, true, fmt.Errorf("decode cached validation %s/%s: %w", symbol, tf, err)
	}
	return entry, true, nil
}

// Put stores result for the slot containing now; a zero now reads the cache clock.
func (c *ValidationCache) Put(ctx context.Context, symbol string, tf timeframe.Timeframe, result EvaluationResult, klineTime, now time.Time) error {
	if c == nil || c.Repo == nil {
		return nil
	}
	if now.IsZero() {
		now = c.now()
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.Repo.UpsertValidationCache(ctx, &models.ValidationCacheEntry{
		Symbol:    symbol,
		Timeframe: tf.String(),
		Result:    datatypes.JSON(raw),
		KlineTime: klineTime.UTC(),
		ExpiresAt: timeframe.NextClose(tf, now),
	})
}

// ShouldReuse recomputes the expected candle instead of trusting ExpiresAt alone, so an
// entry from a previous slot is never served.
func ShouldReuse(entry *CachedValidation, tf timeframe.Timeframe, now time.Time) bool {
	if entry == nil {
		return false
	}
	if !entry.KlineTime.Equal(timeframe.LastClosedCandle(tf, now)) {
		return false
	}
	return now.Before(entry.ExpiresAt)
}
