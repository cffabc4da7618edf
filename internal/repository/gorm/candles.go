package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"mtfcascade/internal/models"
)

func (s *Store) UpsertCandles(ctx context.Context, items []models.Candle) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	db := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "open_time"}},
		DoUpdates: clause.AssignmentColumns([]string{"close_time", "open", "high", "low", "close", "volume"}),
	})
	return createInBatches(db, items, 200)
}

func (s *Store) ListRecentCandles(ctx context.Context, symbol, timeframe string, until time.Time, limit int) ([]models.Candle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", strings.TrimSpace(symbol), timeframe)
	if !until.IsZero() {
		query = query.Where("open_time <= ?", until)
	}
	var items []models.Candle
	if err := query.
		Order("open_time desc").
		Limit(normalizeCandleLimit(limit)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// Candle windows may exceed the usual list cap.
func normalizeCandleLimit(limit int) int {
	if limit <= 0 {
		return 300
	}
	if limit > 1500 {
		return 1500
	}
	return limit
}
