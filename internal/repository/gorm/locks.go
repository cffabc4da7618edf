package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mtfcascade/internal/models"
)

func (s *Store) InsertEventDedup(ctx context.Context, item *models.EventDedupRecord) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) DeleteEventDedupBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("processed_at < ?", before).Delete(&models.EventDedupRecord{})
	return res.RowsAffected, res.Error
}

func (s *Store) GetValidationCache(ctx context.Context, symbol, timeframe string) (*models.ValidationCacheEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ValidationCacheEntry
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", strings.TrimSpace(symbol), timeframe).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertValidationCache(ctx context.Context, item *models.ValidationCacheEntry) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}},
		DoUpdates: clause.AssignmentColumns([]string{"result", "kline_time", "expires_at", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) AcquireRunLock(ctx context.Context, item *models.RunLock, now time.Time) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lock_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"holder_token", "expires_at", "metadata", "acquired_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "run_locks.expires_at < ?", Vars: []interface{}{now}},
		}},
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReleaseRunLock(ctx context.Context, key, holderToken string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Where("lock_key = ? AND holder_token = ?", key, holderToken).
		Delete(&models.RunLock{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetRunLock(ctx context.Context, key string) (*models.RunLock, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.RunLock
	err := s.db.WithContext(ctx).Where("lock_key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
