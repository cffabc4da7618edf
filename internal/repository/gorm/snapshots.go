package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
)

// newerWins keeps the stored column unless the incoming row is at least as recent.
func newerWins(column string) clause.Expr {
	return gorm.Expr(
		"CASE WHEN excluded.at_utc >= signal_snapshots.at_utc THEN excluded." + column +
			" ELSE signal_snapshots." + column + " END",
	)
}

func (s *Store) UpsertSnapshot(ctx context.Context, item *models.SignalSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Symbol) == "" || item.SlotStart.IsZero() {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "slot_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"side":   newerWins("side"),
			"passed": newerWins("passed"),
			"score":  newerWins("score"),
			"meta":   newerWins("meta"),
			"at_utc": gorm.Expr("GREATEST(signal_snapshots.at_utc, excluded.at_utc)"),
		}),
	}).Create(item).Error
}

func (s *Store) GetLatestSnapshot(ctx context.Context, symbol, timeframe string) (*models.SignalSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SignalSnapshot
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", strings.TrimSpace(symbol), timeframe).
		Order("at_utc desc").
		Order("slot_start desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSnapshots(ctx context.Context, params repository.ListSnapshotsParams) ([]models.SignalSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SignalSnapshot{})
	if sym := strings.TrimSpace(params.Symbol); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	if params.Timeframe != nil && strings.TrimSpace(*params.Timeframe) != "" {
		query = query.Where("timeframe = ?", strings.TrimSpace(*params.Timeframe))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("slot_start >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "at_utc")
	var items []models.SignalSnapshot
	if err := query.
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertPendingChild(ctx context.Context, item *models.PendingChildSignal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}},
		DoUpdates: clause.AssignmentColumns([]string{"slot_start", "payload", "created_at"}),
	}).Create(item).Error
}

func (s *Store) ListPendingChildren(ctx context.Context, symbol string) ([]models.PendingChildSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PendingChildSignal
	if err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeletePendingChildren(ctx context.Context, symbol string, timeframes []string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	tfs := cleanStrings(timeframes)
	if len(tfs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe IN ?", strings.TrimSpace(symbol), tfs).
		Delete(&models.PendingChildSignal{})
	return res.RowsAffected, res.Error
}

func (s *Store) DeletePendingBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.PendingChildSignal{})
	return res.RowsAffected, res.Error
}
