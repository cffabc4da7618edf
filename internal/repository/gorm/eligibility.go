package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm/clause"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
)

func (s *Store) SeedSymbol(ctx context.Context, rows []models.TimeframeEligibility, retries []models.RetryStatus) error {
	if s == nil || s.db == nil {
		return nil
	}
	db := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true})
	if len(rows) > 0 {
		if err := db.Create(&rows).Error; err != nil {
			return err
		}
	}
	if len(retries) > 0 {
		if err := db.Create(&retries).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) LockSymbol(ctx context.Context, symbol string) ([]models.TimeframeEligibility, []models.RetryStatus, error) {
	if s == nil || s.db == nil {
		return nil, nil, nil
	}
	symbol = strings.TrimSpace(symbol)
	var rows []models.TimeframeEligibility
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("symbol = ?", symbol).
		Order("id asc").
		Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	var retries []models.RetryStatus
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("symbol = ?", symbol).
		Order("id asc").
		Find(&retries).Error; err != nil {
		return nil, nil, err
	}
	return rows, retries, nil
}

func (s *Store) SaveEligibility(ctx context.Context, item *models.TimeframeEligibility) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) SaveRetryStatus(ctx context.Context, item *models.RetryStatus) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) ListEligibilityBySymbol(ctx context.Context, symbol string) ([]models.TimeframeEligibility, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TimeframeEligibility
	if err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListRetryStatusBySymbol(ctx context.Context, symbol string) ([]models.RetryStatus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.RetryStatus
	if err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListEligible(ctx context.Context, params repository.ListEligibleParams) ([]models.TimeframeEligibility, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.TimeframeEligibility{}).
		Where("timeframe = ?", params.Timeframe)
	if params.IncludeCooldownElapsed {
		query = query.Where(
			"(status = ? OR (status = ? AND cooldown_until IS NOT NULL AND cooldown_until <= ?))",
			models.StatusActive, models.StatusCooldown, params.Now,
		)
	} else {
		query = query.Where("status = ?", models.StatusActive)
	}
	if params.FreshSlot != nil {
		query = query.Where(
			"NOT EXISTS (SELECT 1 FROM signal_snapshots s WHERE s.symbol = timeframe_eligibility.symbol AND s.timeframe = timeframe_eligibility.timeframe AND s.slot_start >= ?)",
			*params.FreshSlot,
		)
	}
	if symbols := cleanStrings(params.Symbols); len(symbols) > 0 {
		query = query.Where("symbol IN ?", symbols)
	}
	var items []models.TimeframeEligibility
	if err := query.
		Order("priority desc").
		Order("updated_at asc").
		Order("symbol asc").
		Limit(normalizeLimit(params.Limit, 200)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []string
	if err := s.db.WithContext(ctx).
		Model(&models.TimeframeEligibility{}).
		Distinct("symbol").
		Order("symbol asc").
		Pluck("symbol", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) InsertOrderRef(ctx context.Context, item *models.OutgoingOrderRef) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.OrderID = strings.TrimSpace(item.OrderID)
	if item.OrderID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "timeframe", "intent", "dedup_key"}),
	}).Create(item).Error
}

func (s *Store) DeleteOrderRef(ctx context.Context, orderID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.OutgoingOrderRef{})
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteOrderRefsBySymbol(ctx context.Context, symbol string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("symbol = ?", strings.TrimSpace(symbol)).Delete(&models.OutgoingOrderRef{})
	return res.RowsAffected, res.Error
}

func (s *Store) ListOrderRefs(ctx context.Context, symbol string) ([]models.OutgoingOrderRef, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.OutgoingOrderRef
	if err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
