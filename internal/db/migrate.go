package db

import (
	"mtfcascade/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.TimeframeEligibility{},
		&models.RetryStatus{},
		&models.SignalSnapshot{},
		&models.PendingChildSignal{},
		&models.EventDedupRecord{},
		&models.OutgoingOrderRef{},
		&models.ValidationCacheEntry{},
		&models.RunLock{},
		&models.Candle{},
		&models.SystemSetting{},
	)
}
