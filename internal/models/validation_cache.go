package models

import (
	"time"

	"gorm.io/datatypes"
)

// ValidationCacheEntry is the last evaluator result for (symbol, timeframe).
// Rows are overwritten, never deleted.
type ValidationCacheEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Symbol    string `gorm:"type:varchar(40);not null;uniqueIndex:ux_vcache_symbol_tf,priority:1"`
	Timeframe string `gorm:"type:varchar(8);not null;uniqueIndex:ux_vcache_symbol_tf,priority:2"`

	Result    datatypes.JSON `gorm:"type:jsonb;not null"`
	KlineTime time.Time      `gorm:"type:timestamptz;not null"`
	ExpiresAt time.Time      `gorm:"type:timestamptz;not null"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ValidationCacheEntry) TableName() string {
	return "validation_cache_entries"
}
