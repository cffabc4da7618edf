package models

import (
	"time"

	"gorm.io/datatypes"
)

type RunLock struct {
	LockKey     string         `gorm:"type:varchar(120);primaryKey"`
	HolderToken string         `gorm:"type:varchar(64);not null"`
	ExpiresAt   time.Time      `gorm:"type:timestamptz;not null"`
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	AcquiredAt  time.Time      `gorm:"type:timestamptz;not null"`
}

func (RunLock) TableName() string {
	return "run_locks"
}
