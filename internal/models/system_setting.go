package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting holds kill switches and policy overrides that operators change at runtime.
type SystemSetting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Key string `gorm:"type:varchar(160);not null;uniqueIndex"`

	// Switch keys hold {"enabled":bool,"disabled_until":time}; policy keys hold an object.
	Value datatypes.JSON `gorm:"type:jsonb;not null"`

	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
