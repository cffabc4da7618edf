package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SideLong  = "LONG"
	SideShort = "SHORT"
	SideNone  = "NONE"
)

// SignalSnapshot is one evaluated (symbol, timeframe, slot). The row with the greatest
// AtUTC for a (symbol, timeframe) is the latest one.
type SignalSnapshot struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Symbol    string    `gorm:"type:varchar(40);not null;uniqueIndex:ux_snapshot_slot,priority:1;index:ix_snapshot_latest,priority:1"`
	Timeframe string    `gorm:"type:varchar(8);not null;uniqueIndex:ux_snapshot_slot,priority:2;index:ix_snapshot_latest,priority:2"`
	SlotStart time.Time `gorm:"type:timestamptz;not null;uniqueIndex:ux_snapshot_slot,priority:3"`

	Side   string         `gorm:"type:varchar(8);not null;default:'NONE'"`
	Passed bool           `gorm:"not null;default:false"`
	Score  *float64       `gorm:""`
	Meta   datatypes.JSON `gorm:"type:jsonb"`

	AtUTC     time.Time `gorm:"column:at_utc;type:timestamptz;not null;index:ix_snapshot_latest,priority:3"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (SignalSnapshot) TableName() string {
	return "signal_snapshots"
}

// PendingChildSignal parks a child evaluation until its parent slot is fresh.
type PendingChildSignal struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Symbol    string    `gorm:"type:varchar(40);not null;uniqueIndex:ux_pending_symbol_tf,priority:1"`
	Timeframe string    `gorm:"type:varchar(8);not null;uniqueIndex:ux_pending_symbol_tf,priority:2"`
	SlotStart time.Time `gorm:"type:timestamptz;not null"`

	Payload   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"type:timestamptz;not null;index"`
}

func (PendingChildSignal) TableName() string {
	return "pending_child_signals"
}
