package models

import "time"

// EventDedupRecord marks an externally delivered event as applied.
type EventDedupRecord struct {
	EventID     string    `gorm:"type:varchar(191);primaryKey"`
	Source      string    `gorm:"type:varchar(50);not null"`
	ProcessedAt time.Time `gorm:"type:timestamptz;not null;index"`
}

func (EventDedupRecord) TableName() string {
	return "event_dedup_records"
}

// OutgoingOrderRef ties an in-flight order to the LOCKED_ORDER row it caused.
type OutgoingOrderRef struct {
	OrderID   string    `gorm:"type:varchar(100);primaryKey"`
	Symbol    string    `gorm:"type:varchar(40);not null;index"`
	Timeframe string    `gorm:"type:varchar(8)"`
	Intent    string    `gorm:"type:varchar(30)"`
	DedupKey  string    `gorm:"type:varchar(191);index"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null"`
}

func (OutgoingOrderRef) TableName() string {
	return "outgoing_order_refs"
}
