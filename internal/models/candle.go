package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a closed kline. OpenTime is the slot start.
type Candle struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Symbol    string    `gorm:"type:varchar(40);not null;uniqueIndex:ux_candle,priority:1"`
	Timeframe string    `gorm:"type:varchar(8);not null;uniqueIndex:ux_candle,priority:2"`
	OpenTime  time.Time `gorm:"type:timestamptz;not null;uniqueIndex:ux_candle,priority:3"`
	CloseTime time.Time `gorm:"type:timestamptz;not null"`

	Open   decimal.Decimal `gorm:"type:numeric(30,12);not null"`
	High   decimal.Decimal `gorm:"type:numeric(30,12);not null"`
	Low    decimal.Decimal `gorm:"type:numeric(30,12);not null"`
	Close  decimal.Decimal `gorm:"type:numeric(30,12);not null"`
	Volume decimal.Decimal `gorm:"type:numeric(38,12);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Candle) TableName() string {
	return "candles"
}
