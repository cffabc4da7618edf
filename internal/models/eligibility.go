package models

import "time"

const (
	StatusActive         = "ACTIVE"
	StatusCooldown       = "COOLDOWN"
	StatusLockedPosition = "LOCKED_POSITION"
	StatusLockedOrder    = "LOCKED_ORDER"
)

const (
	PriorityPromoted = 100
	PriorityIdle     = 0
)

// TimeframeEligibility decides whether (symbol, timeframe) may be evaluated.
type TimeframeEligibility struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Symbol    string `gorm:"type:varchar(40);not null;uniqueIndex:ux_eligibility_symbol_tf,priority:1"`
	Timeframe string `gorm:"type:varchar(8);not null;uniqueIndex:ux_eligibility_symbol_tf,priority:2;index:ix_eligibility_tf_status,priority:1"`

	Status        string     `gorm:"type:varchar(20);not null;index:ix_eligibility_tf_status,priority:2"`
	Priority      int        `gorm:"not null;default:0"`
	CooldownUntil *time.Time `gorm:"type:timestamptz"`
	Reason        string     `gorm:"type:varchar(200)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (TimeframeEligibility) TableName() string {
	return "timeframe_eligibility"
}

func (e TimeframeEligibility) Locked() bool {
	return e.Status == StatusLockedOrder || e.Status == StatusLockedPosition
}

const (
	ResultNone    = "NONE"
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// RetryStatus counts consecutive failed evaluations of (symbol, timeframe).
type RetryStatus struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Symbol    string `gorm:"type:varchar(40);not null;uniqueIndex:ux_retry_symbol_tf,priority:1"`
	Timeframe string `gorm:"type:varchar(8);not null;uniqueIndex:ux_retry_symbol_tf,priority:2"`

	RetryCount int    `gorm:"not null;default:0"`
	LastResult string `gorm:"type:varchar(10);not null;default:'NONE'"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (RetryStatus) TableName() string {
	return "retry_status"
}
