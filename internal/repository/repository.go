package repository

import (
	"context"
	"time"

	"mtfcascade/internal/models"
)

// EligibilityTx is the view of the store inside one transaction. LockSymbol takes row locks
// on every eligibility and retry row of the symbol so transitions never interleave.
type EligibilityTx interface {
	LockSymbol(ctx context.Context, symbol string) ([]models.TimeframeEligibility, []models.RetryStatus, error)
	SeedSymbol(ctx context.Context, rows []models.TimeframeEligibility, retries []models.RetryStatus) error
	SaveEligibility(ctx context.Context, item *models.TimeframeEligibility) error
	SaveRetryStatus(ctx context.Context, item *models.RetryStatus) error

	InsertEventDedup(ctx context.Context, item *models.EventDedupRecord) (bool, error)

	InsertOrderRef(ctx context.Context, item *models.OutgoingOrderRef) error
	DeleteOrderRef(ctx context.Context, orderID string) (int64, error)
	DeleteOrderRefsBySymbol(ctx context.Context, symbol string) (int64, error)
}

type EligibilityRepository interface {
	InTx(ctx context.Context, fn func(tx EligibilityTx) error) error
	SeedSymbol(ctx context.Context, rows []models.TimeframeEligibility, retries []models.RetryStatus) error
	ListEligibilityBySymbol(ctx context.Context, symbol string) ([]models.TimeframeEligibility, error)
	ListRetryStatusBySymbol(ctx context.Context, symbol string) ([]models.RetryStatus, error)
	ListEligible(ctx context.Context, params ListEligibleParams) ([]models.TimeframeEligibility, error)
	ListSymbols(ctx context.Context) ([]string, error)
	ListOrderRefs(ctx context.Context, symbol string) ([]models.OutgoingOrderRef, error)
}

type EventDedupRepository interface {
	// InsertEventDedup inserts-if-absent and reports whether this call created the row.
	InsertEventDedup(ctx context.Context, item *models.EventDedupRecord) (bool, error)
	DeleteEventDedupBefore(ctx context.Context, before time.Time) (int64, error)
}

type SnapshotRepository interface {
	// UpsertSnapshot merges on (symbol, timeframe, slot_start); an older at_utc never
	// replaces a newer one.
	UpsertSnapshot(ctx context.Context, item *models.SignalSnapshot) error
	GetLatestSnapshot(ctx context.Context, symbol, timeframe string) (*models.SignalSnapshot, error)
	ListSnapshots(ctx context.Context, params ListSnapshotsParams) ([]models.SignalSnapshot, error)

	UpsertPendingChild(ctx context.Context, item *models.PendingChildSignal) error
	ListPendingChildren(ctx context.Context, symbol string) ([]models.PendingChildSignal, error)
	DeletePendingChildren(ctx context.Context, symbol string, timeframes []string) (int64, error)
	DeletePendingBefore(ctx context.Context, before time.Time) (int64, error)
}

type ValidationCacheRepository interface {
	GetValidationCache(ctx context.Context, symbol, timeframe string) (*models.ValidationCacheEntry, error)
	UpsertValidationCache(ctx context.Context, item *models.ValidationCacheEntry) error
}

type RunLockRepository interface {
	// AcquireRunLock inserts the lock or takes over a row whose expires_at is before now.
	AcquireRunLock(ctx context.Context, item *models.RunLock, now time.Time) (bool, error)
	ReleaseRunLock(ctx context.Context, key, holderToken string) (bool, error)
	GetRunLock(ctx context.Context, key string) (*models.RunLock, error)
}

type CandleRepository interface {
	UpsertCandles(ctx context.Context, items []models.Candle) error
	// ListRecentCandles returns at most limit candles opened at or before until, oldest first.
	ListRecentCandles(ctx context.Context, symbol, timeframe string, until time.Time, limit int) ([]models.Candle, error)
}

type SystemSettingsRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

// Repository is everything the scheduler persists.
type Repository interface {
	EligibilityRepository
	EventDedupRepository
	SnapshotRepository
	ValidationCacheRepository
	RunLockRepository
	CandleRepository
	SystemSettingsRepository
}

type ListEligibleParams struct {
	Timeframe string
	Now       time.Time
	Limit     int

	// IncludeCooldownElapsed also returns COOLDOWN rows whose cooldown_until <= Now.
	IncludeCooldownElapsed bool
	// FreshSlot, when set, excludes symbols with a snapshot whose slot_start >= FreshSlot.
	FreshSlot *time.Time
	Symbols   []string
}

type ListSnapshotsParams struct {
	Symbol    string
	Timeframe *string
	Since     *time.Time
	Limit     int
	Offset    int
	OrderBy   string
	Asc       *bool
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
