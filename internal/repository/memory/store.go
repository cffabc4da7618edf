package memoryrepository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
)

// Store keeps every table in process memory. It backs db.driver=memory and the tests.
type Store struct {
	// Now stamps created/updated columns; defaults to time.Now().UTC().
	Now func() time.Time

	mu     sync.Mutex
	nextID uint64

	eligibility map[string]models.TimeframeEligibility
	retries     map[string]models.RetryStatus
	snapshots   map[string]models.SignalSnapshot
	pending     map[string]models.PendingChildSignal
	dedup       map[string]models.EventDedupRecord
	orderRefs   map[string]models.OutgoingOrderRef
	vcache      map[string]models.ValidationCacheEntry
	runLocks    map[string]models.RunLock
	candles     map[string]map[int64]models.Candle
	settings    map[string]models.SystemSetting
}

var (
	_ repository.Repository    = (*Store)(nil)
	_ repository.EligibilityTx = (*tx)(nil)
)

func New() *Store {
	return &Store{
		eligibility: map[string]models.TimeframeEligibility{},
		retries:     map[string]models.RetryStatus{},
		snapshots:   map[string]models.SignalSnapshot{},
		pending:     map[string]models.PendingChildSignal{},
		dedup:       map[string]models.EventDedupRecord{},
		orderRefs:   map[string]models.OutgoingOrderRef{},
		vcache:      map[string]models.ValidationCacheEntry{},
		runLocks:    map[string]models.RunLock{},
		candles:     map[string]map[int64]models.Candle{},
		settings:    map[string]models.SystemSetting{},
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

func pairKey(symbol, timeframe string) string {
	return strings.TrimSpace(symbol) + "|" + timeframe
}

// InTx serializes fn against every other store call. State touched through tx is restored
// when fn returns an error.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.EligibilityTx) error) error {
	if s == nil || fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	backup := s.backupLocked()
	if err := fn(&tx{s: s}); err != nil {
		s.restoreLocked(backup)
		return err
	}
	return nil
}

type txBackup struct {
	nextID      uint64
	eligibility map[string]models.TimeframeEligibility
	retries     map[string]models.RetryStatus
	dedup       map[string]models.EventDedupRecord
	orderRefs   map[string]models.OutgoingOrderRef
}

func (s *Store) backupLocked() txBackup {
	return txBackup{
		nextID:      s.nextID,
		eligibility: copyMap(s.eligibility),
		retries:     copyMap(s.retries),
		dedup:       copyMap(s.dedup),
		orderRefs:   copyMap(s.orderRefs),
	}
}

func (s *Store) restoreLocked(b txBackup) {
	s.nextID = b.nextID
	s.eligibility = b.eligibility
	s.retries = b.retries
	s.dedup = b.dedup
	s.orderRefs = b.orderRefs
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// tx is handed to InTx callbacks; the store mutex is already held.
type tx struct {
	s *Store
}

func (t *tx) LockSymbol(ctx context.Context, symbol string) ([]models.TimeframeEligibility, []models.RetryStatus, error) {
	return t.s.eligibilityBySymbolLocked(symbol), t.s.retriesBySymbolLocked(symbol), nil
}

func (t *tx) SeedSymbol(ctx context.Context, rows []models.TimeframeEligibility, retries []models.RetryStatus) error {
	t.s.seedLocked(rows, retries)
	return nil
}

func (t *tx) SaveEligibility(ctx context.Context, item *models.TimeframeEligibility) error {
	t.s.saveEligibilityLocked(item)
	return nil
}

func (t *tx) SaveRetryStatus(ctx context.Context, item *models.RetryStatus) error {
	t.s.saveRetryLocked(item)
	return nil
}

func (t *tx) InsertEventDedup(ctx context.Context, item *models.EventDedupRecord) (bool, error) {
	return t.s.insertDedupLocked(item), nil
}

func (t *tx) InsertOrderRef(ctx context.Context, item *models.OutgoingOrderRef) error {
	t.s.insertOrderRefLocked(item)
	return nil
}

func (t *tx) DeleteOrderRef(ctx context.Context, orderID string) (int64, error) {
	return t.s.deleteOrderRefLocked(orderID), nil
}

func (t *tx) DeleteOrderRefsBySymbol(ctx context.Context, symbol string) (int64, error) {
	return t.s.deleteOrderRefsBySymbolLocked(symbol), nil
}

// --- eligibility ------------------------------------------------------------

func (s *Store) SeedSymbol(ctx context.Context, rows []models.TimeframeEligibility, retries []models.RetryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedLocked(rows, retries)
	return nil
}

func (s *Store) seedLocked(rows []models.TimeframeEligibility, retries []models.RetryStatus) {
	now := s.now()
	for _, row := range rows {
		k := pairKey(row.Symbol, row.Timeframe)
		if _, ok := s.eligibility[k]; ok {
			continue
		}
		row.ID = s.id()
		row.CreatedAt = now
		row.UpdatedAt = now
		s.eligibility[k] = row
	}
	for _, row := range retries {
		k := pairKey(row.Symbol, row.Timeframe)
		if _, ok := s.retries[k]; ok {
			continue
		}
		row.ID = s.id()
		row.UpdatedAt = now
		s.retries[k] = row
	}
}

func (s *Store) saveEligibilityLocked(item *models.TimeframeEligibility) {
	if item == nil {
		return
	}
	now := s.now()
	if item.ID == 0 {
		item.ID = s.id()
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.eligibility[pairKey(item.Symbol, item.Timeframe)] = *item
}

func (s *Store) saveRetryLocked(item *models.RetryStatus) {
	if item == nil {
		return
	}
	if item.ID == 0 {
		item.ID = s.id()
	}
	item.UpdatedAt = s.now()
	s.retries[pairKey(item.Symbol, item.Timeframe)] = *item
}

func (s *Store) eligibilityBySymbolLocked(symbol string) []models.TimeframeEligibility {
	symbol = strings.TrimSpace(symbol)
	var out []models.TimeframeEligibility
	for _, row := range s.eligibility {
		if row.Symbol == symbol {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) retriesBySymbolLocked(symbol string) []models.RetryStatus {
	symbol = strings.TrimSpace(symbol)
	var out []models.RetryStatus
	for _, row := range s.retries {
		if row.Symbol == symbol {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListEligibilityBySymbol(ctx context.Context, symbol string) ([]models.TimeframeEligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eligibilityBySymbolLocked(symbol), nil
}

func (s *Store) ListRetryStatusBySymbol(ctx context.Context, symbol string) ([]models.RetryStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retriesBySymbolLocked(symbol), nil
}

func (s *Store) ListEligible(ctx context.Context, params repository.ListEligibleParams) ([]models.TimeframeEligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var whitelist map[string]struct{}
	if len(params.Symbols) > 0 {
		whitelist = map[string]struct{}{}
		for _, sym := range params.Symbols {
			if sym = strings.TrimSpace(sym); sym != "" {
				whitelist[sym] = struct{}{}
			}
		}
	}
	var out []models.TimeframeEligibility
	for _, row := range s.eligibility {
		if row.Timeframe != params.Timeframe {
			continue
		}
		switch {
		case row.Status == models.StatusActive:
		case params.IncludeCooldownElapsed && row.Status == models.StatusCooldown &&
			row.CooldownUntil != nil && !row.CooldownUntil.After(params.Now):
		default:
			continue
		}
		if whitelist != nil {
			if _, ok := whitelist[row.Symbol]; !ok {
				continue
			}
		}
		if params.FreshSlot != nil && s.hasSnapshotSinceLocked(row.Symbol, row.Timeframe, *params.FreshSlot) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Symbol < out[j].Symbol
	})
	limit := normalizeLimit(params.Limit, 200)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, row := range s.eligibility {
		if _, ok := seen[row.Symbol]; ok {
			continue
		}
		seen[row.Symbol] = struct{}{}
		out = append(out, row.Symbol)
	}
	sort.Strings(out)
	return out, nil
}

// --- order refs & dedup -----------------------------------------------------

func (s *Store) insertOrderRefLocked(item *models.OutgoingOrderRef) {
	if item == nil || strings.TrimSpace(item.OrderID) == "" {
		return
	}
	item.OrderID = strings.TrimSpace(item.OrderID)
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if prev, ok := s.orderRefs[item.OrderID]; ok {
		item.CreatedAt = prev.CreatedAt
	}
	s.orderRefs[item.OrderID] = *item
}

func (s *Store) deleteOrderRefLocked(orderID string) int64 {
	orderID = strings.TrimSpace(orderID)
	if _, ok := s.orderRefs[orderID]; !ok {
		return 0
	}
	delete(s.orderRefs, orderID)
	return 1
}

func (s *Store) deleteOrderRefsBySymbolLocked(symbol string) int64 {
	symbol = strings.TrimSpace(symbol)
	var n int64
	for id, ref := range s.orderRefs {
		if ref.Symbol == symbol {
			delete(s.orderRefs, id)
			n++
		}
	}
	return n
}

func (s *Store) ListOrderRefs(ctx context.Context, symbol string) ([]models.OutgoingOrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.TrimSpace(symbol)
	var out []models.OutgoingOrderRef
	for _, ref := range s.orderRefs {
		if ref.Symbol == symbol {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

func (s *Store) insertDedupLocked(item *models.EventDedupRecord) bool {
	if item == nil {
		return false
	}
	if _, ok := s.dedup[item.EventID]; ok {
		return false
	}
	if item.ProcessedAt.IsZero() {
		item.ProcessedAt = s.now()
	}
	s.dedup[item.EventID] = *item
	return true
}

func (s *Store) InsertEventDedup(ctx context.Context, item *models.EventDedupRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertDedupLocked(item), nil
}

func (s *Store) DeleteEventDedupBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.dedup {
		if rec.ProcessedAt.Before(before) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}
