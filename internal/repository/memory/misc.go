package memoryrepository

import (
	"context"
	"sort"
	"strings"
	"time"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
)

func (s *Store) GetValidationCache(ctx context.Context, symbol, timeframe string) (*models.ValidationCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.vcache[pairKey(symbol, timeframe)]
	if !ok {
		return nil, nil
	}
	entry.Result = append([]byte(nil), entry.Result...)
	return &entry, nil
}

func (s *Store) UpsertValidationCache(ctx context.Context, item *models.ValidationCacheEntry) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(item.Symbol, item.Timeframe)
	if prev, ok := s.vcache[k]; ok {
		item.ID = prev.ID
	} else {
		item.ID = s.id()
	}
	item.UpdatedAt = s.now()
	cp := *item
	cp.Result = append([]byte(nil), item.Result...)
	s.vcache[k] = cp
	return nil
}

func (s *Store) AcquireRunLock(ctx context.Context, item *models.RunLock, now time.Time) (bool, error) {
	if item == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.runLocks[item.LockKey]; ok && !cur.ExpiresAt.Before(now) {
		return false, nil
	}
	s.runLocks[item.LockKey] = *item
	return true, nil
}

func (s *Store) ReleaseRunLock(ctx context.Context, key, holderToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runLocks[key]
	if !ok || cur.HolderToken != holderToken {
		return false, nil
	}
	delete(s.runLocks, key)
	return true, nil
}

func (s *Store) GetRunLock(ctx context.Context, key string) (*models.RunLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runLocks[key]
	if !ok {
		return nil, nil
	}
	return &cur, nil
}

func (s *Store) UpsertCandles(ctx context.Context, items []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range items {
		k := pairKey(c.Symbol, c.Timeframe)
		series, ok := s.candles[k]
		if !ok {
			series = map[int64]models.Candle{}
			s.candles[k] = series
		}
		open := c.OpenTime.UTC().Unix()
		if prev, ok := series[open]; ok {
			c.ID = prev.ID
			c.CreatedAt = prev.CreatedAt
		} else {
			c.ID = s.id()
			c.CreatedAt = s.now()
		}
		series[open] = c
	}
	return nil
}

func (s *Store) ListRecentCandles(ctx context.Context, symbol, timeframe string, until time.Time, limit int) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.candles[pairKey(symbol, timeframe)]
	out := make([]models.Candle, 0, len(series))
	for _, c := range series {
		if !until.IsZero() && c.OpenTime.After(until) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	if limit <= 0 {
		limit = 300
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if prev, ok := s.settings[item.Key]; ok {
		item.ID = prev.ID
		item.CreatedAt = prev.CreatedAt
	} else {
		item.ID = s.id()
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	cp := *item
	cp.Value = append([]byte(nil), item.Value...)
	s.settings[item.Key] = cp
	return nil
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settings[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	item.Value = append([]byte(nil), item.Value...)
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := ""
	if params.Prefix != nil {
		prefix = strings.TrimSpace(*params.Prefix)
	}
	var out []models.SystemSetting
	for k, item := range s.settings {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit := normalizeLimit(params.Limit, 500); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
