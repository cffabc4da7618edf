package memoryrepository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
)

func snapshotKey(symbol, timeframe string, slot time.Time) string {
	return pairKey(symbol, timeframe) + "|" + strconv.FormatInt(slot.UTC().Unix(), 10)
}

func (s *Store) UpsertSnapshot(ctx context.Context, item *models.SignalSnapshot) error {
	if item == nil || strings.TrimSpace(item.Symbol) == "" || item.SlotStart.IsZero() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := snapshotKey(item.Symbol, item.Timeframe, item.SlotStart)
	prev, ok := s.snapshots[k]
	if !ok {
		item.ID = s.id()
		item.CreatedAt = s.now()
		s.snapshots[k] = *item
		return nil
	}
	if item.AtUTC.Before(prev.AtUTC) {
		return nil
	}
	item.ID = prev.ID
	item.CreatedAt = prev.CreatedAt
	s.snapshots[k] = *item
	return nil
}

func (s *Store) GetLatestSnapshot(ctx context.Context, symbol, timeframe string) (*models.SignalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.TrimSpace(symbol)
	var best *models.SignalSnapshot
	for _, snap := range s.snapshots {
		if snap.Symbol != symbol || snap.Timeframe != timeframe {
			continue
		}
		if best == nil || snap.AtUTC.After(best.AtUTC) ||
			(snap.AtUTC.Equal(best.AtUTC) && snap.SlotStart.After(best.SlotStart)) {
			cp := snap
			best = &cp
		}
	}
	return best, nil
}

func (s *Store) hasSnapshotSinceLocked(symbol, timeframe string, slot time.Time) bool {
	for _, snap := range s.snapshots {
		if snap.Symbol == symbol && snap.Timeframe == timeframe && !snap.SlotStart.Before(slot) {
			return true
		}
	}
	return false
}

func (s *Store) ListSnapshots(ctx context.Context, params repository.ListSnapshotsParams) ([]models.SignalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol := strings.TrimSpace(params.Symbol)
	var out []models.SignalSnapshot
	for _, snap := range s.snapshots {
		if symbol != "" && snap.Symbol != symbol {
			continue
		}
		if params.Timeframe != nil && strings.TrimSpace(*params.Timeframe) != "" && snap.Timeframe != strings.TrimSpace(*params.Timeframe) {
			continue
		}
		if params.Since != nil && snap.SlotStart.Before(*params.Since) {
			continue
		}
		out = append(out, snap)
	}
	asc := params.Asc != nil && *params.Asc
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].AtUTC, out[j].AtUTC
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		if asc {
			return a.Before(b)
		}
		return a.After(b)
	})
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit := normalizeLimit(params.Limit, 100); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpsertPendingChild(ctx context.Context, item *models.PendingChildSignal) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(item.Symbol, item.Timeframe)
	if prev, ok := s.pending[k]; ok {
		item.ID = prev.ID
	} else {
		item.ID = s.id()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	s.pending[k] = *item
	return nil
}

func (s *Store) ListPendingChildren(ctx context.Context, symbol string) ([]models.PendingChildSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.TrimSpace(symbol)
	var out []models.PendingChildSignal
	for _, p := range s.pending {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeletePendingChildren(ctx context.Context, symbol string, timeframes []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, tf := range timeframes {
		k := pairKey(symbol, strings.TrimSpace(tf))
		if _, ok := s.pending[k]; ok {
			delete(s.pending, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeletePendingBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, p := range s.pending {
		if p.CreatedAt.Before(before) {
			delete(s.pending, k)
			n++
		}
	}
	return n, nil
}
