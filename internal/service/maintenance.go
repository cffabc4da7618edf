package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

// Maintenance prunes rows that only grow: processed event ids and parked children whose
// parent never caught up.
type Maintenance struct {
	Dedup     *EventDedupGuard
	Snapshots repository.SnapshotRepository
	Clock     timeframe.Clock
	Logger    *zap.Logger

	DedupRetention   time.Duration
	PendingRetention time.Duration
}

func (m *Maintenance) PruneDedup(ctx context.Context) (int64, error) {
	if m == nil || m.Dedup == nil || m.DedupRetention <= 0 {
		return 0, nil
	}
	n, err := m.Dedup.Prune(ctx, m.DedupRetention)
	if err != nil {
		return 0, err
	}
	if m.Logger != nil {
		m.Logger.Info("event dedup pruned", zap.Int64("rows", n), zap.Duration("retention", m.DedupRetention))
	}
	return n, nil
}

func (m *Maintenance) SweepPending(ctx context.Context) (int64, error) {
	if m == nil || m.Snapshots == nil || m.PendingRetention <= 0 {
		return 0, nil
	}
	n, err := m.Snapshots.DeletePendingBefore(ctx, clockNow(m.Clock).Add(-m.PendingRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 && m.Logger != nil {
		m.Logger.Info("stale pending children swept", zap.Int64("rows", n))
	}
	return n, nil
}
