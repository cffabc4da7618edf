package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

type RecordOutcome string

const (
	RecordWritten  RecordOutcome = "written"
	RecordDeferred RecordOutcome = "deferred"
	RecordNone     RecordOutcome = "none"
)

// SnapshotRecorder persists the verdict of one timeframe. A verdict that depends on a parent
// whose context is not from the parent's current slot is parked as a pending child instead.
type SnapshotRecorder struct {
	Repo   repository.SnapshotRepository
	Logger *zap.Logger
}

type snapshotMeta struct {
	Status          string              `json:"status"`
	Reason          string              `json:"reason,omitempty"`
	FailedTimeframe timeframe.Timeframe `json:"failed_timeframe,omitempty"`
	ExecutionTF     timeframe.Timeframe `json:"execution_tf,omitempty"`
	FromCache       bool                `json:"from_cache"`
	WarmUp          bool                `json:"warm_up"`
	KlineTime       *time.Time          `json:"kline_time,omitempty"`
}

// Record writes the snapshot of tf for res. SKIPPED and ERROR results are not recorded.
func (r *SnapshotRecorder) Record(ctx context.Context, res CascadeResult, tf timeframe.Timeframe) (RecordOutcome, error) {
	if r == nil || r.Repo == nil {
		return RecordNone, nil
	}
	if res.Status == CascadeSkipped || res.Status == CascadeError {
		return RecordNone, nil
	}
	now := res.EvaluatedAt
	slot := timeframe.CurrentSlot(tf, now)
	step, evaluated := res.Step(tf)

	if evaluated {
		fresh, err := r.parentFresh(ctx, res, tf)
		if err != nil {
			return RecordNone, err
		}
		if !fresh {
			return RecordDeferred, r.park(ctx, res, tf, slot)
		}
	}

	meta := snapshotMeta{
		Status:          res.Status,
		Reason:          res.Reason,
		FailedTimeframe: res.FailedTimeframe,
		ExecutionTF:     res.ExecutionTF,
	}
	snap := &models.SignalSnapshot{
		Symbol:    res.Symbol,
		Timeframe: tf.String(),
		SlotStart: slot,
		Side:      models.SideNone,
		AtUTC:     now,
	}
	if evaluated {
		snap.Side = step.Side
		snap.Passed = step.Passed()
		snap.Score = step.Score
		meta.FromCache = step.FromCache
		meta.WarmUp = step.WarmUp
		meta.KlineTime = step.KlineTime
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return RecordNone, err
	}
	snap.Meta = datatypes.JSON(raw)
	if err := r.Repo.UpsertSnapshot(ctx, snap); err != nil {
		return RecordNone, fmt.Errorf("upsert snapshot %s/%s: %w", res.Symbol, tf, err)
	}

	// The rung itself and every child waiting on it are now unblocked.
	unblocked := append([]string{tf.String()}, timeframeStrings(childrenOf(tf))...)
	if n, err := r.Repo.DeletePendingChildren(ctx, res.Symbol, unblocked); err != nil {
		return RecordWritten, fmt.Errorf("clear pending %s/%s: %w", res.Symbol, tf, err)
	} else if n > 0 && r.Logger != nil {
		r.Logger.Debug("pending children cleared",
			zap.String("symbol", res.Symbol),
			zap.String("parent", tf.String()),
			zap.Int64("rows", n),
		)
	}
	return RecordWritten, nil
}

// parentFresh accepts a parent evaluated in this cascade on its last closed candle, and
// otherwise falls back to the parent's stored latest snapshot. A parent outside the
// included chain is never consulted.
func (r *SnapshotRecorder) parentFresh(ctx context.Context, res CascadeResult, tf timeframe.Timeframe) (bool, error) {
	parent, ok := timeframe.ParentOf(tf)
	if !ok || !timeframe.Contains(res.Included, parent) {
		return true, nil
	}
	now := res.EvaluatedAt
	if step, ok := res.Step(parent); ok && step.KlineTime != nil {
		return step.KlineTime.Equal(timeframe.LastClosedCandle(parent, now)), nil
	}
	latest, err := r.Repo.GetLatestSnapshot(ctx, res.Symbol, parent.String())
	if err != nil {
		return false, fmt.Errorf("load parent snapshot %s/%s: %w", res.Symbol, parent, err)
	}
	return latest != nil && !latest.SlotStart.Before(timeframe.CurrentSlot(parent, now)), nil
}

func (r *SnapshotRecorder) park(ctx context.Context, res CascadeResult, tf timeframe.Timeframe, slot time.Time) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := r.Repo.UpsertPendingChild(ctx, &models.PendingChildSignal{
		Symbol:    res.Symbol,
		Timeframe: tf.String(),
		SlotStart: slot,
		Payload:   datatypes.JSON(raw),
		CreatedAt: res.EvaluatedAt,
	}); err != nil {
		return fmt.Errorf("park pending %s/%s: %w", res.Symbol, tf, err)
	}
	if r.Logger != nil {
		r.Logger.Info("snapshot deferred on stale parent",
			zap.String("symbol", res.Symbol),
			zap.String("timeframe", tf.String()),
			zap.Time("slot_start", slot),
		)
	}
	return nil
}

// childrenOf lists the rungs whose routing parent is tf.
func childrenOf(tf timeframe.Timeframe) []timeframe.Timeframe {
	var out []timeframe.Timeframe
	for _, c := range timeframe.Ladder {
		if p, ok := timeframe.ParentOf(c); ok && p == tf {
			out = append(out, c)
		}
	}
	return out
}
