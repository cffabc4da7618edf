package service

import (
	"context"
	"strings"
	"testing"
	"time"

	memoryrepository "mtfcascade/internal/repository/memory"
	"mtfcascade/internal/timeframe"
)

func evaluatedStep(tf timeframe.Timeframe, now time.Time, side string) CascadeStep {
	kline := timeframe.LastClosedCandle(tf, now)
	return CascadeStep{
		Timeframe: tf,
		Status:    StepValid,
		Side:      side,
		Aligned:   true,
		KlineTime: &kline,
		SlotStart: timeframe.CurrentSlot(tf, now),
	}
}

func TestRecorder_WritesSnapshotForTimeframe(t *testing.T) {
	ctx := context.Background()
	store := memoryrepository.New()
	rec := &SnapshotRecorder{Repo: store}
	res := CascadeResult{
		Symbol:      "BTCUSDT",
		Status:      CascadeInvalid,
		Reason:      ReasonNoExecutionTimeframe,
		Included:    []timeframe.Timeframe{timeframe.H4, timeframe.H1},
		Steps:       []CascadeStep{evaluatedStep(timeframe.H4, baseNow, "LONG"), evaluatedStep(timeframe.H1, baseNow, "LONG")},
		EvaluatedAt: baseNow,
	}
	out, err := rec.Record(ctx, res, timeframe.H1)
	if err != nil || out != RecordWritten {
		t.Fatalf("outcome=%s err=%v", out, err)
	}
	snap, err := store.GetLatestSnapshot(ctx, "BTCUSDT", "1h")
	if err != nil || snap == nil {
		t.Fatalf("snapshot=%v err=%v", snap, err)
	}
	if !snap.Passed || snap.Side != "LONG" || !snap.SlotStart.Equal(timeframe.CurrentSlot(timeframe.H1, baseNow)) {
		t.Fatalf("snapshot=%+v", snap)
	}
	if other, _ := store.GetLatestSnapshot(ctx, "BTCUSDT", "4h"); other != nil {
		t.Fatalf("only the cycle timeframe is recorded, got 4h %+v", other)
	}
}

func TestRecorder_SkippedIsNotRecorded(t *testing.T) {
	store := memoryrepository.New()
	rec := &SnapshotRecorder{Repo: store}
	out, err := rec.Record(context.Background(), CascadeResult{Symbol: "BTCUSDT", Status: CascadeSkipped, EvaluatedAt: baseNow}, timeframe.M5)
	if err != nil || out != RecordNone {
		t.Fatalf("outcome=%s err=%v", out, err)
	}
}

func TestRecorder_StaleParentDefersThenClears(t *testing.T) {
	ctx := context.Background()
	store := memoryrepository.New()
	rec := &SnapshotRecorder{Repo: store}

	// 15m is in the chain but carries no step here, and has no snapshot for the current slot.
	child := CascadeResult{
		Symbol:      "BTCUSDT",
		Status:      CascadeReady,
		Included:    []timeframe.Timeframe{timeframe.M15, timeframe.M5},
		Steps:       []CascadeStep{evaluatedStep(timeframe.M5, baseNow, "LONG")},
		EvaluatedAt: baseNow,
	}
	out, err := rec.Record(ctx, child, timeframe.M5)
	if err != nil || out != RecordDeferred {
		t.Fatalf("outcome=%s err=%v want deferred", out, err)
	}
	pending, _ := store.ListPendingChildren(ctx, "BTCUSDT")
	if len(pending) != 1 || pending[0].Timeframe != "5m" {
		t.Fatalf("pending=%+v", pending)
	}
	if snap, _ := store.GetLatestSnapshot(ctx, "BTCUSDT", "5m"); snap != nil {
		t.Fatalf("deferred child must not be scored")
	}

	parent := CascadeResult{
		Symbol:      "BTCUSDT",
		Status:      CascadeReady,
		Included:    []timeframe.Timeframe{timeframe.M15},
		Steps:       []CascadeStep{evaluatedStep(timeframe.M15, baseNow, "LONG")},
		EvaluatedAt: baseNow,
	}
	if out, err := rec.Record(ctx, parent, timeframe.M15); err != nil || out != RecordWritten {
		t.Fatalf("parent outcome=%s err=%v", out, err)
	}
	if pending, _ = store.ListPendingChildren(ctx, "BTCUSDT"); len(pending) != 0 {
		t.Fatalf("parent catch-up must clear pending children: %+v", pending)
	}
	if out, err := rec.Record(ctx, child, timeframe.M5); err != nil || out != RecordWritten {
		t.Fatalf("child outcome=%s err=%v", out, err)
	}
}

func TestRecorder_ParentOutsideChainIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := memoryrepository.New()
	rec := &SnapshotRecorder{Repo: store}

	// A cascade rooted at 15m never evaluates 1h, so no 1h snapshot exists.
	res := CascadeResult{
		Symbol:      "BTCUSDT",
		Status:      CascadeReady,
		Included:    []timeframe.Timeframe{timeframe.M15},
		Steps:       []CascadeStep{evaluatedStep(timeframe.M15, baseNow, "LONG")},
		EvaluatedAt: baseNow,
	}
	if out, err := rec.Record(ctx, res, timeframe.M15); err != nil || out != RecordWritten {
		t.Fatalf("outcome=%s err=%v want written", out, err)
	}
	if pending, _ := store.ListPendingChildren(ctx, "BTCUSDT"); len(pending) != 0 {
		t.Fatalf("pending=%+v want none", pending)
	}
}

func TestRecorder_ForcedStaleParentInChainDefers(t *testing.T) {
	ctx := context.Background()
	store := memoryrepository.New()
	rec := &SnapshotRecorder{Repo: store}
	parentStep := evaluatedStep(timeframe.M15, baseNow, "LONG")
	stale := parentStep.KlineTime.Add(-15 * time.Minute)
	parentStep.KlineTime = &stale

	res := CascadeResult{
		Symbol:      "BTCUSDT",
		Status:      CascadeReady,
		Included:    []timeframe.Timeframe{timeframe.M15, timeframe.M5},
		Steps:       []CascadeStep{parentStep, evaluatedStep(timeframe.M5, baseNow, "LONG")},
		EvaluatedAt: baseNow,
	}
	if out, err := rec.Record(ctx, res, timeframe.M5); err != nil || out != RecordDeferred {
		t.Fatalf("outcome=%s err=%v want deferred", out, err)
	}
	res.Steps[0] = evaluatedStep(timeframe.M15, baseNow, "LONG")
	if out, err := rec.Record(ctx, res, timeframe.M5); err != nil || out != RecordWritten {
		t.Fatalf("outcome=%s err=%v want written", out, err)
	}
}

func TestRecorder_LatestWins(t *testing.T) {
	ctx := context.Background()
	store := memoryrepository.New()
	rec := &SnapshotRecorder{Repo: store}
	newer := CascadeResult{Symbol: "BTCUSDT", Status: CascadeInvalid, FailedTimeframe: timeframe.H4, Reason: "NEWER", EvaluatedAt: baseNow.Add(time.Minute)}
	older := CascadeResult{Symbol: "BTCUSDT", Status: CascadeInvalid, FailedTimeframe: timeframe.H4, Reason: "OLDER", EvaluatedAt: baseNow}
	if _, err := rec.Record(ctx, newer, timeframe.H4); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := rec.Record(ctx, older, timeframe.H4); err != nil {
		t.Fatalf("record: %v", err)
	}
	snap, _ := store.GetLatestSnapshot(ctx, "BTCUSDT", "4h")
	if snap == nil || !snap.AtUTC.Equal(baseNow.Add(time.Minute)) {
		t.Fatalf("snapshot=%+v", snap)
	}
	if got := string(snap.Meta); !strings.Contains(got, "NEWER") {
		t.Fatalf("older write replaced newer meta: %s", got)
	}
}
