package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mtfcascade/internal/models"
	"mtfcascade/internal/timeframe"
)

func TestCascade_ReadyLongOn1m(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.warm(t, "BTCUSDT", timeframe.M15, timeframe.M5, timeframe.M1)

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{StartFrom: timeframe.M15})
	if res.Status != CascadeReady {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
	if res.SignalSide != models.SideLong || res.ExecutionTF != timeframe.M1 {
		t.Fatalf("side=%s execution_tf=%s", res.SignalSide, res.ExecutionTF)
	}
	if len(res.Steps) != 3 {
		t.Fatalf("steps=%d want 3", len(res.Steps))
	}
	if res.CurrentPrice == nil || !res.CurrentPrice.Equal(decimal.NewFromInt(399)) {
		t.Fatalf("current_price=%v want 399", res.CurrentPrice)
	}
	if res.ATR == nil || !res.ATR.Equal(decimal.NewFromFloat(12.5)) {
		t.Fatalf("atr=%v want 12.5", res.ATR)
	}
	want := timeframe.LastClosedCandle(timeframe.M1, baseNow)
	if res.KlineTime == nil || !res.KlineTime.Equal(want) {
		t.Fatalf("kline_time=%v want %s", res.KlineTime, want)
	}
	if h.eval.seen[timeframe.M1] != 2 {
		t.Fatalf("1m saw %d siblings want 2", h.eval.seen[timeframe.M1])
	}
}

func TestCascade_AlignmentMismatch(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.warm(t, "BTCUSDT", timeframe.M15, timeframe.M5, timeframe.M1)
	short := validLong()
	short.Side = models.SideShort
	h.eval.set(timeframe.M1, short)

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{StartFrom: timeframe.M15})
	if res.Status != CascadeInvalid {
		t.Fatalf("status=%s want INVALID", res.Status)
	}
	if res.FailedTimeframe != timeframe.M1 || res.Reason != "ALIGNMENT_1M_NE_5M" {
		t.Fatalf("failed=%s reason=%s", res.FailedTimeframe, res.Reason)
	}
	step, _ := res.Step(timeframe.M1)
	if step.Status != StepValid || step.Aligned {
		t.Fatalf("1m step status=%s aligned=%v", step.Status, step.Aligned)
	}
}

func TestCascade_WarmUpForcesGraceWindow(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	// 15m has never been observed.
	h.warm(t, "BTCUSDT", timeframe.H4, timeframe.H1, timeframe.M5, timeframe.M1)

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{})
	if res.Status != CascadeGraceWindow {
		t.Fatalf("status=%s want GRACE_WINDOW", res.Status)
	}
	for _, s := range res.Steps {
		if s.Status != StepValid {
			t.Fatalf("step %s status=%s", s.Timeframe, s.Status)
		}
		if s.WarmUp != (s.Timeframe == timeframe.M15) {
			t.Fatalf("step %s warm_up=%v", s.Timeframe, s.WarmUp)
		}
	}
	if res.ExecutionTF != "" {
		t.Fatalf("grace window must not pick an execution tf, got %s", res.ExecutionTF)
	}
}

func TestCascade_SecondRunReusesCache(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	ctx := context.Background()

	first := h.cascade.Run(ctx, "ETHUSDT", CascadeOptions{})
	if first.Status != CascadeGraceWindow {
		t.Fatalf("first status=%s want GRACE_WINDOW", first.Status)
	}
	h.clock.Add(10 * time.Second)
	second := h.cascade.Run(ctx, "ETHUSDT", CascadeOptions{})
	if second.Status != CascadeReady {
		t.Fatalf("second status=%s reason=%s", second.Status, second.Reason)
	}
	for _, s := range second.Steps {
		if !s.FromCache || s.WarmUp {
			t.Fatalf("step %s from_cache=%v warm_up=%v", s.Timeframe, s.FromCache, s.WarmUp)
		}
	}
	for _, tf := range timeframe.Ladder {
		if n := h.eval.callCount(tf); n != 1 {
			t.Fatalf("evaluator calls for %s = %d want 1", tf, n)
		}
	}
}

func TestCascade_DryRunLeavesCacheUntouched(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	res := h.cascade.Run(context.Background(), "ETHUSDT", CascadeOptions{StartFrom: timeframe.M5, Dry: true})
	if res.Status != CascadeGraceWindow {
		t.Fatalf("status=%s", res.Status)
	}
	if _, had, _ := h.cache.Get(context.Background(), "ETHUSDT", timeframe.M5); had {
		t.Fatalf("dry run wrote the cache")
	}
}

func TestCascade_StopsAtFirstInvalidRung(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.warm(t, "BTCUSDT", timeframe.Ladder...)
	h.eval.set(timeframe.H4, EvaluationResult{
		Status: EvaluationInvalid,
		Side:   models.SideNone,
		Long:   &SideCheck{Configured: true, Failed: []string{"rsi", "ema"}},
	})

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{})
	if res.Status != CascadeInvalid || res.FailedTimeframe != timeframe.H4 {
		t.Fatalf("status=%s failed=%s", res.Status, res.FailedTimeframe)
	}
	if res.Reason != "LONG_FAILED(rsi,ema)|SHORT_NOT_CONFIGURED" {
		t.Fatalf("reason=%q", res.Reason)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("steps=%d want 1", len(res.Steps))
	}
	if h.eval.callCount(timeframe.H1) != 0 {
		t.Fatalf("finer rungs must not be evaluated after a failure")
	}
}

func TestCascade_EvaluatorReasonWins(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.warm(t, "BTCUSDT", timeframe.M5)
	h.eval.set(timeframe.M5, EvaluationResult{Status: EvaluationValid, Side: models.SideNone, Reason: "FLAT_MARKET"})

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{Only: timeframe.M5})
	if res.Status != CascadeInvalid || res.Reason != "FLAT_MARKET" {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
}

func TestCascade_OnlyIsolatesOneRung(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.warm(t, "BTCUSDT", timeframe.M5)

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{Only: timeframe.M5})
	if res.Status != CascadeReady || res.ExecutionTF != timeframe.M5 {
		t.Fatalf("status=%s execution_tf=%s", res.Status, res.ExecutionTF)
	}
	if len(res.Included) != 1 || h.eval.callCount(timeframe.M15) != 0 {
		t.Fatalf("included=%v", res.Included)
	}
}

func TestCascade_UntilWithoutExecutionTimeframe(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.warm(t, "BTCUSDT", timeframe.H4, timeframe.H1)

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{Until: timeframe.H1})
	if res.Status != CascadeInvalid || res.Reason != ReasonNoExecutionTimeframe {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
	if res.FailedTimeframe != "" {
		t.Fatalf("failed_timeframe=%s want empty", res.FailedTimeframe)
	}
	if outcome, ok := RouteFor(res, timeframe.H1); !ok || outcome != RoutePassed {
		t.Fatalf("route=%s,%v want PASSED", outcome, ok)
	}
}

func TestCascade_GraceWindowGuard(t *testing.T) {
	now := time.Date(2026, 3, 9, 14, 31, 0, 0, time.UTC)
	h := newCascadeHarness(t, now)
	h.warm(t, "BTCUSDT", timeframe.M15, timeframe.M5, timeframe.M1)

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{StartFrom: timeframe.M15, Force: true})
	if res.Status != CascadeSkipped || res.Reason != ReasonInGraceWindow || res.FailedTimeframe != timeframe.M15 {
		t.Fatalf("status=%s reason=%s failed=%s", res.Status, res.Reason, res.FailedTimeframe)
	}
	if h.eval.callCount(timeframe.M15) != 0 {
		t.Fatalf("grace window must skip evaluation")
	}
}

func TestCascade_TooRecentUnlessForced(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.warm(t, "BTCUSDT", timeframe.M1)
	h.klines.forming = true

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{Only: timeframe.M1})
	if res.Status != CascadeSkipped || res.Reason != ReasonTooRecent {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
	res = h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{Only: timeframe.M1, Force: true})
	if res.Status == CascadeSkipped {
		t.Fatalf("force must bypass TOO_RECENT, got %s", res.Reason)
	}
}

func TestCascade_InsufficientBarsDisablesSymbol(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.klines.bars[timeframe.M15] = 50
	h.klines.afterBackfill[timeframe.M15] = 60

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{StartFrom: timeframe.M15})
	if res.Status != CascadeSkipped || res.Reason != ReasonInsufficientBars {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
	if n := h.klines.backfillCount(timeframe.M15); n != 1 {
		t.Fatalf("backfills=%d want 1", n)
	}
	sw, found, err := h.switches.GetSwitch(context.Background(), SwitchKeySymbol("BTCUSDT"))
	if err != nil || !found {
		t.Fatalf("switch found=%v err=%v", found, err)
	}
	// 140 missing 15m bars is 35h, clamped to a day.
	if sw.DisabledUntil == nil || !sw.DisabledUntil.Equal(baseNow.Add(24*time.Hour)) {
		t.Fatalf("disabled_until=%v", sw.DisabledUntil)
	}
	res = h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{StartFrom: timeframe.M15})
	if res.Reason != ReasonSymbolDisabled {
		t.Fatalf("reason=%s want SYMBOL_DISABLED", res.Reason)
	}
}

func TestCascade_BackfillRecoversShortWindow(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	h.warm(t, "BTCUSDT", timeframe.M5)
	h.klines.bars[timeframe.M5] = 10
	h.klines.afterBackfill[timeframe.M5] = 300

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{Only: timeframe.M5})
	if res.Status != CascadeReady {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
}

func TestCascade_SwitchesAndProviderErrors(t *testing.T) {
	ctx := context.Background()

	h := newCascadeHarness(t, baseNow)
	if err := h.switches.SetEnabled(ctx, SwitchGlobal, false); err != nil {
		t.Fatalf("set global: %v", err)
	}
	if res := h.cascade.Run(ctx, "BTCUSDT", CascadeOptions{}); res.Reason != ReasonGlobalDisabled {
		t.Fatalf("reason=%s want GLOBAL_DISABLED", res.Reason)
	}

	h = newCascadeHarness(t, baseNow)
	if err := h.switches.SetEnabled(ctx, SwitchKeySymbolTimeframe("BTCUSDT", timeframe.H1), false); err != nil {
		t.Fatalf("set tf switch: %v", err)
	}
	res := h.cascade.Run(ctx, "BTCUSDT", CascadeOptions{})
	if res.Reason != ReasonTimeframeDisabled || res.FailedTimeframe != timeframe.H1 {
		t.Fatalf("reason=%s failed=%s", res.Reason, res.FailedTimeframe)
	}

	h = newCascadeHarness(t, baseNow)
	h.klines.err = errProvider
	if res := h.cascade.Run(ctx, "BTCUSDT", CascadeOptions{}); res.Status != CascadeSkipped || res.Reason != ReasonDataProviderError {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}

	h = newCascadeHarness(t, baseNow)
	h.eval.errs[timeframe.H4] = context.DeadlineExceeded
	if res := h.cascade.Run(ctx, "BTCUSDT", CascadeOptions{}); res.Status != CascadeSkipped || res.Reason != ReasonEvaluatorError {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
}

func TestCascade_UnknownStart(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{StartFrom: "2h"})
	if res.Status != CascadeError || res.Reason != ReasonUnknownTimeframe {
		t.Fatalf("status=%s reason=%s", res.Status, res.Reason)
	}
}

func TestInsufficientDataDisable(t *testing.T) {
	tests := []struct {
		tf      timeframe.Timeframe
		missing int
		want    time.Duration
	}{
		{timeframe.M1, 0, time.Minute},
		{timeframe.M1, 30, 30 * time.Minute},
		{timeframe.H4, 100, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := insufficientDataDisable(tt.tf, tt.missing); got != tt.want {
			t.Fatalf("insufficientDataDisable(%s,%d)=%s want %s", tt.tf, tt.missing, got, tt.want)
		}
	}
}

func TestDecimalFromContext(t *testing.T) {
	ctx := map[string]any{"a": 1.5, "b": "2.25", "c": nil, "d": true}
	if v, ok := decimalFromContext(ctx, "a"); !ok || !v.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("a=%v,%v", v, ok)
	}
	if v, ok := decimalFromContext(ctx, "b"); !ok || v.String() != "2.25" {
		t.Fatalf("b=%v,%v", v, ok)
	}
	if _, ok := decimalFromContext(ctx, "c"); ok {
		t.Fatalf("nil must not parse")
	}
	if _, ok := decimalFromContext(ctx, "d"); ok {
		t.Fatalf("bool must not parse")
	}
}

func TestCascade_ChainMonotonicity(t *testing.T) {
	tests := []struct {
		flip       timeframe.Timeframe
		wantFailed timeframe.Timeframe
		wantReason string
	}{
		{"", "", ""},
		{timeframe.H4, timeframe.H1, "ALIGNMENT_1H_NE_4H"},
		{timeframe.H1, timeframe.H1, "ALIGNMENT_1H_NE_4H"},
		{timeframe.M15, timeframe.M15, "ALIGNMENT_15M_NE_1H"},
	}
	for _, tt := range tests {
		h := newCascadeHarness(t, baseNow)
		h.warm(t, "ETHUSDT", timeframe.H4, timeframe.H1, timeframe.M15)
		if tt.flip != "" {
			short := validLong()
			short.Side = models.SideShort
			h.eval.set(tt.flip, short)
		}

		res := h.cascade.Run(context.Background(), "ETHUSDT", CascadeOptions{StartFrom: timeframe.H4, Until: timeframe.M15})
		if tt.flip == "" {
			if res.Status != CascadeReady || res.SignalSide != models.SideLong || res.ExecutionTF != timeframe.M15 {
				t.Fatalf("all long: status=%s side=%s execution_tf=%s", res.Status, res.SignalSide, res.ExecutionTF)
			}
			continue
		}
		if res.Status != CascadeInvalid {
			t.Fatalf("flip %s: status=%s want INVALID", tt.flip, res.Status)
		}
		if res.FailedTimeframe != tt.wantFailed || res.Reason != tt.wantReason {
			t.Fatalf("flip %s: failed=%s reason=%s", tt.flip, res.FailedTimeframe, res.Reason)
		}
	}
}

func TestCascade_WarmUpOverridesInvalidChain(t *testing.T) {
	h := newCascadeHarness(t, baseNow)
	// 4h has never been observed; 1h disagrees with it.
	h.warm(t, "BTCUSDT", timeframe.H1)
	short := validLong()
	short.Side = models.SideShort
	h.eval.set(timeframe.H1, short)

	res := h.cascade.Run(context.Background(), "BTCUSDT", CascadeOptions{StartFrom: timeframe.H4, Until: timeframe.H1})
	if res.Status != CascadeGraceWindow || res.Reason != ReasonCacheWarmUp {
		t.Fatalf("status=%s reason=%s want GRACE_WINDOW", res.Status, res.Reason)
	}
	if res.FailedTimeframe != timeframe.H1 {
		t.Fatalf("failed_timeframe=%s want 1h", res.FailedTimeframe)
	}
	step, _ := res.Step(timeframe.H1)
	if step.Reason != "ALIGNMENT_1H_NE_4H" {
		t.Fatalf("1h step reason=%s", step.Reason)
	}
	if outcome, ok := RouteFor(res, timeframe.H1); !ok || outcome != RouteNeutral {
		t.Fatalf("route=%s,%v want NEUTRAL", outcome, ok)
	}
}
