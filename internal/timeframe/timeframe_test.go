package timeframe

import (
	"errors"
	"testing"
	"time"
)

func TestCurrentSlot(t *testing.T) {
	now := time.Date(2026, 3, 9, 14, 37, 42, 0, time.UTC)
	tests := []struct {
		tf   Timeframe
		want time.Time
	}{
		{H4, time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)},
		{H1, time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)},
		{M15, time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)},
		{M5, time.Date(2026, 3, 9, 14, 35, 0, 0, time.UTC)},
		{M1, time.Date(2026, 3, 9, 14, 37, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := CurrentSlot(tt.tf, now); !got.Equal(tt.want) {
			t.Fatalf("CurrentSlot(%s) = %s, want %s", tt.tf, got, tt.want)
		}
	}
}

func TestCurrentSlot_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	now := time.Date(2026, 3, 9, 1, 10, 0, 0, loc) // 22:10 UTC previous day
	got := CurrentSlot(H4, now)
	want := time.Date(2026, 3, 8, 20, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("CurrentSlot(4h) = %s, want %s", got, want)
	}
}

func TestNextCloseAndLastClosedCandle(t *testing.T) {
	now := time.Date(2026, 3, 9, 23, 59, 30, 0, time.UTC)
	if got, want := NextClose(H4, now), time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextClose(4h) = %s, want %s", got, want)
	}
	if got, want := LastClosedCandle(M15, now), time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("LastClosedCandle(15m) = %s, want %s", got, want)
	}
}

func TestRelations(t *testing.T) {
	parents := map[Timeframe]Timeframe{M1: M15, M5: M15, M15: H1, H1: H4}
	for tf, want := range parents {
		got, ok := ParentOf(tf)
		if !ok || got != want {
			t.Fatalf("ParentOf(%s) = %s,%v want %s", tf, got, ok, want)
		}
	}
	if _, ok := ParentOf(H4); ok {
		t.Fatalf("4h must not have a parent")
	}
	if got, _ := ChildOf(M5); got != M1 {
		t.Fatalf("ChildOf(5m) = %s want 1m", got)
	}
	if _, ok := ChildOf(M1); ok {
		t.Fatalf("1m must not have a child")
	}
	if got, _ := Above(M1); got != M5 {
		t.Fatalf("Above(1m) = %s want 5m", got)
	}
}

func TestIncluded(t *testing.T) {
	got := Included(M15)
	if len(got) != 3 || got[0] != M15 || got[1] != M5 || got[2] != M1 {
		t.Fatalf("Included(15m) = %v", got)
	}
	if Included("2h") != nil {
		t.Fatalf("unknown start must include nothing")
	}
}

func TestParse(t *testing.T) {
	if tf, err := Parse(" 15M "); err != nil || tf != M15 {
		t.Fatalf("Parse = %s, %v", tf, err)
	}
	if _, err := Parse("2h"); !errors.Is(err, ErrUnknownTimeframe) {
		t.Fatalf("err=%v want ErrUnknownTimeframe", err)
	}
}

func TestDefaultPolicy(t *testing.T) {
	cases := map[Timeframe]int{H1: 3, M15: 3, M5: 2, M1: 4}
	for tf, want := range cases {
		if got := DefaultPolicy(tf).MaxAttempts; got != want {
			t.Fatalf("MaxAttempts(%s) = %d want %d", tf, got, want)
		}
	}
	if DefaultPolicy(M15).GraceWindow != 2*time.Minute || DefaultPolicy(M1).GraceWindow != 0 {
		t.Fatalf("unexpected grace windows")
	}
}

func TestPolicyNormalize_RejectsFinerAscendTarget(t *testing.T) {
	p := Policy{Timeframe: M15, MaxAttempts: 2, AscendTarget: M1}.Normalize()
	if p.AscendTarget != H1 {
		t.Fatalf("ascend target = %s want 1h", p.AscendTarget)
	}
	if p.MinBars != 200 || p.CandleLimit != 300 {
		t.Fatalf("min_bars=%d candle_limit=%d", p.MinBars, p.CandleLimit)
	}
}
