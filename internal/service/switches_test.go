package service

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"mtfcascade/internal/models"
	memoryrepository "mtfcascade/internal/repository/memory"
	"mtfcascade/internal/timeframe"
)

func TestSwitches_DefaultsAndOverrides(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	store := memoryrepository.New()
	s := &SystemSettingsService{Repo: store, Clock: clock}

	if !s.IsGlobalOn(ctx) || !s.CanProcessSymbol(ctx, "BTCUSDT") || !s.CanProcessSymbolTimeframe(ctx, "BTCUSDT", timeframe.M1) {
		t.Fatalf("missing switches must default to on")
	}
	if err := s.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if sw, found, _ := s.GetSwitch(ctx, SwitchGlobal); !found || !sw.Enabled {
		t.Fatalf("global switch=%+v found=%v", sw, found)
	}

	if err := s.SetEnabled(ctx, SwitchKeySymbolTimeframe("btcusdt", timeframe.M1), false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if s.CanProcessSymbolTimeframe(ctx, "BTCUSDT", timeframe.M1) {
		t.Fatalf("timeframe switch ignored")
	}
	if !s.CanProcessSymbolTimeframe(ctx, "BTCUSDT", timeframe.M5) {
		t.Fatalf("other timeframe affected")
	}

	// Bare booleans are accepted too.
	if err := store.UpsertSystemSetting(ctx, &models.SystemSetting{Key: SwitchKeySymbol("ETHUSDT"), Value: datatypes.JSON(`false`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if s.CanProcessSymbol(ctx, "ETHUSDT") {
		t.Fatalf("bare false must disable")
	}
}

func TestSwitches_DisableSymbolForExpires(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	s := &SystemSettingsService{Repo: memoryrepository.New(), Clock: clock}

	if err := s.DisableSymbolFor(ctx, "BTCUSDT", time.Hour, "INSUFFICIENT_BARS_15M"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.CanProcessSymbol(ctx, "BTCUSDT") {
		t.Fatalf("symbol must be off")
	}
	clock.Add(time.Hour)
	if !s.CanProcessSymbol(ctx, "BTCUSDT") {
		t.Fatalf("symbol must turn back on after the window")
	}
}
