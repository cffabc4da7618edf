package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

const (
	SwitchGlobal       = "switch.global"
	switchSymbolPrefix = "switch.symbol."
)

// SwitchKeySymbol is the kill switch of one symbol across all timeframes.
func SwitchKeySymbol(symbol string) string {
	return switchSymbolPrefix + strings.ToUpper(strings.TrimSpace(symbol))
}

// SwitchKeySymbolTimeframe is the kill switch of one (symbol, timeframe).
func SwitchKeySymbolTimeframe(symbol string, tf timeframe.Timeframe) string {
	return SwitchKeySymbol(symbol) + "." + tf.String()
}

// SwitchStore answers the kill-switch questions asked by the cascade guards.
type SwitchStore interface {
	IsGlobalOn(ctx context.Context) bool
	CanProcessSymbol(ctx context.Context, symbol string) bool
	CanProcessSymbolTimeframe(ctx context.Context, symbol string, tf timeframe.Timeframe) bool
	DisableSymbolFor(ctx context.Context, symbol string, d time.Duration, reason string) error
}

// Switch is the stored value of a kill switch. A switch with DisabledUntil in the future is
// off even when Enabled is true.
type Switch struct {
	Enabled       bool       `json:"enabled"`
	DisabledUntil *time.Time `json:"disabled_until,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

func (s Switch) On(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return s.DisabledUntil == nil || !now.Before(*s.DisabledUntil)
}

type SystemSettingsService struct {
	Repo   repository.SystemSettingsRepository
	Clock  timeframe.Clock
	Logger *zap.Logger
}

var _ SwitchStore = (*SystemSettingsService)(nil)

func (s *SystemSettingsService) now() time.Time {
	if s == nil || s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	existing, err := s.Repo.GetSystemSettingByKey(ctx, SwitchGlobal)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.SetSwitch(ctx, SwitchGlobal, Switch{Enabled: true})
}

// GetSwitch reads a switch; both {"enabled":..} objects and bare booleans are accepted.
func (s *SystemSettingsService) GetSwitch(ctx context.Context, key string) (Switch, bool, error) {
	if s == nil || s.Repo == nil {
		return Switch{}, false, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Switch{}, false, nil
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return Switch{}, false, err
	}
	var sw Switch
	if err := json.Unmarshal(item.Value, &sw); err == nil {
		return sw, true, nil
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return Switch{}, false, err
	}
	return Switch{Enabled: enabled}, true, nil
}

func (s *SystemSettingsService) SetSwitch(ctx context.Context, key string, sw Switch) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(sw)
	if err != nil {
		return err
	}
	now := s.now()
	return s.Repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "kill switch",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	sw, found, err := s.GetSwitch(ctx, key)
	if err != nil {
		if s != nil && s.Logger != nil {
			s.Logger.Warn("read switch failed", zap.String("key", key), zap.Error(err))
		}
		return fallback
	}
	if !found {
		return fallback
	}
	return sw.On(s.now())
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	return s.SetSwitch(ctx, key, Switch{Enabled: enabled})
}

func (s *SystemSettingsService) IsGlobalOn(ctx context.Context) bool {
	return s.IsEnabled(ctx, SwitchGlobal, true)
}

func (s *SystemSettingsService) CanProcessSymbol(ctx context.Context, symbol string) bool {
	return s.IsEnabled(ctx, SwitchKeySymbol(symbol), true)
}

func (s *SystemSettingsService) CanProcessSymbolTimeframe(ctx context.Context, symbol string, tf timeframe.Timeframe) bool {
	return s.IsEnabled(ctx, SwitchKeySymbolTimeframe(symbol, tf), true)
}

// DisableSymbolFor turns the symbol off until now+d; it turns back on by itself afterwards.
func (s *SystemSettingsService) DisableSymbolFor(ctx context.Context, symbol string, d time.Duration, reason string) error {
	return s.DisableFor(ctx, SwitchKeySymbol(symbol), d, reason)
}

// DisableFor is DisableSymbolFor for any switch key.
func (s *SystemSettingsService) DisableFor(ctx context.Context, key string, d time.Duration, reason string) error {
	if d <= 0 {
		return nil
	}
	until := s.now().Add(d)
	if s != nil && s.Logger != nil {
		s.Logger.Info("switch disabled",
			zap.String("key", key),
			zap.Duration("for", d),
			zap.Time("until", until),
			zap.String("reason", reason),
		)
	}
	return s.SetSwitch(ctx, key, Switch{Enabled: true, DisabledUntil: &until, Reason: reason})
}
