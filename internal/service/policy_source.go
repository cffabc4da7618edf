package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"mtfcascade/internal/config"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

// SettingPolicyOverrides holds a JSON object keyed by timeframe, e.g.
// {"15m":{"max_attempts":5,"grace_window":"90s"}}.
const SettingPolicyOverrides = "policy.timeframes"

type PolicyLoader interface {
	Load(ctx context.Context) timeframe.Policies
}

// PolicySource merges built-in defaults < config < system_settings overrides.
type PolicySource struct {
	Config   map[string]config.TimeframeConfig
	Settings repository.SystemSettingsRepository
	Logger   *zap.Logger
}

// StaticPolicies always returns the same set.
type StaticPolicies timeframe.Policies

func (p StaticPolicies) Load(context.Context) timeframe.Policies {
	if p == nil {
		return timeframe.DefaultPolicies()
	}
	return timeframe.Policies(p)
}

type policyOverride struct {
	MaxAttempts           *int    `json:"max_attempts"`
	AscendTarget          *string `json:"ascend_target"`
	GraceWindow           *string `json:"grace_window"`
	MinBars               *int    `json:"min_bars"`
	CandleLimit           *int    `json:"candle_limit"`
	BackfillBars          *int    `json:"backfill_bars"`
	OrderCancelCooldown   *string `json:"order_cancel_cooldown"`
	PositionCloseCooldown *string `json:"position_close_cooldown"`
	EvaluatorTimeout      *string `json:"evaluator_timeout"`
}

func (s *PolicySource) Load(ctx context.Context) timeframe.Policies {
	out := timeframe.DefaultPolicies()
	if s == nil {
		return out
	}
	for raw, tc := range s.Config {
		tf, err := timeframe.Parse(raw)
		if err != nil {
			s.warn("ignoring timeframe config", raw, err)
			continue
		}
		out[tf] = applyConfig(out[tf], tc)
	}
	for tf, ov := range s.loadOverrides(ctx) {
		p, err := applyOverride(out[tf], ov)
		if err != nil {
			s.warn("ignoring policy override", tf.String(), err)
			continue
		}
		out[tf] = p
	}
	for tf, p := range out {
		out[tf] = p.Normalize()
	}
	return out
}

func (s *PolicySource) loadOverrides(ctx context.Context) map[timeframe.Timeframe]policyOverride {
	if s.Settings == nil {
		return nil
	}
	item, err := s.Settings.GetSystemSettingByKey(ctx, SettingPolicyOverrides)
	if err != nil {
		s.warn("read policy overrides failed", SettingPolicyOverrides, err)
		return nil
	}
	if item == nil || len(item.Value) == 0 {
		return nil
	}
	var raw map[string]policyOverride
	if err := json.Unmarshal(item.Value, &raw); err != nil {
		s.warn("decode policy overrides failed", SettingPolicyOverrides, err)
		return nil
	}
	out := make(map[timeframe.Timeframe]policyOverride, len(raw))
	for k, v := range raw {
		tf, err := timeframe.Parse(k)
		if err != nil {
			s.warn("ignoring policy override", k, err)
			continue
		}
		out[tf] = v
	}
	return out
}

func (s *PolicySource) warn(msg, key string, err error) {
	if s.Logger != nil {
		s.Logger.Warn(msg, zap.String("key", key), zap.Error(err))
	}
}

func applyConfig(p timeframe.Policy, c config.TimeframeConfig) timeframe.Policy {
	if c.MaxAttempts != nil {
		p.MaxAttempts = *c.MaxAttempts
	}
	if tf, err := timeframe.Parse(c.AscendTarget); err == nil {
		p.AscendTarget = tf
	}
	if c.GraceWindow != nil {
		p.GraceWindow = *c.GraceWindow
	}
	if c.MinBars > 0 {
		p.MinBars = c.MinBars
	}
	if c.CandleLimit > 0 {
		p.CandleLimit = c.CandleLimit
	}
	if c.BackfillBars > 0 {
		p.BackfillBars = c.BackfillBars
	}
	if c.OrderCancelCooldown > 0 {
		p.OrderCancelCooldown = c.OrderCancelCooldown
	}
	if c.PositionCloseCooldown > 0 {
		p.PositionCloseCooldown = c.PositionCloseCooldown
	}
	if c.EvaluatorTimeout > 0 {
		p.EvaluatorTimeout = c.EvaluatorTimeout
	}
	return p
}

// applyOverride is all-or-nothing: one bad field rejects the whole timeframe entry.
func applyOverride(p timeframe.Policy, o policyOverride) (timeframe.Policy, error) {
	if o.MaxAttempts != nil {
		p.MaxAttempts = *o.MaxAttempts
	}
	if o.AscendTarget != nil {
		if strings.TrimSpace(*o.AscendTarget) == "" {
			p.AscendTarget = ""
		} else {
			tf, err := timeframe.Parse(*o.AscendTarget)
			if err != nil {
				return p, err
			}
			p.AscendTarget = tf
		}
	}
	durations := []struct {
		raw *string
		dst *time.Duration
	}{
		{o.GraceWindow, &p.GraceWindow},
		{o.OrderCancelCooldown, &p.OrderCancelCooldown},
		{o.PositionCloseCooldown, &p.PositionCloseCooldown},
		{o.EvaluatorTimeout, &p.EvaluatorTimeout},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(*d.raw))
		if err != nil {
			return p, err
		}
		*d.dst = v
	}
	if o.MinBars != nil {
		p.MinBars = *o.MinBars
	}
	if o.CandleLimit != nil {
		p.CandleLimit = *o.CandleLimit
	}
	if o.BackfillBars != nil {
		p.BackfillBars = *o.BackfillBars
	}
	return p, nil
}
