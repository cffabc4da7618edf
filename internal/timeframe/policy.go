package timeframe

import "time"

// Policy holds every per-timeframe tunable in one place.
type Policy struct {
	Timeframe Timeframe `json:"timeframe"`

	// MaxAttempts is the number of consecutive failures before ascending; 0 never ascends.
	MaxAttempts  int       `json:"max_attempts"`
	AscendTarget Timeframe `json:"ascend_target,omitempty"`

	GraceWindow time.Duration `json:"grace_window"`

	MinBars      int `json:"min_bars"`
	CandleLimit  int `json:"candle_limit"`
	BackfillBars int `json:"backfill_bars"`

	OrderCancelCooldown   time.Duration `json:"order_cancel_cooldown"`
	PositionCloseCooldown time.Duration `json:"position_close_cooldown"`
	EvaluatorTimeout      time.Duration `json:"evaluator_timeout"`
}

// Policies is keyed by timeframe; lookups of missing entries fall back to defaults.
type Policies map[Timeframe]Policy

func (p Policies) For(tf Timeframe) Policy {
	if pol, ok := p[tf]; ok {
		return pol
	}
	return DefaultPolicy(tf)
}

func DefaultPolicies() Policies {
	out := make(Policies, len(Ladder))
	for _, tf := range Ladder {
		out[tf] = DefaultPolicy(tf)
	}
	return out
}

func DefaultPolicy(tf Timeframe) Policy {
	p := Policy{
		Timeframe:             tf,
		MinBars:               200,
		CandleLimit:           300,
		BackfillBars:          500,
		OrderCancelCooldown:   5 * time.Minute,
		PositionCloseCooldown: 10 * time.Minute,
		EvaluatorTimeout:      10 * time.Second,
	}
	switch tf {
	case H4:
		p.GraceWindow = 4 * time.Minute
	case H1:
		p.MaxAttempts = 3
		p.AscendTarget = H4
		p.GraceWindow = 4 * time.Minute
	case M15:
		p.MaxAttempts = 3
		p.AscendTarget = H1
		p.GraceWindow = 2 * time.Minute
	case M5:
		p.MaxAttempts = 2
		p.AscendTarget = M15
	case M1:
		p.MaxAttempts = 4
		p.AscendTarget = M15
	}
	return p
}

// Normalize fills zero values from the defaults and drops an ascend target that is not coarser.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy(p.Timeframe)
	if p.MaxAttempts < 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.AscendTarget != "" && (!p.AscendTarget.Valid() || !Coarser(p.AscendTarget, p.Timeframe)) {
		p.AscendTarget = def.AscendTarget
	}
	if p.GraceWindow < 0 {
		p.GraceWindow = def.GraceWindow
	}
	if p.MinBars <= 0 {
		p.MinBars = def.MinBars
	}
	if p.CandleLimit <= 0 {
		p.CandleLimit = def.CandleLimit
	}
	if p.CandleLimit < p.MinBars {
		p.CandleLimit = p.MinBars
	}
	if p.BackfillBars <= 0 {
		p.BackfillBars = def.BackfillBars
	}
	if p.OrderCancelCooldown <= 0 {
		p.OrderCancelCooldown = def.OrderCancelCooldown
	}
	if p.PositionCloseCooldown <= 0 {
		p.PositionCloseCooldown = def.PositionCloseCooldown
	}
	if p.EvaluatorTimeout <= 0 {
		p.EvaluatorTimeout = def.EvaluatorTimeout
	}
	return p
}
