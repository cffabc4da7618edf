package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mtfcascade/internal/models"
	"mtfcascade/internal/timeframe"
)

const (
	CascadeReady       = "READY"
	CascadeInvalid     = "INVALID"
	CascadeSkipped     = "SKIPPED"
	CascadeGraceWindow = "GRACE_WINDOW"
	CascadeError       = "ERROR"
)

const (
	StepValid   = "VALID"
	StepInvalid = "INVALID"
	StepSkipped = "SKIPPED"
)

const ReasonUnknownTimeframe = "UNKNOWN_TIMEFRAME"

var defaultExecutionPreference = []timeframe.Timeframe{timeframe.M1, timeframe.M5, timeframe.M15}

type CascadeOptions struct {
	// Now overrides the orchestrator clock.
	Now       time.Time
	StartFrom timeframe.Timeframe
	// Until stops the chain after this rung; the finer rungs are not evaluated.
	Until timeframe.Timeframe
	// Only evaluates a single rung in isolation and makes it the execution timeframe.
	Only timeframe.Timeframe
	// Force bypasses the TOO_RECENT and STALE_CANDLES guards.
	Force bool
	// Dry leaves the validation cache untouched.
	Dry bool
}

type CascadeStep struct {
	Timeframe        timeframe.Timeframe `json:"timeframe"`
	Status           string              `json:"status"`
	Side             string              `json:"side"`
	Score            *float64            `json:"score,omitempty"`
	FromCache        bool                `json:"from_cache"`
	WarmUp           bool                `json:"warm_up"`
	Aligned          bool                `json:"aligned"`
	Reason           string              `json:"reason,omitempty"`
	KlineTime        *time.Time          `json:"kline_time,omitempty"`
	SlotStart        time.Time           `json:"slot_start"`
	IndicatorContext map[string]any      `json:"indicator_context,omitempty"`
}

// Passed is true for a valid step that agreed with the rung above it.
func (s CascadeStep) Passed() bool {
	return s.Status == StepValid && s.Aligned
}

// CascadeResult is the verdict for one symbol. FailedTimeframe names the rung that stopped
// the chain, for INVALID and SKIPPED results.
type CascadeResult struct {
	Symbol           string                `json:"symbol"`
	Status           string                `json:"status"`
	SignalSide       string                `json:"signal_side,omitempty"`
	ExecutionTF      timeframe.Timeframe   `json:"execution_tf,omitempty"`
	FailedTimeframe  timeframe.Timeframe   `json:"failed_timeframe,omitempty"`
	Reason           string                `json:"reason,omitempty"`
	KlineTime        *time.Time            `json:"kline_time,omitempty"`
	CurrentPrice     *decimal.Decimal      `json:"current_price,omitempty"`
	ATR              *decimal.Decimal      `json:"atr,omitempty"`
	IndicatorContext map[string]any        `json:"indicator_context,omitempty"`
	Steps            []CascadeStep         `json:"steps"`
	Included         []timeframe.Timeframe `json:"included"`
	EvaluatedAt      time.Time             `json:"evaluated_at"`
}

// Step returns the step evaluated for tf, if any.
func (r CascadeResult) Step(tf timeframe.Timeframe) (CascadeStep, bool) {
	for _, s := range r.Steps {
		if s.Timeframe == tf {
			return s, true
		}
	}
	return CascadeStep{}, false
}

// CascadeOrchestrator walks the included rungs top-down and produces one verdict per symbol.
// It never retries inside a run and never routes; callers feed the result to the router.
type CascadeOrchestrator struct {
	Klines    KlineProvider
	Evaluator SignalEvaluator
	Cache     *ValidationCache
	Switches  SwitchStore
	Policies  PolicyLoader
	Clock     timeframe.Clock
	Logger    *zap.Logger
	Metrics   Metrics

	StartFrom           timeframe.Timeframe
	ExecutionPreference []timeframe.Timeframe
}

func (o *CascadeOrchestrator) now(opts CascadeOptions) time.Time {
	if !opts.Now.IsZero() {
		return opts.Now.UTC()
	}
	if o.Clock == nil {
		return time.Now().UTC()
	}
	return o.Clock.Now()
}

func (o *CascadeOrchestrator) policies(ctx context.Context) timeframe.Policies {
	if o.Policies == nil {
		return timeframe.DefaultPolicies()
	}
	return o.Policies.Load(ctx)
}

func (o *CascadeOrchestrator) included(opts CascadeOptions) []timeframe.Timeframe {
	if opts.Only != "" {
		if !opts.Only.Valid() {
			return nil
		}
		return []timeframe.Timeframe{opts.Only}
	}
	start := opts.StartFrom
	if start == "" {
		start = o.StartFrom
	}
	if start == "" {
		start = timeframe.H4
	}
	chain := timeframe.Included(start)
	if opts.Until == "" {
		return chain
	}
	if !opts.Until.Valid() || timeframe.Coarser(opts.Until, start) {
		return nil
	}
	out := chain[:0]
	for _, tf := range chain {
		out = append(out, tf)
		if tf == opts.Until {
			break
		}
	}
	return out
}

type evaluatedRung struct {
	result  EvaluationResult
	candles []models.Candle
}

func (o *CascadeOrchestrator) Run(ctx context.Context, symbol string, opts CascadeOptions) CascadeResult {
	now := o.now(opts)
	res := CascadeResult{Symbol: normalizeSymbol(symbol), EvaluatedAt: now, Steps: []CascadeStep{}}
	res.Included = o.included(opts)
	if len(res.Included) == 0 {
		res.Status = CascadeError
		res.Reason = ReasonUnknownTimeframe
		return o.finish(res)
	}
	if o.Klines == nil || o.Evaluator == nil {
		res.Status = CascadeError
		res.Reason = "CASCADE_NOT_CONFIGURED"
		return o.finish(res)
	}
	pols := o.policies(ctx)

	evaluated := make(map[timeframe.Timeframe]evaluatedRung, len(res.Included))
	siblings := make(map[timeframe.Timeframe]EvaluationResult, len(res.Included))
	warmUp := false

	for _, tf := range res.Included {
		pol := pols.For(tf)
		step := CascadeStep{Timeframe: tf, Side: models.SideNone, SlotStart: timeframe.CurrentSlot(tf, now)}

		candles, reason := o.guard(ctx, res.Symbol, tf, pol, now, opts.Force)
		if reason != "" {
			step.Status = StepSkipped
			step.Reason = reason
			res.Steps = append(res.Steps, step)
			res.Status = CascadeSkipped
			res.FailedTimeframe = tf
			res.Reason = reason
			return o.finish(res)
		}
		klineTime := candles[len(candles)-1].OpenTime.UTC()
		step.KlineTime = &klineTime

		result, fromCache, hadEntry, err := o.evaluate(ctx, res.Symbol, tf, pol, candles, siblings, now, opts.Dry)
		if err != nil {
			if o.Logger != nil {
				o.Logger.Warn("evaluator failed",
					zap.String("symbol", res.Symbol),
					zap.String("timeframe", tf.String()),
					zap.Error(err),
				)
			}
			step.Status = StepSkipped
			step.Reason = ReasonEvaluatorError
			res.Steps = append(res.Steps, step)
			res.Status = CascadeSkipped
			res.FailedTimeframe = tf
			res.Reason = ReasonEvaluatorError
			return o.finish(res)
		}
		step.FromCache = fromCache
		step.WarmUp = !hadEntry
		step.Side = result.Side
		step.Score = result.Score
		step.IndicatorContext = result.IndicatorContext
		warmUp = warmUp || step.WarmUp

		if !result.Valid() {
			step.Status = StepInvalid
			step.Reason = invalidReason(result)
			res.Steps = append(res.Steps, step)
			res.Status = CascadeInvalid
			res.FailedTimeframe = tf
			res.Reason = step.Reason
			return o.finish(warmUpVerdict(res, warmUp))
		}
		step.Status = StepValid

		if above, ok := timeframe.Above(tf); ok {
			if prev, seen := evaluated[above]; seen && prev.result.Side != result.Side {
				step.Reason = AlignmentReason(tf, above)
				res.Steps = append(res.Steps, step)
				res.Status = CascadeInvalid
				res.FailedTimeframe = tf
				res.Reason = step.Reason
				return o.finish(warmUpVerdict(res, warmUp))
			}
		}
		step.Aligned = true
		res.Steps = append(res.Steps, step)
		evaluated[tf] = evaluatedRung{result: result, candles: candles}
		siblings[tf] = result
	}

	if warmUp {
		res.Status = CascadeGraceWindow
		res.Reason = ReasonCacheWarmUp
		return o.finish(res)
	}

	execTF, ok := o.executionTimeframe(res.Included, evaluated, opts)
	if !ok {
		res.Status = CascadeInvalid
		res.Reason = ReasonNoExecutionTimeframe
		return o.finish(res)
	}
	rung := evaluated[execTF]
	res.Status = CascadeReady
	res.SignalSide = rung.result.Side
	res.ExecutionTF = execTF
	res.IndicatorContext = rung.result.IndicatorContext
	if step, ok := res.Step(execTF); ok {
		res.KlineTime = step.KlineTime
	}
	if n := len(rung.candles); n > 0 {
		price := rung.candles[n-1].Close
		res.CurrentPrice = &price
	}
	if atr, ok := decimalFromContext(rung.result.IndicatorContext, "atr"); ok {
		res.ATR = &atr
	}
	return o.finish(res)
}

// warmUpVerdict downgrades an invalid chain to GRACE_WINDOW while any evaluated rung was
// observed for the first time. FailedTimeframe and the steps keep the underlying failure.
func warmUpVerdict(res CascadeResult, warmUp bool) CascadeResult {
	if warmUp {
		res.Status = CascadeGraceWindow
		res.Reason = ReasonCacheWarmUp
	}
	return res
}

func (o *CascadeOrchestrator) evaluate(ctx context.Context, symbol string, tf timeframe.Timeframe, pol timeframe.Policy, candles []models.Candle, siblings map[timeframe.Timeframe]EvaluationResult, now time.Time, dry bool) (EvaluationResult, bool, bool, error) {
	hadEntry := true
	if o.Cache != nil {
		entry, had, err := o.Cache.Get(ctx, symbol, tf)
		switch {
		case err != nil:
			// An unreadable row still proves the key was observed before.
			if o.Logger != nil {
				o.Logger.Warn("validation cache read failed",
					zap.String("symbol", symbol),
					zap.String("timeframe", tf.String()),
					zap.Error(err),
				)
			}
		case !had:
			hadEntry = false
		case ShouldReuse(entry, tf, now):
			return entry.Result, true, true, nil
		}
	}

	evalCtx, cancel := context.WithTimeout(ctx, pol.EvaluatorTimeout)
	defer cancel()
	sib := make(map[timeframe.Timeframe]EvaluationResult, len(siblings))
	for k, v := range siblings {
		sib[k] = v
	}
	result, err := o.Evaluator.Evaluate(evalCtx, EvaluationRequest{
		Symbol:    symbol,
		Timeframe: tf,
		Candles:   candles,
		Siblings:  sib,
		Now:       now,
	})
	if err != nil {
		return EvaluationResult{}, false, hadEntry, fmt.Errorf("evaluate %s/%s: %w", symbol, tf, err)
	}
	if !dry && o.Cache != nil {
		klineTime := candles[len(candles)-1].OpenTime
		if err := o.Cache.Put(ctx, symbol, tf, result, klineTime, now); err != nil && o.Logger != nil {
			o.Logger.Warn("validation cache write failed",
				zap.String("symbol", symbol),
				zap.String("timeframe", tf.String()),
				zap.Error(err),
			)
		}
	}
	return result, false, hadEntry, nil
}

func (o *CascadeOrchestrator) executionTimeframe(included []timeframe.Timeframe, evaluated map[timeframe.Timeframe]evaluatedRung, opts CascadeOptions) (timeframe.Timeframe, bool) {
	if opts.Only != "" {
		_, ok := evaluated[opts.Only]
		return opts.Only, ok
	}
	pref := o.ExecutionPreference
	if len(pref) == 0 {
		pref = defaultExecutionPreference
	}
	for _, tf := range pref {
		if !timeframe.Contains(included, tf) {
			continue
		}
		if rung, ok := evaluated[tf]; ok && rung.result.Side != models.SideNone {
			return tf, true
		}
	}
	return "", false
}

func (o *CascadeOrchestrator) finish(res CascadeResult) CascadeResult {
	metricsOrNop(o.Metrics).CascadeFinished(res.Status, res.Reason)
	if o.Logger != nil {
		o.Logger.Debug("cascade finished",
			zap.String("symbol", res.Symbol),
			zap.String("status", res.Status),
			zap.String("reason", res.Reason),
			zap.String("failed_timeframe", res.FailedTimeframe.String()),
			zap.String("execution_tf", res.ExecutionTF.String()),
		)
	}
	return res
}

// decimalFromContext reads a numeric indicator value that may arrive as a float, a string or
// a json.Number depending on the evaluator transport.
func decimalFromContext(ctx map[string]any, key string) (decimal.Decimal, bool) {
	raw, ok := ctx[key]
	if !ok || raw == nil {
		return decimal.Decimal{}, false
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case decimal.Decimal:
		return v, true
	}
	if f, err := strconv.ParseFloat(fmt.Sprint(raw), 64); err == nil {
		return decimal.NewFromFloat(f), true
	}
	return decimal.Decimal{}, false
}
