package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mtfcascade/internal/models"
	"mtfcascade/internal/timeframe"
)

const maxDataDisable = 24 * time.Hour

// guard runs the per-rung checks in order and returns the candle window, or the reason the
// rung is skipped. Switches are re-read on every call.
func (o *CascadeOrchestrator) guard(ctx context.Context, symbol string, tf timeframe.Timeframe, pol timeframe.Policy, now time.Time, force bool) ([]models.Candle, string) {
	if o.Switches != nil {
		if !o.Switches.IsGlobalOn(ctx) {
			return nil, o.skip(symbol, tf, ReasonGlobalDisabled)
		}
		if !o.Switches.CanProcessSymbol(ctx, symbol) {
			return nil, o.skip(symbol, tf, ReasonSymbolDisabled)
		}
	}

	candles, err := o.Klines.GetRecent(ctx, symbol, tf, pol.CandleLimit)
	if err != nil {
		o.providerError(symbol, tf, "load candles", err)
		return nil, ReasonDataProviderError
	}
	if len(candles) < pol.MinBars || len(candles) == 0 {
		if _, err := o.Klines.Backfill(ctx, symbol, tf, pol.BackfillBars); err != nil {
			o.providerError(symbol, tf, "backfill", err)
			return nil, ReasonDataProviderError
		}
		if candles, err = o.Klines.GetRecent(ctx, symbol, tf, pol.CandleLimit); err != nil {
			o.providerError(symbol, tf, "reload candles", err)
			return nil, ReasonDataProviderError
		}
		if have := len(candles); have < pol.MinBars || have == 0 {
			d := insufficientDataDisable(tf, pol.MinBars-have)
			if o.Switches != nil {
				if err := o.Switches.DisableSymbolFor(ctx, symbol, d, ReasonInsufficientBars+"_"+tf.Upper()); err != nil && o.Logger != nil {
					o.Logger.Warn("disable symbol failed", zap.String("symbol", symbol), zap.Error(err))
				}
			}
			return nil, o.skip(symbol, tf, ReasonInsufficientBars)
		}
	}

	expected := timeframe.LastClosedCandle(tf, now)
	last := candles[len(candles)-1].OpenTime
	if !force {
		if last.Before(expected) {
			// Top up the gap once; the store only grows through backfills.
			missing := int(expected.Sub(last)/timeframe.SlotLength(tf)) + 1
			if missing > pol.BackfillBars {
				missing = pol.BackfillBars
			}
			if _, err := o.Klines.Backfill(ctx, symbol, tf, missing); err != nil {
				o.providerError(symbol, tf, "top up", err)
				return nil, ReasonDataProviderError
			}
			if candles, err = o.Klines.GetRecent(ctx, symbol, tf, pol.CandleLimit); err != nil {
				o.providerError(symbol, tf, "reload candles", err)
				return nil, ReasonDataProviderError
			}
			if len(candles) == 0 {
				return nil, o.skip(symbol, tf, ReasonStaleCandles)
			}
			last = candles[len(candles)-1].OpenTime
		}
		switch {
		case last.After(expected):
			return nil, o.skip(symbol, tf, ReasonTooRecent)
		case last.Before(expected):
			return nil, o.skip(symbol, tf, ReasonStaleCandles)
		}
	}

	if o.Switches != nil && !o.Switches.CanProcessSymbolTimeframe(ctx, symbol, tf) {
		return nil, o.skip(symbol, tf, ReasonTimeframeDisabled)
	}
	if pol.GraceWindow > 0 && now.Sub(timeframe.CurrentSlot(tf, now)) < pol.GraceWindow {
		return nil, o.skip(symbol, tf, ReasonInGraceWindow)
	}
	return candles, ""
}

// insufficientDataDisable is the time needed to accumulate the missing bars, kept within
// one slot and one day.
func insufficientDataDisable(tf timeframe.Timeframe, missing int) time.Duration {
	length := timeframe.SlotLength(tf)
	d := time.Duration(missing) * length
	if d < length {
		d = length
	}
	if d > maxDataDisable {
		d = maxDataDisable
	}
	return d
}

func (o *CascadeOrchestrator) skip(symbol string, tf timeframe.Timeframe, reason string) string {
	if o.Logger != nil {
		o.Logger.Debug("cascade guard skip",
			zap.String("symbol", symbol),
			zap.String("timeframe", tf.String()),
			zap.String("reason", reason),
		)
	}
	return reason
}

func (o *CascadeOrchestrator) providerError(symbol string, tf timeframe.Timeframe, op string, err error) {
	if o.Logger != nil {
		o.Logger.Warn("kline provider failed",
			zap.String("symbol", symbol),
			zap.String("timeframe", tf.String()),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}
