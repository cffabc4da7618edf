package service

import (
	"strings"

	"mtfcascade/internal/timeframe"
)

// Reason codes carried by cascade steps and results.
const (
	ReasonGlobalDisabled       = "GLOBAL_DISABLED"
	ReasonSymbolDisabled       = "SYMBOL_DISABLED"
	ReasonInsufficientBars     = "INSUFFICIENT_BARS"
	ReasonTooRecent            = "TOO_RECENT"
	ReasonStaleCandles         = "STALE_CANDLES"
	ReasonTimeframeDisabled    = "TIMEFRAME_DISABLED"
	ReasonInGraceWindow        = "IN_GRACE_WINDOW"
	ReasonDataProviderError    = "DATA_PROVIDER_ERROR"
	ReasonEvaluatorError       = "EVALUATOR_ERROR"
	ReasonNoExecutionTimeframe = "NO_EXECUTION_TIMEFRAME"
	ReasonCacheWarmUp          = "CACHE_WARM_UP"
	ReasonPanic                = "PANIC"
)

// AlignmentReason is e.g. ALIGNMENT_1M_NE_5M.
func AlignmentReason(tf, above timeframe.Timeframe) string {
	return "ALIGNMENT_" + tf.Upper() + "_NE_" + above.Upper()
}

// IsAlignmentReason reports whether reason came from an alignment mismatch.
func IsAlignmentReason(reason string) bool {
	return strings.HasPrefix(reason, "ALIGNMENT_")
}

// invalidReason prefers the evaluator reason and otherwise lists the failed conditions of
// each side, e.g. "LONG_FAILED(rsi,ema)|SHORT_NOT_CONFIGURED".
func invalidReason(res EvaluationResult) string {
	if r := strings.TrimSpace(res.Reason); r != "" {
		return r
	}
	return sideReason("LONG", res.Long) + "|" + sideReason("SHORT", res.Short)
}

func sideReason(side string, check *SideCheck) string {
	if check == nil || !check.Configured {
		return side + "_NOT_CONFIGURED"
	}
	return side + "_FAILED(" + strings.Join(check.Failed, ",") + ")"
}
