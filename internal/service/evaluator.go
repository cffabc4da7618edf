package service

import (
	"context"
	"time"

	"mtfcascade/internal/models"
	"mtfcascade/internal/timeframe"
)

const (
	EvaluationValid   = "VALID"
	EvaluationInvalid = "INVALID"
)

// SignalEvaluator computes one timeframe verdict from a candle window. Indicator math lives
// behind it.
type SignalEvaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error)
}

type EvaluationRequest struct {
	Symbol    string                                   `json:"symbol"`
	Timeframe timeframe.Timeframe                      `json:"timeframe"`
	Candles   []models.Candle                          `json:"candles"`
	Siblings  map[timeframe.Timeframe]EvaluationResult `json:"siblings,omitempty"`
	Now       time.Time                                `json:"now"`
}

// SideCheck reports the condition results of one side.
type SideCheck struct {
	Configured bool     `json:"configured"`
	Failed     []string `json:"failed,omitempty"`
}

type EvaluationResult struct {
	Status           string         `json:"status"`
	Side             string         `json:"side"`
	Score            *float64       `json:"score,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Long             *SideCheck     `json:"long,omitempty"`
	Short            *SideCheck     `json:"short,omitempty"`
	IndicatorContext map[string]any `json:"indicator_context,omitempty"`
}

// Valid is true for a VALID verdict with a directional side.
func (r EvaluationResult) Valid() bool {
	return r.Status == EvaluationValid && (r.Side == models.SideLong || r.Side == models.SideShort)
}

// EvaluatorFunc adapts a function to SignalEvaluator.
type EvaluatorFunc func(ctx context.Context, req EvaluationRequest) (EvaluationResult, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error) {
	return f(ctx, req)
}
