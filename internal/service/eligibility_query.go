package service

import (
	"context"
	"strings"
	"time"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

type EligibleOptions struct {
	IncludeCooldownElapsed bool
	// IncludeFresh keeps symbols that already have a snapshot for the current slot.
	IncludeFresh bool
	Symbols      []string
	// Now overrides the clock, mostly for replays.
	Now time.Time
}

type SymbolEligibility struct {
	Symbol           string                        `json:"symbol"`
	CurrentTimeframe timeframe.Timeframe           `json:"current_timeframe,omitempty"`
	Rows             []models.TimeframeEligibility `json:"rows"`
	Retries          []models.RetryStatus          `json:"retries"`
	OrderRefs        []models.OutgoingOrderRef     `json:"order_refs,omitempty"`
}

// EligibilityQueryService is the read path over eligibility rows.
type EligibilityQueryService struct {
	Repo  repository.EligibilityRepository
	Clock timeframe.Clock
}

func (q *EligibilityQueryService) now(opts EligibleOptions) time.Time {
	if !opts.Now.IsZero() {
		return opts.Now.UTC()
	}
	if q.Clock == nil {
		return time.Now().UTC()
	}
	return q.Clock.Now()
}

func normalizeEligibleLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// EligibleSymbols lists symbols that may be evaluated for tf now, highest priority first and
// least recently touched first within a priority.
func (q *EligibilityQueryService) EligibleSymbols(ctx context.Context, tf timeframe.Timeframe, limit int, opts EligibleOptions) ([]string, error) {
	if q == nil || q.Repo == nil {
		return nil, nil
	}
	if !tf.Valid() {
		return nil, timeframe.ErrUnknownTimeframe
	}
	now := q.now(opts)
	params := repository.ListEligibleParams{
		Timeframe:              tf.String(),
		Now:                    now,
		Limit:                  normalizeEligibleLimit(limit),
		IncludeCooldownElapsed: opts.IncludeCooldownElapsed,
	}
	if !opts.IncludeFresh {
		slot := timeframe.CurrentSlot(tf, now)
		params.FreshSlot = &slot
	}
	for _, s := range opts.Symbols {
		if s = normalizeSymbol(s); s != "" {
			params.Symbols = append(params.Symbols, s)
		}
	}
	rows, err := q.Repo.ListEligible(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Symbol)
	}
	return out, nil
}

// CurrentTimeframe collapses the per-timeframe rows into one "current" rung: the ACTIVE row
// with the highest priority, the finest rung on ties.
func (q *EligibilityQueryService) CurrentTimeframe(ctx context.Context, symbol string) (timeframe.Timeframe, bool, error) {
	if q == nil || q.Repo == nil {
		return "", false, nil
	}
	rows, err := q.Repo.ListEligibilityBySymbol(ctx, normalizeSymbol(symbol))
	if err != nil {
		return "", false, err
	}
	tf, ok := currentTimeframe(rows)
	return tf, ok, nil
}

func currentTimeframe(rows []models.TimeframeEligibility) (timeframe.Timeframe, bool) {
	var (
		best     timeframe.Timeframe
		bestPrio int
		found    bool
	)
	for _, row := range rows {
		if row.Status != models.StatusActive {
			continue
		}
		tf, err := timeframe.Parse(row.Timeframe)
		if err != nil {
			continue
		}
		if !found || row.Priority > bestPrio || (row.Priority == bestPrio && timeframe.Coarser(best, tf)) {
			best, bestPrio, found = tf, row.Priority, true
		}
	}
	return best, found
}

func (q *EligibilityQueryService) Rows(ctx context.Context, symbol string) (SymbolEligibility, error) {
	symbol = normalizeSymbol(symbol)
	out := SymbolEligibility{Symbol: symbol}
	if q == nil || q.Repo == nil || strings.TrimSpace(symbol) == "" {
		return out, nil
	}
	rows, err := q.Repo.ListEligibilityBySymbol(ctx, symbol)
	if err != nil {
		return out, err
	}
	retries, err := q.Repo.ListRetryStatusBySymbol(ctx, symbol)
	if err != nil {
		return out, err
	}
	refs, err := q.Repo.ListOrderRefs(ctx, symbol)
	if err != nil {
		return out, err
	}
	out.Rows, out.Retries, out.OrderRefs = rows, retries, refs
	if tf, ok := currentTimeframe(rows); ok {
		out.CurrentTimeframe = tf
	}
	return out, nil
}
