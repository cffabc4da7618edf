package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mtfcascade/internal/timeframe"
)

const (
	CycleCompleted         = "completed"
	CycleDisabled          = "disabled"
	CycleAlreadyInProgress = "already_in_progress"
)

const lockReleaseTimeout = 5 * time.Second

// ProgressEvent is emitted once per processed symbol.
type ProgressEvent struct {
	CycleID   string              `json:"cycle_id"`
	Timeframe timeframe.Timeframe `json:"timeframe"`
	Symbol    string              `json:"symbol"`
	Result    string              `json:"result"`
	Reason    string              `json:"reason,omitempty"`
	Outcome   RouteOutcome        `json:"outcome,omitempty"`
	Processed int                 `json:"processed"`
	Total     int                 `json:"total"`
	At        time.Time           `json:"at"`
}

type ProgressFunc func(ProgressEvent)

type CycleOptions struct {
	Limit                  int
	IncludeCooldownElapsed *bool
	Symbols                []string
	// Now pins the evaluation time of every symbol in the cycle.
	Now time.Time
}

type SymbolResult struct {
	Symbol     string        `json:"symbol"`
	Status     string        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Record     RecordOutcome `json:"record,omitempty"`
	Outcome    RouteOutcome  `json:"outcome,omitempty"`
	Transition *Transition   `json:"transition,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type CycleSummary struct {
	CycleID    string              `json:"cycle_id"`
	Timeframe  timeframe.Timeframe `json:"timeframe"`
	Status     string              `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Total      int                 `json:"total"`
	Counts     map[string]int      `json:"counts"`
	Results    []SymbolResult      `json:"results,omitempty"`
	Holder     *LockInfo           `json:"holder,omitempty"`
}

// CycleRunner drives one timeframe: lock, list eligible symbols, then cascade, record and
// route each symbol on a bounded pool. One symbol failing never aborts the others.
type CycleRunner struct {
	Query    *EligibilityQueryService
	Cascade  *CascadeOrchestrator
	Recorder *SnapshotRecorder
	Router   *EligibilityRouter
	Switches SwitchStore
	Lock     RunLock
	Clock    timeframe.Clock
	Logger   *zap.Logger
	Metrics  Metrics
	Progress []ProgressFunc

	LockKey                string
	LockTTL                time.Duration
	Workers                int
	Limit                  int
	IncludeCooldownElapsed bool
	StartFrom              timeframe.Timeframe
	Host                   string
}

func (r *CycleRunner) now() time.Time {
	if r.Clock == nil {
		return time.Now().UTC()
	}
	return r.Clock.Now()
}

// LockKeyFor is the run lock key of tf; cycles of different timeframes do not exclude each other.
func (r *CycleRunner) LockKeyFor(tf timeframe.Timeframe) string {
	key := r.LockKey
	if key == "" {
		key = "eligibility_cycle"
	}
	return key + ":" + tf.String()
}

func (r *CycleRunner) host() string {
	if r.Host != "" {
		return r.Host
	}
	h, _ := os.Hostname()
	return h
}

func (r *CycleRunner) Run(ctx context.Context, tf timeframe.Timeframe, opts CycleOptions) (CycleSummary, error) {
	started := r.now()
	summary := CycleSummary{
		CycleID:   uuid.NewString(),
		Timeframe: tf,
		StartedAt: started,
		Counts:    map[string]int{},
	}
	if !tf.Valid() {
		return summary, fmt.Errorf("%w: %q", timeframe.ErrUnknownTimeframe, tf)
	}
	if r.Switches != nil && !r.Switches.IsGlobalOn(ctx) {
		summary.Status = CycleDisabled
		summary.FinishedAt = r.now()
		return summary, nil
	}

	if r.Lock != nil {
		key := r.LockKeyFor(tf)
		token := uuid.NewString()
		ttl := r.LockTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		ok, err := r.Lock.Acquire(ctx, key, token, ttl, map[string]any{
			"cycle_id":   summary.CycleID,
			"timeframe":  tf.String(),
			"started_at": started.Format(time.RFC3339),
			"host":       r.host(),
		})
		if err != nil {
			return summary, fmt.Errorf("acquire run lock %s: %w", key, err)
		}
		if !ok {
			metricsOrNop(r.Metrics).LockContended(key)
			summary.Status = CycleAlreadyInProgress
			summary.FinishedAt = r.now()
			if info, err := r.Lock.Info(ctx, key); err == nil {
				summary.Holder = info
			}
			if r.Logger != nil {
				r.Logger.Info("cycle already in progress", zap.String("timeframe", tf.String()), zap.String("key", key))
			}
			return summary, nil
		}
		defer r.release(ctx, key, token)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = r.Limit
	}
	includeCooldown := r.IncludeCooldownElapsed
	if opts.IncludeCooldownElapsed != nil {
		includeCooldown = *opts.IncludeCooldownElapsed
	}
	symbols, err := r.Query.EligibleSymbols(ctx, tf, limit, EligibleOptions{
		IncludeCooldownElapsed: includeCooldown,
		Symbols:                opts.Symbols,
		Now:                    opts.Now,
	})
	if err != nil {
		return summary, fmt.Errorf("list eligible %s: %w", tf, err)
	}
	summary.Total = len(symbols)
	summary.Results = r.fanOut(ctx, tf, symbols, opts, summary.CycleID)
	for _, res := range summary.Results {
		summary.Counts[res.Status]++
	}
	summary.Status = CycleCompleted
	summary.FinishedAt = r.now()

	metricsOrNop(r.Metrics).CycleFinished(tf.String(), summary.Status, summary.FinishedAt.Sub(started))
	if r.Logger != nil {
		r.Logger.Info("cycle finished",
			zap.String("cycle_id", summary.CycleID),
			zap.String("timeframe", tf.String()),
			zap.Int("symbols", summary.Total),
			zap.Any("counts", summary.Counts),
			zap.Duration("took", summary.FinishedAt.Sub(started)),
		)
	}
	return summary, nil
}

func (r *CycleRunner) release(ctx context.Context, key, token string) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()
	if _, err := r.Lock.Release(relCtx, key, token); err != nil && r.Logger != nil {
		r.Logger.Warn("release run lock failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *CycleRunner) fanOut(ctx context.Context, tf timeframe.Timeframe, symbols []string, opts CycleOptions, cycleID string) []SymbolResult {
	results := make([]SymbolResult, len(symbols))
	if len(symbols) == 0 {
		return results
	}
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(symbols) {
		workers = len(symbols)
	}

	jobs := make(chan int)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := r.processSymbol(ctx, tf, symbols[i], opts)
				results[i] = res

				mu.Lock()
				processed++
				ev := ProgressEvent{
					CycleID:   cycleID,
					Timeframe: tf,
					Symbol:    res.Symbol,
					Result:    res.Status,
					Reason:    res.Reason,
					Outcome:   res.Outcome,
					Processed: processed,
					Total:     len(symbols),
					At:        r.now(),
				}
				r.emit(ev)
				mu.Unlock()
			}
		}()
	}
	for i := range symbols {
		if ctx.Err() != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i := range results {
		if results[i].Symbol == "" {
			results[i] = SymbolResult{Symbol: symbols[i], Status: CascadeSkipped, Reason: "CANCELED"}
		}
	}
	return results
}

func (r *CycleRunner) emit(ev ProgressEvent) {
	for _, fn := range r.Progress {
		if fn != nil {
			fn(ev)
		}
	}
}

// processSymbol runs the cascade up to tf, records the snapshot and routes tf.
func (r *CycleRunner) processSymbol(ctx context.Context, tf timeframe.Timeframe, symbol string, opts CycleOptions) (out SymbolResult) {
	out.Symbol = normalizeSymbol(symbol)
	defer func() {
		if rec := recover(); rec != nil {
			out.Status = CascadeError
			out.Reason = ReasonPanic
			out.Error = fmt.Sprint(rec)
			if r.Logger != nil {
				r.Logger.Error("symbol panicked", zap.String("symbol", out.Symbol), zap.Any("panic", rec), zap.Stack("stack"))
			}
		}
	}()

	res := r.Cascade.Run(ctx, out.Symbol, CascadeOptions{Now: opts.Now, StartFrom: r.StartFrom, Until: tf})
	out.Status = res.Status
	out.Reason = res.Reason

	outcome, route := RouteFor(res, tf)
	if !route {
		return out
	}
	rec, err := r.Recorder.Record(ctx, res, tf)
	out.Record = rec
	if err != nil {
		r.symbolError(&out, tf, "record", err)
		return out
	}
	if rec == RecordDeferred {
		return out
	}
	tr, err := r.Router.Route(ctx, out.Symbol, tf, outcome, res.Reason)
	if err != nil {
		r.symbolError(&out, tf, "route", err)
		return out
	}
	out.Outcome = outcome
	out.Transition = &tr
	return out
}

func (r *CycleRunner) symbolError(out *SymbolResult, tf timeframe.Timeframe, op string, err error) {
	out.Status = CascadeError
	out.Error = err.Error()
	if r.Logger != nil {
		r.Logger.Warn("symbol failed",
			zap.String("symbol", out.Symbol),
			zap.String("timeframe", tf.String()),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

// RouteFor maps a cascade verdict to the routing outcome of tf. SKIPPED and ERROR are not
// routed.
func RouteFor(res CascadeResult, tf timeframe.Timeframe) (RouteOutcome, bool) {
	switch res.Status {
	case CascadeSkipped, CascadeError, "":
		return "", false
	case CascadeGraceWindow:
		return RouteNeutral, true
	}
	if step, ok := res.Step(tf); ok && step.Passed() {
		return RoutePassed, true
	}
	if f := res.FailedTimeframe; f != "" && (f == tf || timeframe.Coarser(f, tf)) {
		return RouteFailed, true
	}
	return RouteNeutral, true
}
