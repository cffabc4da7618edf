package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

var (
	ErrUnknownEventKind  = errors.New("unknown lifecycle event kind")
	ErrSymbolRequired    = errors.New("symbol is required")
	ErrSymbolNotSeedable = errors.New("symbol has no eligibility rows")
)

type RouteOutcome string

const (
	RoutePassed  RouteOutcome = "PASSED"
	RouteFailed  RouteOutcome = "FAILED"
	RouteNeutral RouteOutcome = "NEUTRAL"
)

type LifecycleKind string

const (
	PositionOpened LifecycleKind = "position-opened"
	PositionClosed LifecycleKind = "position-closed"
	OrderPlaced    LifecycleKind = "order-placed"
	OrderCanceled  LifecycleKind = "order-canceled"
)

func ParseLifecycleKind(raw string) (LifecycleKind, error) {
	switch k := LifecycleKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case PositionOpened, PositionClosed, OrderPlaced, OrderCanceled:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, raw)
}

// LifecycleEvent is a position/order transition reported by the trading layer.
type LifecycleEvent struct {
	EventID             string                `json:"event_id"`
	Source              string                `json:"source,omitempty"`
	Symbol              string                `json:"symbol"`
	ExecutionTimeframes []timeframe.Timeframe `json:"execution_timeframes,omitempty"`
	OrderID             string                `json:"order_id,omitempty"`
	Intent              string                `json:"intent,omitempty"`
	DedupKey            string                `json:"dedup_key,omitempty"`
}

// Transition describes what one Route call changed.
type Transition struct {
	Symbol        string              `json:"symbol"`
	Timeframe     timeframe.Timeframe `json:"timeframe"`
	Outcome       RouteOutcome        `json:"outcome"`
	Status        string              `json:"status"`
	CooldownUntil *time.Time          `json:"cooldown_until,omitempty"`
	RetryCount    int                 `json:"retry_count"`
	Promoted      timeframe.Timeframe `json:"promoted,omitempty"`
	Ascended      bool                `json:"ascended,omitempty"`
}

// EligibilityRouter owns the per-(symbol, timeframe) state machine. Every transition is a
// read-modify-write over rows locked by LockSymbol.
type EligibilityRouter struct {
	Repo     repository.EligibilityRepository
	Dedup    *EventDedupGuard
	Policies PolicyLoader
	Clock    timeframe.Clock
	Logger   *zap.Logger
	Metrics  Metrics

	// Root is the rung seeded ACTIVE for a new symbol; defaults to 4h.
	Root timeframe.Timeframe
	// ExecutionTimeframes is used for lifecycle events that name none.
	ExecutionTimeframes []timeframe.Timeframe
	// Jitter returns a whole number of seconds in [1, max]; nil draws uniformly.
	Jitter func(max int) int

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func (r *EligibilityRouter) now() time.Time {
	if r.Clock == nil {
		return time.Now().UTC()
	}
	return r.Clock.Now()
}

func (r *EligibilityRouter) root() timeframe.Timeframe {
	if r.Root.Valid() {
		return r.Root
	}
	return timeframe.H4
}

func (r *EligibilityRouter) policies(ctx context.Context) timeframe.Policies {
	if r.Policies == nil {
		return timeframe.DefaultPolicies()
	}
	return r.Policies.Load(ctx)
}

func (r *EligibilityRouter) jitter(max int) int {
	if max < 1 {
		max = 1
	}
	if r.Jitter != nil {
		j := r.Jitter(max)
		if j < 1 {
			return 1
		}
		if j > max {
			return max
		}
		return j
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	if r.rnd == nil {
		r.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return 1 + r.rnd.Intn(max)
}

// CooldownUntil is NextClose minus a jitter of 1..min(10, seconds to close) seconds.
func (r *EligibilityRouter) CooldownUntil(tf timeframe.Timeframe, now time.Time) time.Time {
	next := timeframe.NextClose(tf, now)
	secs := int(next.Sub(now) / time.Second)
	if secs > 10 {
		secs = 10
	}
	return next.Add(-time.Duration(r.jitter(secs)) * time.Second)
}

func seedRows(symbol string, root timeframe.Timeframe) ([]models.TimeframeEligibility, []models.RetryStatus) {
	rows := make([]models.TimeframeEligibility, 0, len(timeframe.Ladder))
	retries := make([]models.RetryStatus, 0, len(timeframe.Ladder))
	for _, tf := range timeframe.Ladder {
		row := models.TimeframeEligibility{
			Symbol:    symbol,
			Timeframe: tf.String(),
			Status:    models.StatusCooldown,
			Priority:  models.PriorityIdle,
			Reason:    "seeded",
		}
		if tf == root {
			row.Status = models.StatusActive
			row.Priority = models.PriorityPromoted
		}
		rows = append(rows, row)
		retries = append(retries, models.RetryStatus{
			Symbol:     symbol,
			Timeframe:  tf.String(),
			LastResult: models.ResultNone,
		})
	}
	return rows, retries
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Seed creates the ladder rows of every symbol not seen before; existing rows are untouched.
func (r *EligibilityRouter) Seed(ctx context.Context, symbols []string) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	for _, raw := range symbols {
		symbol := normalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		rows, retries := seedRows(symbol, r.root())
		if err := r.Repo.SeedSymbol(ctx, rows, retries); err != nil {
			return fmt.Errorf("seed %s: %w", symbol, err)
		}
	}
	return nil
}

// symbolState is the locked view of one symbol inside a transaction.
type symbolState struct {
	tx      repository.EligibilityTx
	rows    map[timeframe.Timeframe]*models.TimeframeEligibility
	retries map[timeframe.Timeframe]*models.RetryStatus
}

func (r *EligibilityRouter) lock(ctx context.Context, tx repository.EligibilityTx, symbol string) (*symbolState, error) {
	rows, retries, err := tx.LockSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(rows) < len(timeframe.Ladder) || len(retries) < len(timeframe.Ladder) {
		seed, seedRetries := seedRows(symbol, r.root())
		if err := tx.SeedSymbol(ctx, seed, seedRetries); err != nil {
			return nil, err
		}
		if rows, retries, err = tx.LockSymbol(ctx, symbol); err != nil {
			return nil, err
		}
	}
	st := &symbolState{
		tx:      tx,
		rows:    make(map[timeframe.Timeframe]*models.TimeframeEligibility, len(rows)),
		retries: make(map[timeframe.Timeframe]*models.RetryStatus, len(retries)),
	}
	for i := range rows {
		st.rows[timeframe.Timeframe(rows[i].Timeframe)] = &rows[i]
	}
	for i := range retries {
		st.retries[timeframe.Timeframe(retries[i].Timeframe)] = &retries[i]
	}
	if len(st.rows) == 0 {
		return nil, ErrSymbolNotSeedable
	}
	return st, nil
}

func (st *symbolState) saveRow(ctx context.Context, tf timeframe.Timeframe) error {
	if row := st.rows[tf]; row != nil {
		return st.tx.SaveEligibility(ctx, row)
	}
	return nil
}

func (st *symbolState) saveRetry(ctx context.Context, tf timeframe.Timeframe) error {
	if rs := st.retries[tf]; rs != nil {
		return st.tx.SaveRetryStatus(ctx, rs)
	}
	return nil
}

// promote makes tf ACTIVE with the promoted priority unless it is locked.
func (st *symbolState) promote(ctx context.Context, tf timeframe.Timeframe, reason string) (bool, error) {
	row := st.rows[tf]
	if row == nil || row.Locked() {
		return false, nil
	}
	row.Status = models.StatusActive
	row.Priority = models.PriorityPromoted
	row.CooldownUntil = nil
	row.Reason = reason
	return true, st.saveRow(ctx, tf)
}

// Route applies an evaluation outcome for (symbol, tf).
func (r *EligibilityRouter) Route(ctx context.Context, symbol string, tf timeframe.Timeframe, outcome RouteOutcome, reason string) (Transition, error) {
	symbol = normalizeSymbol(symbol)
	tr := Transition{Symbol: symbol, Timeframe: tf, Outcome: outcome}
	if r == nil || r.Repo == nil {
		return tr, nil
	}
	if symbol == "" {
		return tr, ErrSymbolRequired
	}
	if !tf.Valid() {
		return tr, fmt.Errorf("%w: %q", timeframe.ErrUnknownTimeframe, tf)
	}
	pol := r.policies(ctx).For(tf)
	now := r.now()

	err := r.Repo.InTx(ctx, func(tx repository.EligibilityTx) error {
		st, err := r.lock(ctx, tx, symbol)
		if err != nil {
			return err
		}
		row, rs := st.rows[tf], st.retries[tf]
		if row == nil || rs == nil {
			return ErrSymbolNotSeedable
		}

		// Locked rows keep their state; only retry bookkeeping moves.
		if !row.Locked() {
			until := r.CooldownUntil(tf, now)
			row.Status = models.StatusCooldown
			row.Priority = models.PriorityIdle
			row.CooldownUntil = &until
			row.Reason = routeReason(outcome, reason)
			if err := st.saveRow(ctx, tf); err != nil {
				return err
			}
		}

		switch outcome {
		case RoutePassed:
			rs.RetryCount = 0
			rs.LastResult = models.ResultSuccess
			if child, ok := timeframe.ChildOf(tf); ok {
				promoted, err := st.promote(ctx, child, "descend_from_"+tf.String())
				if err != nil {
					return err
				}
				if promoted {
					tr.Promoted = child
				}
			}
		case RouteFailed:
			rs.LastResult = models.ResultFailed
			attempts := rs.RetryCount + 1
			target := pol.AscendTarget
			if pol.MaxAttempts > 0 && attempts >= pol.MaxAttempts && target.Valid() {
				rs.RetryCount = 0
				tr.Ascended = true
				promoted, err := st.promote(ctx, target, "ascend_from_"+tf.String())
				if err != nil {
					return err
				}
				if promoted {
					tr.Promoted = target
				}
				if trs := st.retries[target]; trs != nil {
					trs.RetryCount = 0
					if err := st.saveRetry(ctx, target); err != nil {
						return err
					}
				}
			} else {
				rs.RetryCount = attempts
			}
		}
		if outcome != RouteNeutral {
			if err := st.saveRetry(ctx, tf); err != nil {
				return err
			}
		}
		tr.Status = row.Status
		tr.CooldownUntil = row.CooldownUntil
		tr.RetryCount = rs.RetryCount
		return nil
	})
	if err != nil {
		return tr, fmt.Errorf("route %s/%s: %w", symbol, tf, err)
	}
	metricsOrNop(r.Metrics).RouteApplied(tf.String(), string(outcome))
	if r.Logger != nil {
		r.Logger.Debug("route applied",
			zap.String("symbol", symbol),
			zap.String("timeframe", tf.String()),
			zap.String("outcome", string(outcome)),
			zap.String("status", tr.Status),
			zap.Int("retry_count", tr.RetryCount),
			zap.String("promoted", tr.Promoted.String()),
		)
	}
	return tr, nil
}

func routeReason(outcome RouteOutcome, reason string) string {
	out := "evaluated_" + strings.ToLower(string(outcome))
	if reason = strings.TrimSpace(reason); reason != "" {
		out += ": " + reason
	}
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}

func (r *EligibilityRouter) ApplyPositionOpened(ctx context.Context, ev LifecycleEvent) (bool, error) {
	return r.Apply(ctx, PositionOpened, ev)
}

func (r *EligibilityRouter) ApplyPositionClosed(ctx context.Context, ev LifecycleEvent) (bool, error) {
	return r.Apply(ctx, PositionClosed, ev)
}

func (r *EligibilityRouter) ApplyOrderPlaced(ctx context.Context, ev LifecycleEvent) (bool, error) {
	return r.Apply(ctx, OrderPlaced, ev)
}

func (r *EligibilityRouter) ApplyOrderCanceled(ctx context.Context, ev LifecycleEvent) (bool, error) {
	return r.Apply(ctx, OrderCanceled, ev)
}

func (r *EligibilityRouter) executionTimeframes(ev LifecycleEvent) []timeframe.Timeframe {
	src := ev.ExecutionTimeframes
	if len(src) == 0 {
		src = r.ExecutionTimeframes
	}
	if len(src) == 0 {
		src = []timeframe.Timeframe{timeframe.M1, timeframe.M5, timeframe.M15}
	}
	// Coarsest first, so a parent is already released when its children promote it.
	var out []timeframe.Timeframe
	for _, tf := range timeframe.Ladder {
		if timeframe.Contains(src, tf) {
			out = append(out, tf)
		}
	}
	return out
}

// Apply runs one lifecycle event. Duplicates return applied=false and change nothing.
func (r *EligibilityRouter) Apply(ctx context.Context, kind LifecycleKind, ev LifecycleEvent) (bool, error) {
	if r == nil || r.Repo == nil {
		return false, nil
	}
	if _, err := ParseLifecycleKind(string(kind)); err != nil {
		return false, err
	}
	symbol := normalizeSymbol(ev.Symbol)
	if symbol == "" {
		return false, ErrSymbolRequired
	}
	source := ev.Source
	if strings.TrimSpace(source) == "" {
		source = string(kind)
	}
	tfs := r.executionTimeframes(ev)
	pols := r.policies(ctx)
	now := r.now()

	applied := false
	err := r.Repo.InTx(ctx, func(tx repository.EligibilityTx) error {
		ok, err := r.Dedup.AcceptTx(ctx, tx, ev.EventID, source)
		if err != nil || !ok {
			return err
		}
		applied = true
		st, err := r.lock(ctx, tx, symbol)
		if err != nil {
			return err
		}
		switch kind {
		case OrderPlaced:
			return r.orderPlaced(ctx, st, symbol, tfs, ev, now)
		case OrderCanceled:
			return r.release(ctx, st, tfs, models.StatusLockedOrder, pols, now, func() error {
				_, err := tx.DeleteOrderRef(ctx, ev.OrderID)
				return err
			})
		case PositionOpened:
			return r.positionOpened(ctx, st, symbol, tfs)
		case PositionClosed:
			return r.release(ctx, st, tfs, models.StatusLockedPosition, pols, now, nil)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", kind, symbol, err)
	}
	metricsOrNop(r.Metrics).LifecycleApplied(string(kind), applied)
	if applied && r.Logger != nil {
		r.Logger.Info("lifecycle event applied",
			zap.String("kind", string(kind)),
			zap.String("event_id", ev.EventID),
			zap.String("symbol", symbol),
			zap.Strings("timeframes", timeframeStrings(tfs)),
		)
	}
	return applied, nil
}

func (r *EligibilityRouter) orderPlaced(ctx context.Context, st *symbolState, symbol string, tfs []timeframe.Timeframe, ev LifecycleEvent, now time.Time) error {
	for _, tf := range tfs {
		row := st.rows[tf]
		if row == nil || (row.Status != models.StatusActive && row.Status != models.StatusCooldown) {
			continue
		}
		row.Status = models.StatusLockedOrder
		row.Priority = models.PriorityIdle
		row.Reason = "order_placed"
		if err := st.saveRow(ctx, tf); err != nil {
			return err
		}
	}
	if strings.TrimSpace(ev.OrderID) == "" {
		return nil
	}
	ref := &models.OutgoingOrderRef{
		OrderID:   ev.OrderID,
		Symbol:    symbol,
		Intent:    ev.Intent,
		DedupKey:  ev.DedupKey,
		CreatedAt: now,
	}
	if len(tfs) > 0 {
		ref.Timeframe = tfs[len(tfs)-1].String()
	}
	return st.tx.InsertOrderRef(ctx, ref)
}

func (r *EligibilityRouter) positionOpened(ctx context.Context, st *symbolState, symbol string, tfs []timeframe.Timeframe) error {
	for _, tf := range tfs {
		row := st.rows[tf]
		if row == nil || row.Status == models.StatusLockedPosition {
			continue
		}
		row.Status = models.StatusLockedPosition
		row.Priority = models.PriorityIdle
		row.Reason = "position_opened"
		if err := st.saveRow(ctx, tf); err != nil {
			return err
		}
	}
	_, err := st.tx.DeleteOrderRefsBySymbol(ctx, symbol)
	return err
}

// release moves rows locked with from back to COOLDOWN and promotes their parents.
func (r *EligibilityRouter) release(ctx context.Context, st *symbolState, tfs []timeframe.Timeframe, from string, pols timeframe.Policies, now time.Time, after func() error) error {
	for _, tf := range tfs {
		row := st.rows[tf]
		if row == nil || row.Status != from {
			continue
		}
		pol := pols.For(tf)
		cooldown := pol.PositionCloseCooldown
		reason := "position_closed"
		if from == models.StatusLockedOrder {
			cooldown = pol.OrderCancelCooldown
			reason = "order_canceled"
		}
		until := now.Add(cooldown)
		row.Status = models.StatusCooldown
		row.Priority = models.PriorityIdle
		row.CooldownUntil = &until
		row.Reason = reason
		if err := st.saveRow(ctx, tf); err != nil {
			return err
		}
		if parent, ok := timeframe.ParentOf(tf); ok {
			if _, err := st.promote(ctx, parent, "release_from_"+tf.String()); err != nil {
				return err
			}
		}
	}
	if after != nil {
		return after()
	}
	return nil
}

func timeframeStrings(tfs []timeframe.Timeframe) []string {
	out := make([]string, 0, len(tfs))
	for _, tf := range tfs {
		out = append(out, tf.String())
	}
	return out
}
