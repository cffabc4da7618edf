package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	memoryrepository "mtfcascade/internal/repository/memory"
	"mtfcascade/internal/timeframe"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t.UTC()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.UTC()
	c.mu.Unlock()
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeKlines serves n closed candles per timeframe ending at the last closed candle.
type fakeKlines struct {
	mu    sync.Mutex
	clock timeframe.Clock

	bars          map[timeframe.Timeframe]int
	afterBackfill map[timeframe.Timeframe]int
	forming       bool
	err           error

	backfills map[timeframe.Timeframe]int
}

func newFakeKlines(clock timeframe.Clock, bars int) *fakeKlines {
	f := &fakeKlines{
		clock:         clock,
		bars:          map[timeframe.Timeframe]int{},
		afterBackfill: map[timeframe.Timeframe]int{},
		backfills:     map[timeframe.Timeframe]int{},
	}
	for _, tf := range timeframe.Ladder {
		f.bars[tf] = bars
	}
	return f
}

func (f *fakeKlines) GetRecent(ctx context.Context, symbol string, tf timeframe.Timeframe, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := f.bars[tf]
	if limit > 0 && n > limit {
		n = limit
	}
	length := timeframe.SlotLength(tf)
	last := timeframe.LastClosedCandle(tf, f.clock.Now())
	if f.forming {
		last = last.Add(length)
	}
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := last.Add(-time.Duration(n-1-i) * length)
		out = append(out, models.Candle{
			Symbol:    symbol,
			Timeframe: tf.String(),
			OpenTime:  open,
			CloseTime: open.Add(length - time.Millisecond),
			Open:      decimal.NewFromInt(int64(100 + i)),
			High:      decimal.NewFromInt(int64(101 + i)),
			Low:       decimal.NewFromInt(int64(99 + i)),
			Close:     decimal.NewFromInt(int64(100 + i)),
			Volume:    decimal.NewFromInt(10),
		})
	}
	return out, nil
}

func (f *fakeKlines) Backfill(ctx context.Context, symbol string, tf timeframe.Timeframe, bars int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfills[tf]++
	if n, ok := f.afterBackfill[tf]; ok {
		f.bars[tf] = n
	}
	return bars, nil
}

func (f *fakeKlines) backfillCount(tf timeframe.Timeframe) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backfills[tf]
}

// fakeEvaluator answers VALID/LONG with an atr unless told otherwise.
type fakeEvaluator struct {
	mu      sync.Mutex
	results map[timeframe.Timeframe]EvaluationResult
	errs    map[timeframe.Timeframe]error
	panicOn string
	calls   map[timeframe.Timeframe]int
	seen    map[timeframe.Timeframe]int
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{
		results: map[timeframe.Timeframe]EvaluationResult{},
		errs:    map[timeframe.Timeframe]error{},
		calls:   map[timeframe.Timeframe]int{},
		seen:    map[timeframe.Timeframe]int{},
	}
}

func validLong() EvaluationResult {
	score := 0.8
	return EvaluationResult{
		Status:           EvaluationValid,
		Side:             models.SideLong,
		Score:            &score,
		IndicatorContext: map[string]any{"atr": 12.5},
	}
}

func (e *fakeEvaluator) set(tf timeframe.Timeframe, res EvaluationResult) {
	e.mu.Lock()
	e.results[tf] = res
	e.mu.Unlock()
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panicOn != "" && req.Symbol == e.panicOn {
		panic("evaluator exploded")
	}
	e.calls[req.Timeframe]++
	e.seen[req.Timeframe] = len(req.Siblings)
	if err := e.errs[req.Timeframe]; err != nil {
		return EvaluationResult{}, err
	}
	if res, ok := e.results[req.Timeframe]; ok {
		return res, nil
	}
	return validLong(), nil
}

func (e *fakeEvaluator) callCount(tf timeframe.Timeframe) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[tf]
}

var errProvider = errors.New("provider down")

// 14:37:42 is outside every grace window.
var baseNow = time.Date(2026, 3, 9, 14, 37, 42, 0, time.UTC)

type cascadeHarness struct {
	clock    *testClock
	store    *memoryrepository.Store
	klines   *fakeKlines
	eval     *fakeEvaluator
	cache    *ValidationCache
	switches *SystemSettingsService
	cascade  *CascadeOrchestrator
}

func newCascadeHarness(t *testing.T, now time.Time) *cascadeHarness {
	t.Helper()
	clock := newTestClock(now)
	store := memoryrepository.New()
	store.Now = clock.Now
	h := &cascadeHarness{
		clock:    clock,
		store:    store,
		klines:   newFakeKlines(clock, 300),
		eval:     newFakeEvaluator(),
		cache:    &ValidationCache{Repo: store, Clock: clock},
		switches: &SystemSettingsService{Repo: store, Clock: clock},
	}
	h.cascade = &CascadeOrchestrator{
		Klines:    h.klines,
		Evaluator: h.eval,
		Cache:     h.cache,
		Switches:  h.switches,
		Clock:     clock,
	}
	return h
}

// warm writes a cache row from the previous slot so the key is known but not reusable.
func (h *cascadeHarness) warm(t *testing.T, symbol string, tfs ...timeframe.Timeframe) {
	t.Helper()
	for _, tf := range tfs {
		old := timeframe.LastClosedCandle(tf, h.clock.Now()).Add(-timeframe.SlotLength(tf))
		if err := h.cache.Put(context.Background(), symbol, tf, validLong(), old, h.clock.Now()); err != nil {
			t.Fatalf("warm %s: %v", tf, err)
		}
	}
}

// setRow edits one stored eligibility row in place.
func setRow(t *testing.T, store *memoryrepository.Store, symbol string, tf timeframe.Timeframe, mutate func(*models.TimeframeEligibility)) {
	t.Helper()
	ctx := context.Background()
	err := store.InTx(ctx, func(tx repository.EligibilityTx) error {
		rows, _, err := tx.LockSymbol(ctx, symbol)
		if err != nil {
			return err
		}
		for i := range rows {
			if rows[i].Timeframe == tf.String() {
				mutate(&rows[i])
				return tx.SaveEligibility(ctx, &rows[i])
			}
		}
		return errors.New("row not found")
	})
	if err != nil {
		t.Fatalf("set row %s/%s: %v", symbol, tf, err)
	}
}
