package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mtfcascade/internal/client/binance"
	"mtfcascade/internal/models"
	memoryrepository "mtfcascade/internal/repository/memory"
	"mtfcascade/internal/timeframe"
)

type fakeFetcher struct {
	since   time.Time // oldest kline the exchange has
	forming bool      // first page also carries the candle after EndTime
	err     error
	reqs    []binance.KlinesRequest
}

func (f *fakeFetcher) GetKlines(_ context.Context, req binance.KlinesRequest) ([]binance.Kline, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	step := timeframe.SlotLength(timeframe.Timeframe(req.Interval))
	end := *req.EndTime
	var out []binance.Kline
	for i := req.Limit - 1; i >= 0; i-- {
		open := end.Add(-time.Duration(i) * step)
		if open.Before(f.since) {
			continue
		}
		out = append(out, binance.Kline{OpenTime: open, CloseTime: open.Add(step - time.Millisecond), Close: decimal.NewFromInt(int64(open.Minute()))})
	}
	if f.forming && len(f.reqs) == 1 {
		open := end.Add(step)
		out = append(out, binance.Kline{OpenTime: open, CloseTime: open.Add(step - time.Millisecond)})
	}
	return out, nil
}

func TestStoredKlineProvider_BackfillPages(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	store := memoryrepository.New()
	lastClosed := timeframe.LastClosedCandle(timeframe.M1, baseNow)
	fetcher := &fakeFetcher{since: lastClosed.Add(-1499 * time.Minute), forming: true}
	p := &StoredKlineProvider{Repo: store, Fetcher: fetcher, Clock: clock}

	n, err := p.Backfill(ctx, "BTCUSDT", timeframe.M1, 2000)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if n != 1500 {
		t.Fatalf("written=%d want 1500", n)
	}
	if len(fetcher.reqs) != 2 || fetcher.reqs[0].Limit != binance.MaxKlinesPerRequest || fetcher.reqs[1].Limit != 1000 {
		t.Fatalf("requests=%+v", fetcher.reqs)
	}
	if want := lastClosed.Add(-1000 * time.Minute); !fetcher.reqs[1].EndTime.Equal(want) {
		t.Fatalf("second page end=%s want %s", fetcher.reqs[1].EndTime, want)
	}

	got, err := p.GetRecent(ctx, "BTCUSDT", timeframe.M1, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 10 || !got[9].OpenTime.Equal(lastClosed) {
		t.Fatalf("recent window ends at %v want %s", lastOpen(got), lastClosed)
	}
	if got[0].OpenTime.After(got[9].OpenTime) {
		t.Fatalf("window must be oldest first")
	}
}

func TestStoredKlineProvider_GetRecentHidesFormingCandle(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(baseNow)
	store := memoryrepository.New()
	forming := timeframe.CurrentSlot(timeframe.M5, baseNow)
	if err := store.UpsertCandles(ctx, []models.Candle{
		{Symbol: "BTCUSDT", Timeframe: "5m", OpenTime: forming.Add(-5 * time.Minute)},
		{Symbol: "BTCUSDT", Timeframe: "5m", OpenTime: forming},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p := &StoredKlineProvider{Repo: store, Clock: clock}
	got, err := p.GetRecent(ctx, "BTCUSDT", timeframe.M5, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].OpenTime.Equal(forming) {
		t.Fatalf("got %d candles ending %v", len(got), lastOpen(got))
	}
}

func TestStoredKlineProvider_BackfillError(t *testing.T) {
	p := &StoredKlineProvider{Repo: memoryrepository.New(), Fetcher: &fakeFetcher{err: errors.New("418")}, Clock: newTestClock(baseNow)}
	if _, err := p.Backfill(context.Background(), "BTCUSDT", timeframe.H1, 10); err == nil {
		t.Fatalf("expected fetch error")
	}
}

func lastOpen(c []models.Candle) time.Time {
	if len(c) == 0 {
		return time.Time{}
	}
	return c[len(c)-1].OpenTime
}
