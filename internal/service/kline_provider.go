package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mtfcascade/internal/client/binance"
	"mtfcascade/internal/models"
	"mtfcascade/internal/repository"
	"mtfcascade/internal/timeframe"
)

// KlineProvider supplies candle windows, oldest first.
type KlineProvider interface {
	GetRecent(ctx context.Context, symbol string, tf timeframe.Timeframe, limit int) ([]models.Candle, error)
	// Backfill loads up to bars closed candles into the store and returns how many it wrote.
	Backfill(ctx context.Context, symbol string, tf timeframe.Timeframe, bars int) (int, error)
}

type KlineFetcher interface {
	GetKlines(ctx context.Context, req binance.KlinesRequest) ([]binance.Kline, error)
}

// StoredKlineProvider reads the candles table and backfills it from the exchange.
type StoredKlineProvider struct {
	Repo    repository.CandleRepository
	Fetcher KlineFetcher
	Clock   timeframe.Clock
	Logger  *zap.Logger
}

var _ KlineProvider = (*StoredKlineProvider)(nil)

func (p *StoredKlineProvider) now() time.Time {
	if p.Clock == nil {
		return time.Now().UTC()
	}
	return p.Clock.Now()
}

// GetRecent only returns closed candles; the one still forming is never visible.
func (p *StoredKlineProvider) GetRecent(ctx context.Context, symbol string, tf timeframe.Timeframe, limit int) ([]models.Candle, error) {
	if p == nil || p.Repo == nil {
		return nil, nil
	}
	return p.Repo.ListRecentCandles(ctx, symbol, tf.String(), timeframe.LastClosedCandle(tf, p.now()), limit)
}

func (p *StoredKlineProvider) Backfill(ctx context.Context, symbol string, tf timeframe.Timeframe, bars int) (int, error) {
	if p == nil || p.Repo == nil || p.Fetcher == nil || bars <= 0 {
		return 0, nil
	}
	lastClosed := timeframe.LastClosedCandle(tf, p.now())
	end := lastClosed
	written := 0
	for written < bars {
		page := bars - written
		if page > binance.MaxKlinesPerRequest {
			page = binance.MaxKlinesPerRequest
		}
		endAt := end
		klines, err := p.Fetcher.GetKlines(ctx, binance.KlinesRequest{
			Symbol:   symbol,
			Interval: tf.String(),
			Limit:    page,
			EndTime:  &endAt,
		})
		if err != nil {
			return written, fmt.Errorf("backfill %s/%s: %w", symbol, tf, err)
		}
		candles := closedCandles(symbol, tf, klines, lastClosed)
		if len(candles) == 0 {
			break
		}
		if err := p.Repo.UpsertCandles(ctx, candles); err != nil {
			return written, fmt.Errorf("store candles %s/%s: %w", symbol, tf, err)
		}
		written += len(candles)
		oldest := candles[0].OpenTime
		if len(klines) < page {
			break
		}
		end = oldest.Add(-timeframe.SlotLength(tf))
	}
	if p.Logger != nil {
		p.Logger.Info("candles backfilled",
			zap.String("symbol", symbol),
			zap.String("timeframe", tf.String()),
			zap.Int("bars", written),
		)
	}
	return written, nil
}

// closedCandles drops klines newer than lastClosed, i.e. the one still forming.
func closedCandles(symbol string, tf timeframe.Timeframe, klines []binance.Kline, lastClosed time.Time) []models.Candle {
	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if k.OpenTime.After(lastClosed) {
			continue
		}
		out = append(out, models.Candle{
			Symbol:    symbol,
			Timeframe: tf.String(),
			OpenTime:  k.OpenTime.UTC(),
			CloseTime: k.CloseTime.UTC(),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		})
	}
	return out
}
