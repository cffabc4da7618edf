package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetKlines_ParsesPositionalRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("path=%s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "15m" || q.Get("limit") != "2" {
			t.Errorf("query=%s", r.URL.RawQuery)
		}
		if q.Get("endTime") != "1773057600000" {
			t.Errorf("endTime=%s", q.Get("endTime"))
		}
		_, _ = w.Write([]byte(`[
			[1773055800000,"100.5","101","99.5","100.75","12.5",1773056699999,"0",10,"0","0","0"],
			[1773056700000,"100.75","102","100","101.25","3",1773057599999,"0",4,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	end := time.UnixMilli(1773057600000)
	c := NewClient(srv.Client(), srv.URL)
	got, err := c.GetKlines(context.Background(), KlinesRequest{Symbol: "btcusdt", Interval: "15m", Limit: 2, EndTime: &end})
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d want 2", len(got))
	}
	if !got[0].OpenTime.Equal(time.UnixMilli(1773055800000)) {
		t.Fatalf("open time=%s", got[0].OpenTime)
	}
	if got[1].Close.String() != "101.25" || got[0].Volume.String() != "12.5" {
		t.Fatalf("close=%s volume=%s", got[1].Close, got[0].Volume)
	}
}

func TestGetKlines_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), srv.URL).GetKlines(context.Background(), KlinesRequest{Symbol: "BTCUSDT", Interval: "1m"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("err=%v want APIError 429", err)
	}
}
