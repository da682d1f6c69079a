package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestBinance(baseURL string) *Binance {
	return NewBinance(BinanceOptions{
		BaseURL:   baseURL,
		Timeout:   time.Second,
		UserAgent: "test",
	}, noopLogger())
}

func TestFetchPriceSuccess(t *testing.T) {
	closeTime := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Fatalf("symbol query = %q, want BTCUSDT", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbol":             "BTCUSDT",
			"lastPrice":          "50123.45",
			"priceChangePercent": "-1.25",
			"volume":             "12345.6",
			"closeTime":          closeTime.UnixMilli(),
		})
	}))
	defer srv.Close()

	observation, err := newTestBinance(srv.URL).FetchPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchPrice should succeed: %v", err)
	}
	if observation.Price.Cmp(decimal.RequireFromString("50123.45")) != 0 {
		t.Fatalf("price = %s, want 50123.45", observation.Price)
	}
	if observation.PercentChange24h.Cmp(decimal.RequireFromString("-1.25")) != 0 {
		t.Fatalf("change = %s, want -1.25", observation.PercentChange24h)
	}
	if !observation.ObservedAt.Equal(closeTime) {
		t.Fatalf("observedAt = %v, want %v", observation.ObservedAt, closeTime)
	}
}

func TestFetchPriceRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1003, "msg": "too many requests"})
	}))
	defer srv.Close()

	_, err := newTestBinance(srv.URL).FetchPrice(context.Background(), "BTCUSDT")
	if err == nil {
		t.Fatal("HTTP 429 should return an error")
	}
	if IsHard(err) {
		t.Fatalf("rate limiting should be transient: %v", err)
	}
}

func TestFetchPriceServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestBinance(srv.URL).FetchPrice(context.Background(), "BTCUSDT")
	if err == nil || IsHard(err) {
		t.Fatalf("HTTP 502 should be a transient error, got %v", err)
	}
}

func TestFetchPriceUnknownSymbolIsHard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1121, "msg": "Invalid symbol."})
	}))
	defer srv.Close()

	_, err := newTestBinance(srv.URL).FetchPrice(context.Background(), "NOPEUSDT")
	if err == nil {
		t.Fatal("HTTP 400 should return an error")
	}
	if !IsHard(err) {
		t.Fatalf("invalid symbol should be a hard error: %v", err)
	}
}

func TestFetchPriceMalformedPayloadIsHard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbol":    "BTCUSDT",
			"lastPrice": "not-a-number",
		})
	}))
	defer srv.Close()

	_, err := newTestBinance(srv.URL).FetchPrice(context.Background(), "BTCUSDT")
	if err == nil || !IsHard(err) {
		t.Fatalf("unparseable price should be a hard error, got %v", err)
	}
}

func TestFetchPriceConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestBinance(srv.URL).FetchPrice(context.Background(), "BTCUSDT")
	if err == nil || IsHard(err) {
		t.Fatalf("connection refusal should be a transient error, got %v", err)
	}
}

func TestFetchCandlesSuccess(t *testing.T) {
	open := time.Date(2026, 8, 31, 11, 55, 0, 0, time.UTC)
	close := open.Add(5 * time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("interval"); got != "5m" {
			t.Fatalf("interval query = %q, want 5m", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Fatalf("limit query = %q, want 50", got)
		}
		_ = json.NewEncoder(w).Encode([][]any{
			{open.UnixMilli(), "100.1", "110.2", "95.3", "105.4", "42.5", close.UnixMilli(), "0", 0, "0", "0", "0"},
		})
	}))
	defer srv.Close()

	candles, err := newTestBinance(srv.URL).FetchCandles(context.Background(), "BTCUSDT", "5m", 50)
	if err != nil {
		t.Fatalf("FetchCandles should succeed: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	candle := candles[0]
	if candle.Open.Cmp(decimal.RequireFromString("100.1")) != 0 {
		t.Fatalf("open = %s, want 100.1", candle.Open)
	}
	if candle.Close.Cmp(decimal.RequireFromString("105.4")) != 0 {
		t.Fatalf("close = %s, want 105.4", candle.Close)
	}
	if !candle.OpenTime.Equal(open) || !candle.CloseTime.Equal(close) {
		t.Fatalf("times = %v..%v, want %v..%v", candle.OpenTime, candle.CloseTime, open, close)
	}
	if candle.Timeframe != "5m" {
		t.Fatalf("timeframe = %q, want 5m", candle.Timeframe)
	}
}

func TestFetchCandlesShortRowIsHard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([][]any{{1}})
	}))
	defer srv.Close()

	_, err := newTestBinance(srv.URL).FetchCandles(context.Background(), "BTCUSDT", "5m", 50)
	if err == nil || !IsHard(err) {
		t.Fatalf("truncated kline row should be a hard error, got %v", err)
	}
}
