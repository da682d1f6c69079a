package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	tickerPath = "/api/v3/ticker/24hr"
	klinesPath = "/api/v3/klines"
)

// BinanceOptions parameterise the exchange REST client.
type BinanceOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Binance fetches prices and candles from the Binance public REST API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBinance constructs an exchange client.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type tickerResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

// FetchPrice retrieves the 24h ticker for one symbol.
func (b *Binance) FetchPrice(ctx context.Context, symbol string) (PriceObservation, error) {
	endpoint := b.baseURL + tickerPath + "?symbol=" + url.QueryEscape(symbol)

	payload, err := b.get(ctx, "price "+symbol, endpoint)
	if err != nil {
		return PriceObservation{}, err
	}

	var ticker tickerResponse
	if err := json.Unmarshal(payload, &ticker); err != nil {
		return PriceObservation{}, &Error{Kind: KindHard, Op: "price " + symbol, Err: fmt.Errorf("decode ticker: %w", err)}
	}

	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil {
		return PriceObservation{}, &Error{Kind: KindHard, Op: "price " + symbol, Err: fmt.Errorf("parse last price: %w", err)}
	}
	change, err := decimal.NewFromString(ticker.PriceChangePercent)
	if err != nil {
		return PriceObservation{}, &Error{Kind: KindHard, Op: "price " + symbol, Err: fmt.Errorf("parse change percent: %w", err)}
	}
	volume, err := decimal.NewFromString(ticker.Volume)
	if err != nil {
		return PriceObservation{}, &Error{Kind: KindHard, Op: "price " + symbol, Err: fmt.Errorf("parse volume: %w", err)}
	}

	observedAt := time.Now().UTC()
	if ticker.CloseTime > 0 {
		observedAt = time.UnixMilli(ticker.CloseTime).UTC()
	}

	return PriceObservation{
		Symbol:           symbol,
		Price:            price,
		PercentChange24h: change,
		Volume24h:        volume,
		ObservedAt:       observedAt,
	}, nil
}

// FetchCandles retrieves recent klines for one symbol and timeframe.
// Kline rows are heterogeneous arrays: open time and close time arrive as
// epoch-millisecond numbers, OHLCV fields as decimal strings.
func (b *Binance) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]CandleObservation, error) {
	op := "candles " + symbol

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", timeframe)
	query.Set("limit", strconv.Itoa(limit))
	endpoint := b.baseURL + klinesPath + "?" + query.Encode()

	payload, err := b.get(ctx, op, endpoint)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var raw [][]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, &Error{Kind: KindHard, Op: op, Err: fmt.Errorf("decode klines: %w", err)}
	}

	candles := make([]CandleObservation, 0, len(raw))
	for _, row := range raw {
		candle, err := parseKline(symbol, timeframe, row)
		if err != nil {
			return nil, &Error{Kind: KindHard, Op: op, Err: err}
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKline(symbol, timeframe string, row []any) (CandleObservation, error) {
	if len(row) < 7 {
		return CandleObservation{}, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
	}

	openTime, err := klineMillis(row[0])
	if err != nil {
		return CandleObservation{}, fmt.Errorf("parse open time: %w", err)
	}
	closeTime, err := klineMillis(row[6])
	if err != nil {
		return CandleObservation{}, fmt.Errorf("parse close time: %w", err)
	}

	fields := make([]decimal.Decimal, 5)
	for i, idx := range []int{1, 2, 3, 4, 5} {
		str, ok := row[idx].(string)
		if !ok {
			return CandleObservation{}, fmt.Errorf("kline field %d is not a string", idx)
		}
		value, err := decimal.NewFromString(str)
		if err != nil {
			return CandleObservation{}, fmt.Errorf("parse kline field %d: %w", idx, err)
		}
		fields[i] = value
	}

	return CandleObservation{
		Symbol:    symbol,
		Timeframe: timeframe,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		OpenTime:  time.UnixMilli(openTime).UTC(),
		CloseTime: time.UnixMilli(closeTime).UTC(),
	}, nil
}

func klineMillis(v any) (int64, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, errors.New("not a number")
	}
	return num.Int64()
}

func (b *Binance) get(ctx context.Context, op, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: KindHard, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "coinpeek/1.0")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: classifyStatus(resp.StatusCode), Op: op, Err: apiError(resp.StatusCode, payload)}
	}
	return payload, nil
}

// classifyStatus maps HTTP status codes onto the fetch taxonomy: rate
// limiting and server errors are retryable, other client errors (bad
// symbol, auth rejection) are not.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindHard
	}
}

type apiErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func apiError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("api error (%d): %s", status, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("api error (%d)", status)
}

var (
	_ PriceFetcher  = (*Binance)(nil)
	_ CandleFetcher = (*Binance)(nil)
)
