package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is one fresh price reading for a symbol.
type PriceObservation struct {
	Symbol           string
	Price            decimal.Decimal
	PercentChange24h decimal.Decimal
	Volume24h        decimal.Decimal
	ObservedAt       time.Time
}

// CandleObservation is one fresh OHLC reading for a symbol and timeframe.
type CandleObservation struct {
	Symbol    string
	Timeframe string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	OpenTime  time.Time
	CloseTime time.Time
}

// PriceFetcher retrieves the current price reading for one symbol.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string) (PriceObservation, error)
}

// CandleFetcher retrieves recent OHLC candles for one symbol.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]CandleObservation, error)
}

// ErrorKind classifies fetch failures for the connectivity state machine.
type ErrorKind int

const (
	// KindTransient covers timeouts, rate limits, and 5xx responses.
	KindTransient ErrorKind = iota
	// KindHard covers auth rejection, unknown symbols, and malformed payloads.
	KindHard
)

// Error is a classified fetch failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Kind == KindHard {
		kind = "hard"
	}
	return "fetch " + e.Op + " (" + kind + "): " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsHard reports whether err is a hard (unrecoverable) fetch failure.
// Unclassified errors are treated as transient.
func IsHard(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindHard
}
