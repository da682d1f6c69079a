package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is one observation of a symbol's current price. The store
// keeps a history per symbol; the row with the greatest ObservedAt is the
// canonical current price.
type PriceSnapshot struct {
	Symbol           string
	Price            decimal.Decimal
	PercentChange24h decimal.Decimal
	Volume24h        decimal.Decimal
	ObservedAt       time.Time
	FetchedAt        time.Time
}

// CandleRecord is an OHLC aggregate keyed by (symbol, timeframe, open_time).
type CandleRecord struct {
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

// AlertEventRecord captures a fired alert for auditing.
type AlertEventRecord struct {
	ID         int64
	RuleID     string
	Symbol     string
	Comparator string
	Threshold  decimal.Decimal
	Price      decimal.Decimal
	ObservedAt time.Time
	FiredAt    time.Time
	CreatedAt  time.Time
}

// PurgeResult reports how many rows a retention sweep removed.
type PurgeResult struct {
	Prices      int64
	Candles     int64
	AlertEvents int64
}

// Stats summarises store contents.
type Stats struct {
	PriceRows  int64
	CandleRows int64
}
