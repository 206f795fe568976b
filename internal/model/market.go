package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CandleInterval is the timeframe of a candle, using the brokerage API's names.
type CandleInterval string

const (
	Interval1Min  CandleInterval = "1min"
	Interval2Min  CandleInterval = "2min"
	Interval3Min  CandleInterval = "3min"
	Interval5Min  CandleInterval = "5min"
	Interval10Min CandleInterval = "10min"
	Interval15Min CandleInterval = "15min"
	Interval30Min CandleInterval = "30min"
	IntervalHour  CandleInterval = "hour"
	IntervalDay   CandleInterval = "day"
	IntervalWeek  CandleInterval = "week"
	IntervalMonth CandleInterval = "month"
)

// Valid reports whether the interval is one the brokerage understands.
func (i CandleInterval) Valid() bool {
	switch i {
	case Interval1Min, Interval2Min, Interval3Min, Interval5Min, Interval10Min,
		Interval15Min, Interval30Min, IntervalHour, IntervalDay, IntervalWeek, IntervalMonth:
		return true
	}
	return false
}

// MaxRange returns the longest period a single candle request may cover for this interval.
func (i CandleInterval) MaxRange() time.Duration {
	const day = 24 * time.Hour
	switch i {
	case IntervalHour:
		return 7 * day
	case IntervalDay:
		return 365 * day
	case IntervalWeek:
		return 2 * 365 * day
	case IntervalMonth:
		return 10 * 365 * day
	default:
		return day
	}
}

// Candle is a single OHLCV bar.
type Candle struct {
	Time   time.Time       `csv:"time"`
	Open   decimal.Decimal `csv:"open"`
	High   decimal.Decimal `csv:"high"`
	Low    decimal.Decimal `csv:"low"`
	Close  decimal.Decimal `csv:"close"`
	Volume int64           `csv:"volume"`
}

// Increasing reports whether the candle closed at or above its open.
func (c Candle) Increasing() bool {
	return c.Close.GreaterThanOrEqual(c.Open)
}
