package collector

import (
	"context"
	"errors"
	"time"

	"LevelScope/internal/model"
)

// ErrUnsupported is returned when a fetcher cannot serve a request kind.
var ErrUnsupported = errors.New("not supported by this data source")

// Fetcher defines the interface for fetching market data.
type Fetcher interface {
	FetchInstruments(ctx context.Context, kind model.InstrumentType) ([]model.Instrument, error)
	// FetchCandles returns candles in [from, to) ordered by time.
	FetchCandles(ctx context.Context, figi string, interval model.CandleInterval, from, to time.Time) ([]model.Candle, error)
	Name() string
}
