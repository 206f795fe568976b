// Package store persists instruments and candles.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LevelScope/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when arguments fail validation before reaching storage.
	ErrInvalidInput = errors.New("invalid input")
)

// InstrumentFilter narrows an instrument listing. Zero fields match everything.
type InstrumentFilter struct {
	Type           model.InstrumentType
	Currency       model.Currency
	IncludeDeleted bool
}

func (f InstrumentFilter) match(i model.Instrument) bool {
	if f.Type != "" && i.Type != f.Type {
		return false
	}
	if f.Currency != "" && i.Currency != f.Currency {
		return false
	}
	return f.IncludeDeleted || i.Active()
}

// CandleFilter selects the candles of one instrument and interval.
// From and To are inclusive; a zero value leaves that side open.
type CandleFilter struct {
	Ticker   string
	Interval model.CandleInterval
	From     time.Time
	To       time.Time
}

func (f CandleFilter) validate() error {
	if f.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidInput)
	}
	if !f.Interval.Valid() {
		return fmt.Errorf("%w: unknown interval %q", ErrInvalidInput, f.Interval)
	}
	return nil
}

func (f CandleFilter) match(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	return f.To.IsZero() || !t.After(f.To)
}

// Store persists instruments and their candles.
type Store interface {
	// SaveInstruments inserts new instruments and refreshes existing ones, clearing DeletedAt.
	SaveInstruments(ctx context.Context, instruments []model.Instrument) error
	SoftDeleteInstruments(ctx context.Context, figis []string, at time.Time) error
	// Instruments lists instruments ordered by ticker.
	Instruments(ctx context.Context, filter InstrumentFilter) ([]model.Instrument, error)
	InstrumentByTicker(ctx context.Context, ticker string) (*model.Instrument, error)

	// SaveCandles upserts candles keyed by (instrument, interval, time).
	SaveCandles(ctx context.Context, figi string, interval model.CandleInterval, candles []model.Candle) error
	// Candles returns matching candles in ascending time order.
	Candles(ctx context.Context, filter CandleFilter) ([]model.Candle, error)
	// LatestCandleTime returns ErrNotFound when the instrument has no candles.
	LatestCandleTime(ctx context.Context, figi string, interval model.CandleInterval) (time.Time, error)

	// Size reports the storage footprint in bytes.
	Size(ctx context.Context) (int64, error)
	Close() error
}

// Options selects and configures a Store implementation.
type Options struct {
	Driver      string // "sqlite", "postgres" or "memory"
	SQLitePath  string
	PostgresDSN string
}

// Open creates the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "sqlite", "":
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresDSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidInput, opts.Driver)
	}
}

func validateCandles(figi string, interval model.CandleInterval) error {
	if figi == "" {
		return fmt.Errorf("%w: figi is required", ErrInvalidInput)
	}
	if !interval.Valid() {
		return fmt.Errorf("%w: unknown interval %q", ErrInvalidInput, interval)
	}
	return nil
}
