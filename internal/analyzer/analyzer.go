// Package analyzer runs the level detector over stored candles.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"LevelScope/internal/calculator"
	"LevelScope/internal/levels"
	"LevelScope/internal/model"
	"LevelScope/internal/store"
)

// ErrNoCandles is returned when the requested range holds no candles.
var ErrNoCandles = errors.New("no candles in range")

// Defaults apply to every request that does not override them.
type Defaults struct {
	Interval        model.CandleInterval
	LookbackDays    int
	PriceTolerance  decimal.Decimal // zero means the detector default
	MinBatchSize    int
	RecentLevelRate int // applied as is, zero disables the recency boost
	Threshold       float64
	Location        *time.Location
}

// Default matches the detector's own defaults over one year of daily candles.
func Default() Defaults {
	return Defaults{
		Interval:        model.IntervalDay,
		LookbackDays:    365,
		MinBatchSize:    levels.DefaultMinBatchSize,
		RecentLevelRate: levels.DefaultRecentLevelRate,
		Threshold:       levels.DefaultSignificanceThreshold,
		Location:        time.UTC,
	}
}

// Request describes one analysis. Zero fields fall back to Defaults:
// To defaults to now, From to LookbackDays before To, and the level range
// to the display range.
type Request struct {
	Ticker   string
	Interval model.CandleInterval

	From, To             time.Time
	LevelsFrom, LevelsTo time.Time

	Threshold       *float64
	PriceTolerance  *decimal.Decimal
	MinBatchSize    int
	RecentLevelRate *int // zero disables the recency boost
}

// Result holds the candles on display and the levels found in the level range.
type Result struct {
	Instrument model.Instrument
	Interval   model.CandleInterval
	Candles    []model.Candle
	Levels     []model.PriceLevel
	LevelsFrom time.Time
	LevelsEnd  time.Time
	Tolerance  decimal.Decimal
	Threshold  float64
	Context    model.MarketContext
}

// Analyzer loads candles from a Store and finds their levels.
type Analyzer struct {
	Store    store.Store
	Defaults Defaults
	Now      func() time.Time
}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer(st store.Store, defaults Defaults) *Analyzer {
	if defaults.Location == nil {
		defaults.Location = time.UTC
	}
	return &Analyzer{Store: st, Defaults: defaults, Now: time.Now}
}

// Analyze loads the display and level candles of req.Ticker, runs the detector on
// the level candles and computes the market context of the display candles.
// Both ranges are inclusive dates; the end date is extended to the end of the day.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", store.ErrInvalidInput)
	}
	inst, err := a.Store.InstrumentByTicker(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", ticker, err)
	}

	interval := req.Interval
	if interval == "" {
		interval = a.Defaults.Interval
	}
	if interval == "" {
		interval = model.IntervalDay
	}

	to := req.To
	if to.IsZero() {
		to = a.Now()
	}
	to = a.endOfDay(to)
	from := req.From
	if from.IsZero() {
		from = to.AddDate(0, 0, -max(a.Defaults.LookbackDays, 1))
	}
	from = a.startOfDay(from)

	levelsFrom, levelsTo := from, to
	if !req.LevelsFrom.IsZero() {
		levelsFrom = a.startOfDay(req.LevelsFrom)
	}
	if !req.LevelsTo.IsZero() {
		levelsTo = a.endOfDay(req.LevelsTo)
	}

	candles, err := a.Store.Candles(ctx, store.CandleFilter{Ticker: ticker, Interval: interval, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s %s [%s, %s]: %w", ticker, interval,
			from.Format(time.DateOnly), to.Format(time.DateOnly), ErrNoCandles)
	}

	levelCandles := candles
	if !levelsFrom.Equal(from) || !levelsTo.Equal(to) {
		levelCandles, err = a.Store.Candles(ctx, store.CandleFilter{
			Ticker: ticker, Interval: interval, From: levelsFrom, To: levelsTo,
		})
		if err != nil {
			return nil, fmt.Errorf("load level candles: %w", err)
		}
	}

	detector, err := levels.New(levelCandles, a.options(req)...)
	if err != nil {
		return nil, fmt.Errorf("%s levels: %w", ticker, err)
	}
	threshold := a.Defaults.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	found, err := detector.FindLevels(threshold)
	if err != nil {
		return nil, fmt.Errorf("%s levels: %w", ticker, err)
	}

	return &Result{
		Instrument: *inst,
		Interval:   interval,
		Candles:    candles,
		Levels:     found,
		LevelsFrom: detector.From(),
		LevelsEnd:  detector.To(),
		Tolerance:  detector.PriceTolerance(),
		Threshold:  threshold,
		Context:    calculator.Context(candles),
	}, nil
}

func (a *Analyzer) options(req Request) []levels.Option {
	var opts []levels.Option

	switch {
	case req.PriceTolerance != nil:
		opts = append(opts, levels.WithPriceTolerance(*req.PriceTolerance))
	case !a.Defaults.PriceTolerance.IsZero():
		opts = append(opts, levels.WithPriceTolerance(a.Defaults.PriceTolerance))
	}

	if size := firstPositive(req.MinBatchSize, a.Defaults.MinBatchSize); size > 0 {
		opts = append(opts, levels.WithMinBatchSize(size))
	}
	rate := a.Defaults.RecentLevelRate
	if req.RecentLevelRate != nil {
		rate = *req.RecentLevelRate
	}
	return append(opts, levels.WithRecentLevelRate(rate))
}

func (a *Analyzer) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(a.location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.location())
}

func (a *Analyzer) endOfDay(t time.Time) time.Time {
	y, m, d := t.In(a.location()).Date()
	return time.Date(y, m, d, 23, 59, 59, 0, a.location())
}

func (a *Analyzer) location() *time.Location {
	if a.Defaults.Location == nil {
		return time.UTC
	}
	return a.Defaults.Location
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
