// Package levels finds support and resistance price levels in a candle series.
//
// The series is scanned at every resolution from one batch up to len/minBatchSize
// batches. The highest high and lowest low of each batch vote for a price level,
// weighted by batch size plus a recency boost, and votes within the price
// tolerance of an existing level are merged into it.
package levels

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"LevelScope/internal/model"
)

const (
	DefaultMinBatchSize          = 5
	DefaultRecentLevelRate       = 16
	DefaultSignificanceThreshold = 0.3
)

var (
	ErrEmptySeries           = errors.New("empty candle series")
	ErrInvalidMinBatchSize   = errors.New("min size of batch must be positive")
	ErrInvalidPriceTolerance = errors.New("price tolerance must be positive")
	// ErrZeroTimeSpan is returned when the first and last candles fall within the same day,
	// which leaves the recency weight undefined.
	ErrZeroTimeSpan = errors.New("candle series spans zero days")
	// ErrSeriesTooShort is returned by FindLevels when no resolution could be scanned.
	ErrSeriesTooShort = errors.New("candle series shorter than min size of batch")
)

// Option configures a Detector.
type Option func(*Detector)

// WithPriceTolerance sets the clustering radius. Defaults to half the mean candle range.
func WithPriceTolerance(tolerance decimal.Decimal) Option {
	return func(d *Detector) {
		d.tolerance = tolerance
		d.toleranceSet = true
	}
}

// WithMinBatchSize sets the smallest batch size, which bounds the number of resolutions.
func WithMinBatchSize(size int) Option {
	return func(d *Detector) { d.minBatchSize = size }
}

// WithRecentLevelRate sets how strongly later extrema outweigh earlier ones.
func WithRecentLevelRate(rate int) Option {
	return func(d *Detector) { d.recentLevelRate = rate }
}

// Detector finds price levels in one candle series. The full level set is computed
// once, on the first FindLevels call, and reused by later calls.
type Detector struct {
	candles         []model.Candle
	tolerance       decimal.Decimal
	toleranceSet    bool
	minBatchSize    int
	recentLevelRate int
	from            time.Time
	to              time.Time
	spanDays        int

	once         sync.Once
	levels       []model.PriceLevel
	err          error
	computations int
}

// New creates a Detector over candles, which must be non-empty and ordered by time.
func New(candles []model.Candle, opts ...Option) (*Detector, error) {
	if len(candles) == 0 {
		return nil, ErrEmptySeries
	}

	d := &Detector{
		candles:         append([]model.Candle(nil), candles...),
		minBatchSize:    DefaultMinBatchSize,
		recentLevelRate: DefaultRecentLevelRate,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.minBatchSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMinBatchSize, d.minBatchSize)
	}
	if !d.toleranceSet {
		d.tolerance = defaultTolerance(d.candles)
	}
	if !d.tolerance.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPriceTolerance, d.tolerance)
	}

	d.from, d.to = d.candles[0].Time, d.candles[0].Time
	for _, c := range d.candles[1:] {
		if c.Time.Before(d.from) {
			d.from = c.Time
		}
		if c.Time.After(d.to) {
			d.to = c.Time
		}
	}
	d.spanDays = daysBetween(d.from, d.to)
	if d.spanDays == 0 {
		return nil, fmt.Errorf("%w: %s", ErrZeroTimeSpan, d.from.Format(time.RFC3339))
	}

	return d, nil
}

// defaultTolerance is half of the mean high-low range over the whole series.
func defaultTolerance(candles []model.Candle) decimal.Decimal {
	ranges := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		ranges[i] = c.High.Sub(c.Low)
	}
	return decimal.Avg(ranges[0], ranges[1:]...).Mul(decimal.NewFromFloat(0.5))
}

// daysBetween counts whole days from a to b.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

// PriceTolerance returns the clustering radius in use.
func (d *Detector) PriceTolerance() decimal.Decimal { return d.tolerance }

// From returns the earliest candle time.
func (d *Detector) From() time.Time { return d.from }

// To returns the latest candle time.
func (d *Detector) To() time.Time { return d.to }

// Resolutions returns the number of partitionings that will be scanned.
func (d *Detector) Resolutions() int { return len(d.candles) / d.minBatchSize }

// FindLevels returns the levels whose significance is strictly greater than threshold,
// in the order they were first detected. It fails with ErrSeriesTooShort when the
// series has fewer candles than the min size of batch.
func (d *Detector) FindLevels(threshold float64) ([]model.PriceLevel, error) {
	d.once.Do(func() {
		d.levels, d.err = d.compute()
	})
	if d.err != nil {
		return nil, d.err
	}

	out := make([]model.PriceLevel, 0, len(d.levels))
	for _, l := range d.levels {
		if l.Significance > threshold {
			out = append(out, l)
		}
	}
	return out, nil
}

func (d *Detector) compute() ([]model.PriceLevel, error) {
	d.computations++

	// Resolutions run in ascending order: matching depends on the levels already found.
	var raw []rawLevel
	for n := 1; n <= d.Resolutions(); n++ {
		for _, batch := range partition(d.candles, n) {
			high, low := extrema(batch)
			raw = d.vote(raw, high.High, high.Time, len(batch))
			raw = d.vote(raw, low.Low, low.Time, len(batch))
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %d candles, min size of batch %d",
			ErrSeriesTooShort, len(d.candles), d.minBatchSize)
	}

	maxWeight := raw[0].weight
	for _, l := range raw[1:] {
		if l.weight > maxWeight {
			maxWeight = l.weight
		}
	}

	levels := make([]model.PriceLevel, len(raw))
	for i, l := range raw {
		levels[i] = model.PriceLevel{
			Price:        l.price,
			Time:         l.time,
			Significance: l.weight / maxWeight,
		}
	}
	return levels, nil
}
