package levels

import (
	"time"

	"github.com/shopspring/decimal"

	"LevelScope/internal/model"
)

// rawLevel is a price cluster still accumulating weight.
type rawLevel struct {
	price  decimal.Decimal // price of the first extremum, never re-averaged
	time   time.Time       // earliest contributing candle
	weight float64
}

// partition splits candles into n contiguous batches of ceil(len/n) candles.
// The last batch takes the remainder, so fewer than n batches may be returned.
func partition(candles []model.Candle, n int) [][]model.Candle {
	size := (len(candles) + n - 1) / n
	batches := make([][]model.Candle, 0, n)
	for start := 0; start < len(candles); start += size {
		batches = append(batches, candles[start:min(start+size, len(candles))])
	}
	return batches
}

// extrema returns the first candle with the highest high and the first with the lowest low.
func extrema(batch []model.Candle) (high, low model.Candle) {
	high, low = batch[0], batch[0]
	for _, c := range batch[1:] {
		if c.High.GreaterThan(high.High) {
			high = c
		}
		if c.Low.LessThan(low.Low) {
			low = c
		}
	}
	return high, low
}

// timeWeight grows linearly from 0 at the first candle to recentLevelRate at the last.
func (d *Detector) timeWeight(t time.Time) float64 {
	return float64(daysBetween(d.from, t)*d.recentLevelRate) / float64(d.spanDays)
}

// vote merges one extremum into the first level within tolerance, or starts a new level.
func (d *Detector) vote(raw []rawLevel, price decimal.Decimal, t time.Time, batchSize int) []rawLevel {
	weight := float64(batchSize) + d.timeWeight(t)

	for i := range raw {
		if price.Sub(raw[i].price).Abs().LessThan(d.tolerance) {
			raw[i].weight += weight
			if t.Before(raw[i].time) {
				raw[i].time = t
			}
			return raw
		}
	}
	return append(raw, rawLevel{price: price, time: t, weight: weight})
}
