package calculator

import (
	"errors"

	"LevelScope/internal/model"
)

// tradingYear is the number of daily candles in 52 weeks.
const tradingYear = 252

// YearRange scans the most recent 252 candles and returns the high and low.
func YearRange(candles []model.Candle) (high, low float64, err error) {
	if len(candles) == 0 {
		return 0, 0, errors.New("no candles provided")
	}
	start := max(len(candles)-tradingYear, 0)
	h, l := candles[start].High, candles[start].Low
	for _, c := range candles[start+1:] {
		if c.High.GreaterThan(h) {
			h = c.High
		}
		if c.Low.LessThan(l) {
			l = c.Low
		}
	}
	return h.InexactFloat64(), l.InexactFloat64(), nil
}

// RangePosition returns where current sits within [low, high] (0.0~1.0).
func RangePosition(current, high, low float64) (float64, error) {
	if high == low {
		return 0.5, nil
	}
	if high < low {
		return 0, errors.New("high must be >= low")
	}
	pos := (current - low) / (high - low)
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos, nil
}

// Context computes the indicators shown next to detected levels. Indicators that
// cannot be computed fall back to neutral values.
func Context(candles []model.Candle) model.MarketContext {
	var ctx model.MarketContext
	if len(candles) == 0 {
		return ctx
	}
	ctx.LastClose = candles[len(candles)-1].Close.InexactFloat64()

	if ma, err := MA200(candles); err == nil {
		ctx.MA200 = ma
	} else {
		ctx.MA200 = ctx.LastClose
	}
	ctx.DailyRSI, _ = RSI(Closes(candles), 14)

	ctx.High52w, ctx.Low52w, _ = YearRange(candles)
	if pos, err := RangePosition(ctx.LastClose, ctx.High52w, ctx.Low52w); err == nil {
		ctx.Position52w = pos
	} else {
		ctx.Position52w = 0.5
	}
	return ctx
}
