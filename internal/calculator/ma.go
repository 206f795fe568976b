package calculator

import (
	"errors"

	"github.com/montanaflynn/stats"

	"LevelScope/internal/model"
)

// SMA computes the simple moving average of the last period prices.
func SMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, errors.New("not enough data for SMA calculation")
	}
	return stats.Mean(prices[len(prices)-period:])
}

// MA200 returns the 200-candle simple moving average of closes.
func MA200(candles []model.Candle) (float64, error) {
	return SMA(Closes(candles), 200)
}

// Closes extracts close prices as floats.
func Closes(candles []model.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}
	return closes
}
