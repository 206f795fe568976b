package calculator

import (
	"errors"

	"github.com/montanaflynn/stats"
)

// RSI computes the relative strength index of prices with Wilder smoothing.
// Fewer than period+1 prices give the neutral 50.
func RSI(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) <= period {
		return 50, nil
	}

	gains := make([]float64, len(prices)-1)
	losses := make([]float64, len(prices)-1)
	for i := range gains {
		if d := prices[i+1] - prices[i]; d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	up, err := wilderAverage(gains, period)
	if err != nil {
		return 0, err
	}
	down, err := wilderAverage(losses, period)
	if err != nil {
		return 0, err
	}
	if down == 0 {
		return 100, nil
	}
	return 100 - 100/(1+up/down), nil
}

// wilderAverage seeds with the mean of the first period values, then folds in
// each later value with weight 1/period.
func wilderAverage(values []float64, period int) (float64, error) {
	avg, err := stats.Mean(values[:period])
	if err != nil {
		return 0, err
	}
	n := float64(period)
	for _, v := range values[period:] {
		avg = (avg*(n-1) + v) / n
	}
	return avg, nil
}
