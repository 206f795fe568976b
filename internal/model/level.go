package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a detected support/resistance level.
type PriceLevel struct {
	Price        decimal.Decimal
	Time         time.Time // earliest candle that contributed to the level
	Significance float64   // (0, 1], the heaviest level is exactly 1
}
