package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentType is the kind of a traded instrument.
type InstrumentType string

const (
	InstrumentStock    InstrumentType = "s"
	InstrumentBond     InstrumentType = "b"
	InstrumentCurrency InstrumentType = "c"
)

// Currency is the trading currency of an instrument.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyRUB Currency = "RUB"
	CurrencyEUR Currency = "EUR"
)

// Instrument is a tradable security identified by its FIGI.
type Instrument struct {
	FIGI           string
	Type           InstrumentType
	Name           string
	Ticker         string
	Currency       Currency
	PriceIncrement decimal.Decimal
	ImportedAt     time.Time
	DeletedAt      *time.Time
}

// Active reports whether the instrument is still listed.
func (i Instrument) Active() bool {
	return i.DeletedAt == nil
}

func (i Instrument) String() string {
	return "[" + i.Ticker + "] " + i.Name
}
