package model

// MarketContext holds indicators shown next to detected levels.
type MarketContext struct {
	LastClose   float64
	MA200       float64
	DailyRSI    float64
	High52w     float64
	Low52w      float64
	Position52w float64 // 0.0 ~ 1.0
}
