package collector

import (
	"context"
	"sync"
	"time"

	"LevelScope/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Instruments map[model.InstrumentType][]model.Instrument
	Candles     map[string][]model.Candle // by FIGI
	Err         error

	mu    sync.Mutex
	Calls []MockCall
}

// MockCall records one FetchCandles call.
type MockCall struct {
	FIGI     string
	From, To time.Time
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchInstruments(_ context.Context, kind model.InstrumentType) ([]model.Instrument, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Instruments[kind], nil
}

func (m *MockFetcher) FetchCandles(_ context.Context, figi string, _ model.CandleInterval, from, to time.Time) ([]model.Candle, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{FIGI: figi, From: from, To: to})
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.Candle
	for _, c := range m.Candles[figi] {
		if !c.Time.Before(from) && c.Time.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}
