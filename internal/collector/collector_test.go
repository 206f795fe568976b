package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevelScope/internal/model"
	"LevelScope/internal/store"
)

var (
	historyStart = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	syncNow      = time.Date(2021, 1, 11, 12, 0, 0, 0, time.UTC)
)

func stock(figi, ticker string, cur model.Currency) model.Instrument {
	return model.Instrument{FIGI: figi, Type: model.InstrumentStock, Name: ticker, Ticker: ticker,
		Currency: cur, PriceIncrement: decimal.New(1, -2)}
}

func dailyCandles(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := decimal.NewFromInt(int64(100 + i))
		out[i] = model.Candle{Time: historyStart.AddDate(0, 0, i), Open: p, High: p.Add(decimal.NewFromInt(1)),
			Low: p.Sub(decimal.NewFromInt(1)), Close: p, Volume: 10}
	}
	return out
}

func newTestCollector(f Fetcher, st store.Store) *Collector {
	c := NewCollector(f, st, model.CurrencyUSD, historyStart)
	c.Now = func() time.Time { return syncNow }
	return c
}

func TestSyncInstruments_Stocks(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveInstruments(ctx, []model.Instrument{
		stock("F1", "AAPL", model.CurrencyUSD),
		stock("F2", "GONE", model.CurrencyUSD),
	}))

	f := &MockFetcher{Instruments: map[model.InstrumentType][]model.Instrument{
		model.InstrumentStock: {
			stock("F1", "AAPL", model.CurrencyUSD),
			stock("F3", "MSFT", model.CurrencyUSD),
			stock("F4", "SBER", model.CurrencyRUB),
		},
	}}

	res, err := newTestCollector(f, st).SyncInstruments(ctx, model.InstrumentStock)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Deleted)

	active, err := st.Instruments(ctx, store.InstrumentFilter{})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "AAPL", active[0].Ticker)
	assert.Equal(t, "MSFT", active[1].Ticker)

	gone, err := st.InstrumentByTicker(ctx, "GONE")
	require.NoError(t, err)
	require.NotNil(t, gone.DeletedAt)
	assert.Equal(t, syncNow, *gone.DeletedAt)
}

func TestSyncInstruments_CurrenciesAreOnlyAdded(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	usd := model.Instrument{FIGI: "BBG0013HGFT4", Type: model.InstrumentCurrency, Ticker: "USD000UTSTOM",
		Currency: model.CurrencyRUB}
	eur := model.Instrument{FIGI: "BBG0013HJJ31", Type: model.InstrumentCurrency, Ticker: "EUR_RUB__TOM",
		Currency: model.CurrencyRUB}
	require.NoError(t, st.SaveInstruments(ctx, []model.Instrument{eur}))

	f := &MockFetcher{Instruments: map[model.InstrumentType][]model.Instrument{
		model.InstrumentCurrency: {usd},
	}}
	res, err := newTestCollector(f, st).SyncInstruments(ctx, model.InstrumentCurrency)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Deleted)

	all, err := st.Instruments(ctx, store.InstrumentFilter{Type: model.InstrumentCurrency})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSyncCandles_Incremental(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveInstruments(ctx, []model.Instrument{stock("F1", "AAPL", model.CurrencyUSD)}))

	f := &MockFetcher{Candles: map[string][]model.Candle{"F1": dailyCandles(10)}}
	c := newTestCollector(f, st)

	res, err := c.SyncCandles(ctx, model.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Instruments)
	assert.Equal(t, 10, res.Candles)
	require.Len(t, f.Calls, 1)
	assert.Equal(t, historyStart, f.Calls[0].From)
	assert.Equal(t, syncNow, f.Calls[0].To)

	// the second run resumes from the last stored candle
	res, err = c.SyncCandles(ctx, model.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candles)
	require.Len(t, f.Calls, 2)
	assert.Equal(t, historyStart.AddDate(0, 0, 9), f.Calls[1].From)

	stored, err := st.Candles(ctx, store.CandleFilter{Ticker: "AAPL", Interval: model.IntervalDay})
	require.NoError(t, err)
	assert.Len(t, stored, 10)
}

func TestSyncCandles_FailuresAreSkipped(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveInstruments(ctx, []model.Instrument{stock("F1", "AAPL", model.CurrencyUSD)}))

	f := &MockFetcher{Err: errors.New("boom")}
	res, err := newTestCollector(f, st).SyncCandles(ctx, model.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, res.Failed)
	assert.Zero(t, res.Instruments)
}

func TestSyncCandles_Cancelled(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveInstruments(context.Background(), []model.Instrument{stock("F1", "AAPL", model.CurrencyUSD)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestCollector(&MockFetcher{}, st).SyncCandles(ctx, model.IntervalDay)
	assert.ErrorIs(t, err, context.Canceled)
}
