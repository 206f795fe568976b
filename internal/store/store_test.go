package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevelScope/internal/model"
)

var day0 = time.Date(2021, 3, 1, 7, 0, 0, 0, time.UTC)

func testInstruments() []model.Instrument {
	return []model.Instrument{
		{FIGI: "BBG000B9XRY4", Type: model.InstrumentStock, Name: "Apple", Ticker: "AAPL",
			Currency: model.CurrencyUSD, PriceIncrement: decimal.RequireFromString("0.01")},
		{FIGI: "BBG000BPH459", Type: model.InstrumentStock, Name: "Microsoft Corporation", Ticker: "MSFT",
			Currency: model.CurrencyUSD, PriceIncrement: decimal.RequireFromString("0.01")},
		{FIGI: "BBG0013HGFT4", Type: model.InstrumentCurrency, Name: "Доллар США", Ticker: "USD000UTSTOM",
			Currency: model.CurrencyRUB, PriceIncrement: decimal.RequireFromString("0.0025")},
	}
}

func testCandle(day int, close string) model.Candle {
	c := decimal.RequireFromString(close)
	return model.Candle{
		Time:   day0.AddDate(0, 0, day),
		Open:   c.Sub(decimal.NewFromInt(1)),
		High:   c.Add(decimal.NewFromInt(2)),
		Low:    c.Sub(decimal.NewFromInt(2)),
		Close:  c,
		Volume: int64(1000 + day),
	}
}

// runStoreSuite exercises the Store contract against any implementation.
func runStoreSuite(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("instruments", func(t *testing.T) {
		require.NoError(t, s.SaveInstruments(ctx, testInstruments()))

		stocks, err := s.Instruments(ctx, InstrumentFilter{Type: model.InstrumentStock})
		require.NoError(t, err)
		require.Len(t, stocks, 2)
		assert.Equal(t, "AAPL", stocks[0].Ticker)
		assert.Equal(t, "MSFT", stocks[1].Ticker)
		assert.True(t, stocks[0].PriceIncrement.Equal(decimal.RequireFromString("0.01")))

		rub, err := s.Instruments(ctx, InstrumentFilter{Currency: model.CurrencyRUB})
		require.NoError(t, err)
		require.Len(t, rub, 1)
		assert.Equal(t, model.InstrumentCurrency, rub[0].Type)

		in, err := s.InstrumentByTicker(ctx, "aapl")
		require.NoError(t, err)
		assert.Equal(t, "BBG000B9XRY4", in.FIGI)
		assert.True(t, in.Active())

		_, err = s.InstrumentByTicker(ctx, "NOPE")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("soft delete and restore", func(t *testing.T) {
		require.NoError(t, s.SoftDeleteInstruments(ctx, []string{"BBG000BPH459"}, day0))

		active, err := s.Instruments(ctx, InstrumentFilter{Type: model.InstrumentStock})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "AAPL", active[0].Ticker)

		all, err := s.Instruments(ctx, InstrumentFilter{Type: model.InstrumentStock, IncludeDeleted: true})
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.NotNil(t, all[1].DeletedAt)
		assert.True(t, all[1].DeletedAt.Equal(day0))

		require.NoError(t, s.SaveInstruments(ctx, testInstruments()[1:2]))
		active, err = s.Instruments(ctx, InstrumentFilter{Type: model.InstrumentStock})
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("candles", func(t *testing.T) {
		figi := "BBG000B9XRY4"
		candles := []model.Candle{testCandle(0, "120.10"), testCandle(1, "121.25"), testCandle(2, "119.80")}
		require.NoError(t, s.SaveCandles(ctx, figi, model.IntervalDay, candles))

		// re-saving the same day updates it in place
		updated := testCandle(2, "118.55")
		require.NoError(t, s.SaveCandles(ctx, figi, model.IntervalDay, []model.Candle{updated}))

		got, err := s.Candles(ctx, CandleFilter{Ticker: "AAPL", Interval: model.IntervalDay})
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, c := range got {
			assert.True(t, c.Time.Equal(candles[i].Time), "candle %d out of order", i)
		}
		assert.True(t, got[1].Close.Equal(decimal.RequireFromString("121.25")))
		assert.True(t, got[2].Close.Equal(decimal.RequireFromString("118.55")))
		assert.True(t, got[2].High.Equal(decimal.RequireFromString("120.55")))
		assert.Equal(t, int64(1002), got[2].Volume)

		ranged, err := s.Candles(ctx, CandleFilter{
			Ticker:   "AAPL",
			Interval: model.IntervalDay,
			From:     day0.AddDate(0, 0, 1),
			To:       day0.AddDate(0, 0, 2),
		})
		require.NoError(t, err)
		assert.Len(t, ranged, 2)

		weekly, err := s.Candles(ctx, CandleFilter{Ticker: "AAPL", Interval: model.IntervalWeek})
		require.NoError(t, err)
		assert.Empty(t, weekly)

		latest, err := s.LatestCandleTime(ctx, figi, model.IntervalDay)
		require.NoError(t, err)
		assert.True(t, latest.Equal(day0.AddDate(0, 0, 2)))

		_, err = s.LatestCandleTime(ctx, "BBG000BPH459", model.IntervalDay)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := s.Candles(ctx, CandleFilter{Ticker: "AAPL", Interval: "2days"})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = s.Candles(ctx, CandleFilter{Interval: model.IntervalDay})
		assert.ErrorIs(t, err, ErrInvalidInput)

		err = s.SaveCandles(ctx, "", model.IntervalDay, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = s.Candles(ctx, CandleFilter{Ticker: "NOPE", Interval: model.IntervalDay})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ticker taken", func(t *testing.T) {
		clash := testInstruments()[0]
		clash.FIGI = "BBG000TAKEN1"
		assert.Error(t, s.SaveInstruments(ctx, []model.Instrument{clash}))

		in, err := s.InstrumentByTicker(ctx, "aapl")
		require.NoError(t, err)
		assert.Equal(t, "BBG000B9XRY4", in.FIGI)
	})

	t.Run("size", func(t *testing.T) {
		size, err := s.Size(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, size, int64(0))
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	runStoreSuite(t, s)
}

func TestMemoryStore_TickerUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SaveInstruments(ctx, testInstruments()))

	aapl := testInstruments()[0]
	twin := aapl
	twin.FIGI = "BBG000TWIN00"
	other := model.Instrument{FIGI: "BBG000NVDA00", Type: model.InstrumentStock, Name: "NVIDIA", Ticker: "NVDA",
		Currency: model.CurrencyUSD, PriceIncrement: decimal.RequireFromString("0.01")}

	err := s.SaveInstruments(ctx, []model.Instrument{other, twin})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.InstrumentByTicker(ctx, "NVDA")
	assert.ErrorIs(t, err, ErrNotFound, "a failed batch saves nothing")

	err = s.SaveInstruments(ctx, []model.Instrument{other, other})
	require.NoError(t, err, "the same instrument twice is an update")

	// renaming frees the old ticker
	renamed := aapl
	renamed.Ticker = "AAPL.OLD"
	require.NoError(t, s.SaveInstruments(ctx, []model.Instrument{renamed, twin}))
	in, err := s.InstrumentByTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "BBG000TWIN00", in.FIGI)
}

func TestMemoryStore_InstrumentByTickerIsDeterministic(t *testing.T) {
	s := NewMemoryStore()
	for _, figi := range []string{"F3", "F1", "F2"} {
		s.instruments[figi] = model.Instrument{FIGI: figi, Ticker: "abc"}
	}
	s.instruments["F9"] = model.Instrument{FIGI: "F9", Ticker: "ABC"}

	for range 20 {
		in, err := s.InstrumentByTicker(context.Background(), "ABC")
		require.NoError(t, err)
		assert.Equal(t, "F9", in.FIGI, "exact match wins")

		in, err = s.InstrumentByTicker(context.Background(), "Abc")
		require.NoError(t, err)
		assert.Equal(t, "F1", in.FIGI, "then the smallest FIGI")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mongo"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
