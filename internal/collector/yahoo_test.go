package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevelScope/internal/model"
)

func TestYahooFetcher_FetchCandles(t *testing.T) {
	from := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprintf(w, `{"chart":{"result":[{"meta":{"currency":"USD"},
			"timestamp":[%d,%d,%d],
			"indicators":{"quote":[{
				"open":[169.28,null,170.1],
				"high":[170.45,null,171.2],
				"low":[168.64,null,169.5],
				"close":[169.59,null,170.9],
				"volume":[52472900,null,48000000]
			}]}}],"error":null}}`,
			from.Add(13*time.Hour).Unix(), from.Add(37*time.Hour).Unix(), from.Add(61*time.Hour).Unix())
	}))
	defer srv.Close()

	f := NewYahooFetcher([]string{"AAPL"}, "")
	f.BaseURL = srv.URL

	got, err := f.FetchCandles(context.Background(), "AAPL", model.IntervalDay, from, from.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, got, 2, "null bars are skipped")
	assert.True(t, got[0].Close.Equal(decimal.RequireFromString("169.59")))
	assert.Equal(t, int64(52472900), got[0].Volume)

	_, err = f.FetchCandles(context.Background(), "AAPL", model.Interval3Min, from, from.AddDate(0, 0, 5))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestYahooFetcher_FetchInstruments(t *testing.T) {
	f := NewYahooFetcher([]string{" msft", "AAPL"}, "")

	got, err := f.FetchInstruments(context.Background(), model.InstrumentStock)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "MSFT", got[0].Ticker)
	assert.Equal(t, "MSFT", got[0].FIGI)

	_, err = f.FetchInstruments(context.Background(), model.InstrumentBond)
	assert.ErrorIs(t, err, ErrUnsupported)
}
