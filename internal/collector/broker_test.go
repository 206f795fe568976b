package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevelScope/internal/model"
)

func newTestBroker(t *testing.T, handler http.HandlerFunc) *BrokerClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewBrokerClient(srv.URL+"/openapi/", "secret", "")
	c.RateLimitWait = time.Millisecond
	return c
}

func TestBrokerClient_FetchInstruments(t *testing.T) {
	c := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openapi/market/stocks", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"trackingId":"t1","status":"Ok","payload":{"total":2,"instruments":[
			{"figi":"BBG000B9XRY4","ticker":"AAPL","name":"Apple","currency":"USD","minPriceIncrement":0.01},
			{"figi":"BBG000000001","ticker":"DEAD","name":"Untradable","currency":"USD"}
		]}}`)
	})

	got, err := c.FetchInstruments(context.Background(), model.InstrumentStock)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Ticker)
	assert.Equal(t, model.InstrumentStock, got[0].Type)
	assert.Equal(t, model.CurrencyUSD, got[0].Currency)
	assert.True(t, got[0].PriceIncrement.Equal(decimal.RequireFromString("0.01")))
}

func TestBrokerClient_ErrorEnvelope(t *testing.T) {
	c := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"trackingId":"t2","status":"Error","payload":{"message":"Bad figi","code":"VALIDATION_ERROR"}}`)
	})

	_, err := c.FetchInstruments(context.Background(), model.InstrumentBond)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Equal(t, "Bad figi", apiErr.Message)
}

func TestBrokerClient_RateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"status":"Ok","payload":{"instruments":[]}}`)
	})

	got, err := c.FetchInstruments(context.Background(), model.InstrumentCurrency)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBrokerClient_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchInstruments(context.Background(), model.InstrumentStock)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load(), "one call plus two retries")
}

func TestBrokerClient_RateLimitCancelled(t *testing.T) {
	c := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c.RateLimitWait = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.FetchInstruments(ctx, model.InstrumentStock)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBrokerClient_FetchCandlesPaginates(t *testing.T) {
	var pages []string
	c := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/openapi/market/candles", r.URL.Path)
		assert.Equal(t, "BBG000B9XRY4", q.Get("figi"))
		assert.Equal(t, "day", q.Get("interval"))
		pages = append(pages, q.Get("from")+"/"+q.Get("to"))

		from, err := time.Parse(time.RFC3339, q.Get("from"))
		assert.NoError(t, err)
		to, err := time.Parse(time.RFC3339, q.Get("to"))
		assert.NoError(t, err)
		// each page also returns the candle opening the next page
		fmt.Fprintf(w, `{"status":"Ok","payload":{"figi":"BBG000B9XRY4","interval":"day","candles":[
			{"o":11,"c":11.5,"h":12,"l":10.9,"v":900,"time":%q,"interval":"day","figi":"BBG000B9XRY4"},
			{"o":10.5,"c":11,"h":11.25,"l":10.1,"v":1200,"time":%q,"interval":"day","figi":"BBG000B9XRY4"}
		]}}`, from.Format(time.RFC3339), to.Format(time.RFC3339))
	})

	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(2, 0, 0)
	got, err := c.FetchCandles(context.Background(), "BBG000B9XRY4", model.IntervalDay, from, to)
	require.NoError(t, err)

	require.Len(t, pages, 3, "731 days at 365 days per request")
	assert.Equal(t, "2020-01-01T00:00:00Z/2020-12-31T00:00:00Z", pages[0])
	assert.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Time.Before(got[i].Time))
	}
	assert.True(t, got[0].High.Equal(decimal.RequireFromString("12")))
	assert.Equal(t, int64(900), got[0].Volume)
}

func TestWindows(t *testing.T) {
	from := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, windows(from, from, time.Hour))

	ws := windows(from, from.Add(150*time.Minute), time.Hour)
	require.Len(t, ws, 3)
	assert.Equal(t, from.Add(2*time.Hour), ws[2].from)
	assert.Equal(t, from.Add(150*time.Minute), ws[2].to)
}
