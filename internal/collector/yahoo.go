package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"LevelScope/internal/model"
)

// YahooFetcher implements Fetcher using Yahoo Finance public API.
// Yahoo has no instrument listing, so the configured tickers act as the stock
// universe and each ticker doubles as the FIGI.
type YahooFetcher struct {
	BaseURL string
	Client  *http.Client
	Tickers []string
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(tickers []string, proxyURL string) *YahooFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &YahooFetcher{
		BaseURL: "https://query1.finance.yahoo.com",
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Tickers: tickers,
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

var yahooIntervals = map[model.CandleInterval]string{
	model.Interval1Min:  "1m",
	model.Interval2Min:  "2m",
	model.Interval5Min:  "5m",
	model.Interval15Min: "15m",
	model.Interval30Min: "30m",
	model.IntervalHour:  "60m",
	model.IntervalDay:   "1d",
	model.IntervalWeek:  "1wk",
	model.IntervalMonth: "1mo",
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (f *YahooFetcher) FetchInstruments(_ context.Context, kind model.InstrumentType) ([]model.Instrument, error) {
	if kind != model.InstrumentStock {
		return nil, fmt.Errorf("yahoo instruments of kind %q: %w", kind, ErrUnsupported)
	}
	out := make([]model.Instrument, 0, len(f.Tickers))
	for _, t := range f.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		out = append(out, model.Instrument{
			FIGI:           t,
			Type:           model.InstrumentStock,
			Name:           t,
			Ticker:         t,
			Currency:       model.CurrencyUSD,
			PriceIncrement: decimal.New(1, -2),
		})
	}
	return out, nil
}

func (f *YahooFetcher) FetchCandles(ctx context.Context, figi string, interval model.CandleInterval, from, to time.Time) ([]model.Candle, error) {
	yi, ok := yahooIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("yahoo interval %q: %w", interval, ErrUnsupported)
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&period1=%d&period2=%d",
		f.BaseURL, url.PathEscape(figi), yi, from.Unix(), to.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	candles := make([]model.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, c := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			continue // null bars (holidays etc.)
		}
		t := time.Unix(ts, 0)
		if t.Before(from) || !t.Before(to) {
			continue
		}
		var volume int64
		if v := at(quote.Volume, i); v != nil {
			volume = int64(*v)
		}
		candles = append(candles, model.Candle{
			Time:   t,
			Open:   yahooPrice(*o),
			High:   yahooPrice(*h),
			Low:    yahooPrice(*l),
			Close:  yahooPrice(*c),
			Volume: volume,
		})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// yahooPrice trims float noise from the API's double-precision prices.
func yahooPrice(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(4)
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
