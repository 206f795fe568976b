package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"LevelScope/internal/model"
)

// ErrRateLimited is returned when the API keeps answering 429 after all retries.
var ErrRateLimited = errors.New("rate limit for requests exceeded")

var errTooManyRequests = errors.New("too many requests")

// APIError is an error reported inside the API response envelope.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// BrokerClient implements Fetcher using the brokerage REST API.
type BrokerClient struct {
	BaseURL          string
	Token            string
	Client           *http.Client
	RateLimitWait    time.Duration
	RateLimitRetries int
	Location         *time.Location // zone used for request timestamps
}

// NewBrokerClient creates a client with optional proxy support.
func NewBrokerClient(baseURL, token, proxyURL string) *BrokerClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &BrokerClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		RateLimitWait:    time.Minute,
		RateLimitRetries: 2,
		Location:         time.UTC,
	}
}

func (c *BrokerClient) Name() string { return "broker" }

// envelope is the common response wrapper of the API.
type envelope struct {
	TrackingID string          `json:"trackingId"`
	Status     string          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
}

// request performs a GET and decodes the envelope payload into out.
// A 429 answer is retried after RateLimitWait, up to RateLimitRetries times.
func (c *BrokerClient) request(ctx context.Context, endpoint string, params url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, endpoint, params, out)
		if !errors.Is(err, errTooManyRequests) {
			return err
		}
		if attempt >= c.RateLimitRetries {
			return fmt.Errorf("%s: %w", endpoint, ErrRateLimited)
		}

		log.Infof("API requests limit reached, waiting %v", c.RateLimitWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.RateLimitWait):
		}
	}
}

func (c *BrokerClient) do(ctx context.Context, endpoint string, params url.Values, out any) error {
	base, err := url.Parse(strings.TrimSuffix(c.BaseURL, "/") + "/")
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	u := base.ResolveReference(&url.URL{Path: endpoint, RawQuery: params.Encode()})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errTooManyRequests
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: status %d, decode envelope: %w", endpoint, resp.StatusCode, err)
	}
	if env.Status == "Error" {
		var apiErr APIError
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err == nil {
			apiErr = APIError{Code: payload.Code, Message: payload.Message}
		}
		return fmt.Errorf("%s: %w", endpoint, &apiErr)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d, body: %s", endpoint, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%s: decode payload: %w", endpoint, err)
	}
	return nil
}

// brokerInstrument is the instrument shape of the market/* endpoints.
type brokerInstrument struct {
	FIGI              string           `json:"figi"`
	Ticker            string           `json:"ticker"`
	Name              string           `json:"name"`
	Currency          string           `json:"currency"`
	MinPriceIncrement *decimal.Decimal `json:"minPriceIncrement"`
}

var instrumentEndpoints = map[model.InstrumentType]string{
	model.InstrumentStock:    "market/stocks",
	model.InstrumentBond:     "market/bonds",
	model.InstrumentCurrency: "market/currencies",
}

// FetchInstruments lists instruments of one kind. Instruments without a
// minimum price increment are not tradable and are skipped.
func (c *BrokerClient) FetchInstruments(ctx context.Context, kind model.InstrumentType) ([]model.Instrument, error) {
	endpoint, ok := instrumentEndpoints[kind]
	if !ok {
		return nil, fmt.Errorf("instrument kind %q: %w", kind, ErrUnsupported)
	}

	var payload struct {
		Instruments []brokerInstrument `json:"instruments"`
	}
	if err := c.request(ctx, endpoint, nil, &payload); err != nil {
		return nil, err
	}

	out := make([]model.Instrument, 0, len(payload.Instruments))
	for _, bi := range payload.Instruments {
		if bi.MinPriceIncrement == nil {
			continue
		}
		out = append(out, model.Instrument{
			FIGI:           bi.FIGI,
			Type:           kind,
			Name:           bi.Name,
			Ticker:         bi.Ticker,
			Currency:       model.Currency(bi.Currency),
			PriceIncrement: *bi.MinPriceIncrement,
		})
	}
	return out, nil
}

// brokerCandle is the candle shape of the market/candles endpoint.
type brokerCandle struct {
	Open   decimal.Decimal `json:"o"`
	Close  decimal.Decimal `json:"c"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
	Volume int64           `json:"v"`
	Time   time.Time       `json:"time"`
}

// FetchCandles requests [from, to) in windows no longer than the interval allows
// and joins the pages in time order.
func (c *BrokerClient) FetchCandles(ctx context.Context, figi string, interval model.CandleInterval, from, to time.Time) ([]model.Candle, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("interval %q: %w", interval, ErrUnsupported)
	}

	seen := make(map[int64]bool)
	var out []model.Candle
	for _, w := range windows(from, to, interval.MaxRange()) {
		params := url.Values{}
		params.Set("figi", figi)
		params.Set("from", w.from.In(c.location()).Format(time.RFC3339))
		params.Set("to", w.to.In(c.location()).Format(time.RFC3339))
		params.Set("interval", string(interval))

		var payload struct {
			Candles []brokerCandle `json:"candles"`
		}
		if err := c.request(ctx, "market/candles", params, &payload); err != nil {
			return nil, fmt.Errorf("fetch candles %s [%s, %s): %w",
				figi, w.from.Format(time.DateOnly), w.to.Format(time.DateOnly), err)
		}
		for _, bc := range payload.Candles {
			if seen[bc.Time.Unix()] {
				continue
			}
			seen[bc.Time.Unix()] = true
			out = append(out, model.Candle{
				Time:   bc.Time,
				Open:   bc.Open,
				High:   bc.High,
				Low:    bc.Low,
				Close:  bc.Close,
				Volume: bc.Volume,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (c *BrokerClient) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

type window struct {
	from, to time.Time
}

// windows splits [from, to) into consecutive windows of at most size.
func windows(from, to time.Time, size time.Duration) []window {
	var out []window
	for start := from; start.Before(to); start = start.Add(size) {
		end := start.Add(size)
		if end.After(to) {
			end = to
		}
		out = append(out, window{from: start, to: end})
	}
	return out
}
