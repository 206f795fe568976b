package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"LevelScope/internal/model"
)

type candleKey struct {
	figi     string
	interval model.CandleInterval
}

// MemoryStore is an in-memory Store for tests and throwaway runs.
type MemoryStore struct {
	mu          sync.RWMutex
	instruments map[string]model.Instrument
	candles     map[candleKey]map[int64]model.Candle
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instruments: make(map[string]model.Instrument),
		candles:     make(map[candleKey]map[int64]model.Candle),
	}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) SaveInstruments(_ context.Context, instruments []model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// tickers are unique like in the SQL stores, and a failed batch saves nothing
	owner := make(map[string]string, len(s.instruments)+len(instruments))
	for figi, in := range s.instruments {
		owner[in.Ticker] = figi
	}
	for _, in := range instruments {
		if in.FIGI == "" {
			return fmt.Errorf("%w: figi is required", ErrInvalidInput)
		}
		if prev, ok := s.instruments[in.FIGI]; ok && owner[prev.Ticker] == in.FIGI {
			delete(owner, prev.Ticker)
		}
		if figi, ok := owner[in.Ticker]; ok && figi != in.FIGI {
			return fmt.Errorf("%w: ticker %s is taken by %s", ErrInvalidInput, in.Ticker, figi)
		}
		owner[in.Ticker] = in.FIGI
	}

	now := time.Now()
	for _, in := range instruments {
		if prev, ok := s.instruments[in.FIGI]; ok {
			in.ImportedAt = prev.ImportedAt
		} else if in.ImportedAt.IsZero() {
			in.ImportedAt = now
		}
		in.DeletedAt = nil
		s.instruments[in.FIGI] = in
	}
	return nil
}

func (s *MemoryStore) SoftDeleteInstruments(_ context.Context, figis []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, figi := range figis {
		in, ok := s.instruments[figi]
		if !ok {
			continue
		}
		deletedAt := at
		in.DeletedAt = &deletedAt
		s.instruments[figi] = in
	}
	return nil
}

func (s *MemoryStore) Instruments(_ context.Context, filter InstrumentFilter) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Instrument
	for _, in := range s.instruments {
		if filter.match(in) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (s *MemoryStore) InstrumentByTicker(_ context.Context, ticker string) (*model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byTicker(ticker)
}

// byTicker prefers an exact match, then the smallest FIGI among case-insensitive matches.
func (s *MemoryStore) byTicker(ticker string) (*model.Instrument, error) {
	var found *model.Instrument
	for _, in := range s.instruments {
		if !strings.EqualFold(in.Ticker, ticker) {
			continue
		}
		switch {
		case found == nil:
			found = &in
		case (in.Ticker == ticker) != (found.Ticker == ticker):
			if in.Ticker == ticker {
				found = &in
			}
		case in.FIGI < found.FIGI:
			found = &in
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) SaveCandles(_ context.Context, figi string, interval model.CandleInterval, candles []model.Candle) error {
	if err := validateCandles(figi, interval); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := candleKey{figi: figi, interval: interval}
	series, ok := s.candles[key]
	if !ok {
		series = make(map[int64]model.Candle)
		s.candles[key] = series
	}
	for _, c := range candles {
		series[c.Time.Unix()] = c
	}
	return nil
}

func (s *MemoryStore) Candles(_ context.Context, filter CandleFilter) ([]model.Candle, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	in, err := s.byTicker(filter.Ticker)
	if err != nil {
		return nil, err
	}

	var out []model.Candle
	for _, c := range s.candles[candleKey{figi: in.FIGI, interval: filter.Interval}] {
		if filter.match(c.Time) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *MemoryStore) LatestCandleTime(_ context.Context, figi string, interval model.CandleInterval) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	for _, c := range s.candles[candleKey{figi: figi, interval: interval}] {
		if c.Time.After(latest) {
			latest = c.Time
		}
	}
	if latest.IsZero() {
		return time.Time{}, ErrNotFound
	}
	return latest, nil
}

// Size is not tracked for the in-memory store.
func (s *MemoryStore) Size(context.Context) (int64, error) { return 0, nil }

func (s *MemoryStore) Close() error { return nil }
