package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"LevelScope/internal/model"
	"LevelScope/internal/store"
)

// Collector keeps the store in sync with the data source.
type Collector struct {
	Fetcher      Fetcher
	Store        store.Store
	Currency     model.Currency // only stocks in this currency are tracked
	HistoryStart time.Time      // first candle requested for a new instrument
	Now          func() time.Time
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, st store.Store, currency model.Currency, historyStart time.Time) *Collector {
	return &Collector{
		Fetcher:      fetcher,
		Store:        st,
		Currency:     currency,
		HistoryStart: historyStart,
		Now:          time.Now,
	}
}

// InstrumentSyncResult counts the changes made by SyncInstruments.
type InstrumentSyncResult struct {
	Kind    model.InstrumentType
	Created int
	Deleted int
}

// SyncInstruments brings the stored instruments of one kind in line with the data source.
// Stocks are filtered by currency and delisted stocks are soft-deleted; other kinds
// are only ever added.
func (c *Collector) SyncInstruments(ctx context.Context, kind model.InstrumentType) (InstrumentSyncResult, error) {
	res := InstrumentSyncResult{Kind: kind}

	fetched, err := c.Fetcher.FetchInstruments(ctx, kind)
	if err != nil {
		return res, fmt.Errorf("fetch instruments: %w", err)
	}

	listed := make(map[string]model.Instrument, len(fetched))
	for _, in := range fetched {
		if kind == model.InstrumentStock && c.Currency != "" && in.Currency != c.Currency {
			continue
		}
		listed[in.FIGI] = in
	}

	filter := store.InstrumentFilter{Type: kind}
	if kind == model.InstrumentStock {
		filter.Currency = c.Currency
	} else {
		filter.IncludeDeleted = true
	}
	stored, err := c.Store.Instruments(ctx, filter)
	if err != nil {
		return res, fmt.Errorf("load instruments: %w", err)
	}
	known := make(map[string]bool, len(stored))
	for _, in := range stored {
		known[in.FIGI] = true
	}

	var toCreate []model.Instrument
	for figi, in := range listed {
		if !known[figi] {
			toCreate = append(toCreate, in)
		}
	}
	if len(toCreate) > 0 {
		if err := c.Store.SaveInstruments(ctx, toCreate); err != nil {
			return res, fmt.Errorf("save instruments: %w", err)
		}
		res.Created = len(toCreate)
	}

	if kind == model.InstrumentStock {
		var toDelete []string
		for figi := range known {
			if _, ok := listed[figi]; !ok {
				toDelete = append(toDelete, figi)
			}
		}
		if len(toDelete) > 0 {
			if err := c.Store.SoftDeleteInstruments(ctx, toDelete, c.Now()); err != nil {
				return res, fmt.Errorf("delete instruments: %w", err)
			}
			res.Deleted = len(toDelete)
		}
	}

	if res.Created > 0 {
		log.Infof("%s instruments created: %d", kind, res.Created)
	}
	if res.Deleted > 0 {
		log.Infof("%s instruments deleted: %d", kind, res.Deleted)
	}
	return res, nil
}

// CandleSyncResult counts the work done by SyncCandles.
type CandleSyncResult struct {
	Instruments int
	Candles     int
	Failed      []string // tickers whose sync failed
}

// SyncCandles fetches new candles for every active instrument, starting from the
// latest stored candle (which is fetched again, as it may have been incomplete)
// or from HistoryStart. A failing instrument is logged and skipped.
func (c *Collector) SyncCandles(ctx context.Context, interval model.CandleInterval) (CandleSyncResult, error) {
	var res CandleSyncResult

	instruments, err := c.Store.Instruments(ctx, store.InstrumentFilter{})
	if err != nil {
		return res, fmt.Errorf("load instruments: %w", err)
	}

	now := c.Now()
	for _, in := range instruments {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		n, err := c.syncInstrumentCandles(ctx, in, interval, now)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.WithField("ticker", in.Ticker).Errorf("sync candles: %v", err)
			res.Failed = append(res.Failed, in.Ticker)
			continue
		}
		res.Instruments++
		res.Candles += n
	}
	return res, nil
}

func (c *Collector) syncInstrumentCandles(ctx context.Context, in model.Instrument, interval model.CandleInterval, now time.Time) (int, error) {
	from := c.HistoryStart
	latest, err := c.Store.LatestCandleTime(ctx, in.FIGI, interval)
	switch {
	case err == nil:
		from = latest
	case !errors.Is(err, store.ErrNotFound):
		return 0, fmt.Errorf("latest candle: %w", err)
	}
	if !from.Before(now) {
		return 0, nil
	}

	candles, err := c.Fetcher.FetchCandles(ctx, in.FIGI, interval, from, now)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	if err := c.Store.SaveCandles(ctx, in.FIGI, interval, candles); err != nil {
		return 0, fmt.Errorf("save candles: %w", err)
	}
	log.WithField("ticker", in.Ticker).Debugf("saved %d %s candles", len(candles), interval)
	return len(candles), nil
}
