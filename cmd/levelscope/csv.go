package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"LevelScope/internal/config"
	"LevelScope/internal/model"
	"LevelScope/internal/store"
)

var csvInterval string

var importCmd = &cobra.Command{
	Use:   "import TICKER FILE.csv",
	Short: "Import candles from a CSV file (time,open,high,low,close,volume)",
	Long: "Import candles from a CSV file with a header row of time,open,high,low,close,volume.\n" +
		"Times are RFC3339. An unknown ticker is created as a stock in the configured currency.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval := model.CandleInterval(csvInterval)
		if !interval.Valid() {
			return fmt.Errorf("unknown interval %q", csvInterval)
		}

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		var candles []model.Candle
		if err := gocsv.UnmarshalFile(f, &candles); err != nil {
			return fmt.Errorf("parse %s: %w", args[1], err)
		}

		return withStore(cmd.Context(), func(cfg *config.Config, st store.Store) error {
			ticker := strings.ToUpper(args[0])
			inst, err := st.InstrumentByTicker(cmd.Context(), ticker)
			switch {
			case errors.Is(err, store.ErrNotFound):
				created := model.Instrument{
					FIGI:           ticker,
					Type:           model.InstrumentStock,
					Name:           ticker,
					Ticker:         ticker,
					Currency:       model.Currency(cfg.Sync.Currency),
					PriceIncrement: decimal.New(1, -2),
				}
				if err := st.SaveInstruments(cmd.Context(), []model.Instrument{created}); err != nil {
					return fmt.Errorf("create instrument: %w", err)
				}
				log.Infof("created instrument %s", created)
				inst = &created
			case err != nil:
				return err
			}

			if err := st.SaveCandles(cmd.Context(), inst.FIGI, interval, candles); err != nil {
				return fmt.Errorf("save candles: %w", err)
			}
			log.Infof("imported %d %s candles for %s", len(candles), interval, inst.Ticker)
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export TICKER FILE.csv",
	Short: "Export stored candles to a CSV file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(cfg *config.Config, st store.Store) error {
			candles, err := st.Candles(cmd.Context(), store.CandleFilter{
				Ticker:   args[0],
				Interval: model.CandleInterval(csvInterval),
			})
			if err != nil {
				return err
			}

			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			if err := gocsv.MarshalFile(&candles, f); err != nil {
				return fmt.Errorf("write %s: %w", args[1], err)
			}
			log.Infof("exported %d candles to %s", len(candles), args[1])
			return f.Close()
		})
	},
}

func init() {
	importCmd.Flags().StringVar(&csvInterval, "interval", string(model.IntervalDay), "candle interval")
	exportCmd.Flags().StringVar(&csvInterval, "interval", string(model.IntervalDay), "candle interval")
}
