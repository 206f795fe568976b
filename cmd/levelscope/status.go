package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"LevelScope/internal/config"
	"LevelScope/internal/model"
	"LevelScope/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored instruments and the store size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(cfg *config.Config, st store.Store) error {
			ctx := cmd.Context()
			instruments, err := st.Instruments(ctx, store.InstrumentFilter{})
			if err != nil {
				return err
			}
			size, err := st.Size(ctx)
			if err != nil {
				return err
			}

			counts := make(map[model.InstrumentType]int)
			for _, in := range instruments {
				counts[in.Type]++
			}
			fmt.Printf("Store: %s (%d bytes)\n", cfg.Database.Driver, size)
			fmt.Printf("Active instruments: %d (stocks %d, bonds %d, currencies %d)\n", len(instruments),
				counts[model.InstrumentStock], counts[model.InstrumentBond], counts[model.InstrumentCurrency])

			for _, ticker := range cfg.Watchlist {
				inst, err := st.InstrumentByTicker(ctx, ticker)
				if errors.Is(err, store.ErrNotFound) {
					fmt.Printf("  %-8s not synced\n", ticker)
					continue
				} else if err != nil {
					return err
				}
				latest, err := st.LatestCandleTime(ctx, inst.FIGI, model.IntervalDay)
				switch {
				case errors.Is(err, store.ErrNotFound):
					fmt.Printf("  %-8s no candles\n", ticker)
				case err != nil:
					return err
				default:
					fmt.Printf("  %-8s last candle %s\n", ticker, latest.Format(time.DateOnly))
				}
			}
			return nil
		})
	},
}
