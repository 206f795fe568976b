package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"LevelScope/internal/chart"
	"LevelScope/internal/config"
	"LevelScope/internal/store"
)

var (
	chartFlags  requestFlags
	chartOutput string
	chartHover  bool
)

var chartCmd = &cobra.Command{
	Use:   "chart TICKER",
	Short: "Render candles, volume and levels of a stored instrument as SVG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(cfg *config.Config, st store.Store) error {
			req, err := chartFlags.request(cfg, args[0])
			if err != nil {
				return err
			}
			an, err := newAnalyzer(cfg, st)
			if err != nil {
				return err
			}
			res, err := an.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := chartOutput
			if out == "" {
				out = res.Instrument.Ticker + ".svg"
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer f.Close()

			if err := chart.Render(f, chart.Chart{
				Title:     res.Instrument.String(),
				Candles:   res.Candles,
				Levels:    res.Levels,
				LevelsEnd: res.LevelsEnd,
				ShowHover: chartHover,
			}); err != nil {
				return fmt.Errorf("render chart: %w", err)
			}
			log.Infof("chart with %d levels written to %s", len(res.Levels), out)
			return f.Close()
		})
	},
}

func init() {
	chartFlags.register(chartCmd.Flags())
	chartCmd.Flags().StringVarP(&chartOutput, "output", "o", "", "output file (default TICKER.svg)")
	chartCmd.Flags().BoolVar(&chartHover, "hover", false, "add candle details as hover titles")
}
