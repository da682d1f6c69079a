package cli

import (
	"github.com/spf13/cobra"

	"coinpeek/internal/app"
)

var (
	purgePriceHorizon  string
	purgeCandleHorizon string
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run one retention sweep and print deleted row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.PurgeOptions

		if purgePriceHorizon != "" {
			horizon, err := parseHorizon("--price-horizon", purgePriceHorizon)
			if err != nil {
				return err
			}
			opts.PriceHorizon = horizon
		}

		if purgeCandleHorizon != "" {
			horizon, err := parseHorizon("--candle-horizon", purgeCandleHorizon)
			if err != nil {
				return err
			}
			opts.CandleHorizon = horizon
		}

		return getApp().Purge(cmd.Context(), opts)
	},
}

func init() {
	purgeCmd.Flags().StringVar(&purgePriceHorizon, "price-horizon", "", "Override price retention horizon, e.g. 720h")
	purgeCmd.Flags().StringVar(&purgeCandleHorizon, "candle-horizon", "", "Override candle retention horizon, e.g. 2160h")
}
