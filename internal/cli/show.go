package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"coinpeek/internal/app"
)

var (
	showAlertLimit int
	showStats      bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display latest prices and recent alert events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showAlertLimit < 0 {
			return fmt.Errorf("--alerts must not be negative")
		}

		opts := app.ShowOptions{
			AlertLimit: showAlertLimit,
			Stats:      showStats,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showAlertLimit, "alerts", 10, "Number of recent alert events to display (0 to hide)")
	showCmd.Flags().BoolVar(&showStats, "stats", false, "Print stored row counts")
}
