package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"setup-maturity/internal/app"
)

var (
	showInstrument string
	showLimit      int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent journal records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Instrument: showInstrument,
			Limit:      showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showInstrument, "instrument", "", "Only show this instrument")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
