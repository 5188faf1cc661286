package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"setup-maturity/internal/app"
)

var (
	tradeID         string
	tradeInstrument string
	tradeDirection  string
	tradeEntry      float64
	tradeOpenedAt   string
	tradeExpiresAt  string
)

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "管理用于冲突检测的持仓",
}

var tradesOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Register an active trade",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := tradeOptions()
		if err != nil {
			return err
		}
		return getApp().OpenTrade(cmd.Context(), opts)
	},
}

var tradesCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Remove an active trade",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CloseTrade(cmd.Context(), app.TradeOptions{ID: tradeID, Instrument: tradeInstrument})
	},
}

var tradesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active trades for an instrument",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tradeInstrument == "" {
			return fmt.Errorf("--instrument is required")
		}
		open, err := getApp().ListTrades(cmd.Context(), tradeInstrument)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tINSTRUMENT\tDIRECTION\tENTRY\tOPENED\tEXPIRES")
		for _, t := range open {
			expires := "-"
			if !t.ExpiresAt.IsZero() {
				expires = t.ExpiresAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\t%s\n", t.ID, t.Instrument, t.Direction, t.EntryPrice,
				t.OpenedAt.UTC().Format(time.RFC3339), expires)
		}
		return w.Flush()
	},
}

func tradeOptions() (app.TradeOptions, error) {
	opts := app.TradeOptions{
		ID:         tradeID,
		Instrument: tradeInstrument,
		Direction:  tradeDirection,
		EntryPrice: tradeEntry,
	}
	if tradeOpenedAt != "" {
		v, err := time.Parse(time.RFC3339, tradeOpenedAt)
		if err != nil {
			return opts, fmt.Errorf("invalid --opened-at value: %w", err)
		}
		opts.OpenedAt = v
	}
	if tradeExpiresAt != "" {
		v, err := time.Parse(time.RFC3339, tradeExpiresAt)
		if err != nil {
			return opts, fmt.Errorf("invalid --expires-at value: %w", err)
		}
		opts.ExpiresAt = v.UTC()
	}
	return opts, nil
}

func init() {
	tradesCmd.PersistentFlags().StringVar(&tradeID, "id", "", "Trade identifier")
	tradesCmd.PersistentFlags().StringVar(&tradeInstrument, "instrument", "", "Instrument symbol")

	tradesOpenCmd.Flags().StringVar(&tradeDirection, "direction", "", "long|short (buy/sell accepted)")
	tradesOpenCmd.Flags().Float64Var(&tradeEntry, "entry-price", 0, "Entry price")
	tradesOpenCmd.Flags().StringVar(&tradeOpenedAt, "opened-at", "", "Open timestamp (RFC3339, defaults to now)")
	tradesOpenCmd.Flags().StringVar(&tradeExpiresAt, "expires-at", "", "Expiry timestamp (RFC3339, optional)")

	tradesCmd.AddCommand(tradesOpenCmd)
	tradesCmd.AddCommand(tradesCloseCmd)
	tradesCmd.AddCommand(tradesListCmd)
}
