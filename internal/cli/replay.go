package cli

import (
	"github.com/spf13/cobra"

	"setup-maturity/internal/app"
)

var (
	replayDir    string
	replayFrom   string
	replayTo     string
	replayDryRun bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "回放历史K线并写入评分日志",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseWindow(replayFrom, replayTo)
		if err != nil {
			return err
		}

		opts := app.ReplayOptions{
			Dir:    replayDir,
			From:   from,
			To:     to,
			DryRun: replayDryRun,
		}
		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "CSV directory to replay (defaults to feed.csv_dir)")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End timestamp (RFC3339, exclusive)")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Score without writing to the journal")
}
