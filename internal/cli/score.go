package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"setup-maturity/internal/app"
)

var (
	scoreInstrument string
	scoreFeatures   map[string]string
	scoreNotify     bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "按给定特征值计算成熟度评分",
	Example: "  setupscore score --feature htf_bias_alignment=1 --feature sweep_validation_strength=0.8\n" +
		"  setupscore score --instrument EURUSD --feature choch_confirmation_score=1 --notify",
	RunE: func(cmd *cobra.Command, args []string) error {
		features, err := parseFeatures(scoreFeatures)
		if err != nil {
			return err
		}
		opts := app.ScoreOptions{
			Instrument: scoreInstrument,
			Features:   features,
			Notify:     scoreNotify,
		}
		return getApp().Score(cmd.Context(), opts)
	},
}

// parseFeatures converts --feature name=value pairs. Unknown names are
// rejected by the scoring package; values are clamped to [0,1].
func parseFeatures(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for name, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --feature %s=%s: %w", name, v, err)
		}
		out[strings.TrimSpace(name)] = f
	}
	return out, nil
}

func init() {
	scoreCmd.Flags().StringVar(&scoreInstrument, "instrument", "", "Instrument whose weights apply (defaults to the first configured)")
	scoreCmd.Flags().StringToStringVar(&scoreFeatures, "feature", nil, "Feature value as name=value, repeatable; missing features count as 0")
	scoreCmd.Flags().BoolVar(&scoreNotify, "notify", false, "Send the result through the alert channel")
}
