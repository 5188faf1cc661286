package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"setup-maturity/internal/alerting"
	"setup-maturity/internal/journal"
	"setup-maturity/internal/pipeline"
	"setup-maturity/internal/policy"
	"setup-maturity/internal/scoring"
)

// Score grades a hand-entered feature vector with the configured weights and
// optionally pushes it through the alert channel.
func (a *App) Score(ctx context.Context, opts ScoreOptions) error {
	pcs, err := a.Config.Pipelines()
	if err != nil {
		return err
	}
	pc := pcs[0]
	if opts.Instrument != "" {
		found := false
		for _, c := range pcs {
			if strings.EqualFold(c.Instrument, opts.Instrument) {
				pc, found = c, true
			}
		}
		if !found {
			return fmt.Errorf("instrument %s is not configured", opts.Instrument)
		}
	}

	f, err := scoring.FeatureVectorFromMap(opts.Features)
	if err != nil {
		return err
	}
	p, err := pipeline.New(pc, a.Logger)
	if err != nil {
		return err
	}
	pol, err := policy.New(a.Config.Policy)
	if err != nil {
		return err
	}

	result := p.Score(f)
	result.Time = time.Now().UTC()
	decision := pol.Decide(result)
	if err := printScore(os.Stdout, result, decision); err != nil {
		return err
	}

	if !opts.Notify {
		return nil
	}
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}
	note := alerting.FromRecord(journal.FromResult(result, decision, result.Time), a.Config.Alerting.Channels)
	note.EventKind = "manual"
	note.AdditionalMsg = "(test alert)"
	return notifier.Notify(ctx, note)
}

func printScore(out io.Writer, r scoring.Result, d policy.Decision) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	features := r.Features.Map()
	for _, name := range scoring.FeatureNames {
		fmt.Fprintf(writer, "%s\t%.4f\n", name, features[name])
	}
	fmt.Fprintf(writer, "score\t%s\n", formatDecimal(r.Score, 4))
	fmt.Fprintf(writer, "grade\t%s\n", r.Grade)
	fmt.Fprintf(writer, "action\t%s (%s)\n", d.Action, d.Reason)
	return writer.Flush()
}
