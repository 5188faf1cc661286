package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"setup-maturity/internal/phase"
)

// CheckConfig prints the resolved engine setup. Load has already validated it.
func (a *App) CheckConfig() error {
	return a.describe(os.Stdout)
}

func (a *App) describe(out io.Writer) error {
	pcs, err := a.Config.Pipelines()
	if err != nil {
		return err
	}
	if _, err := phase.Compile(a.Config.Engine.Phase); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Instrument\tBase\tTimeframes\tSetups\tHTF\tPoint size")
	for _, pc := range pcs {
		var tfs, setups []string
		for _, tf := range pc.Timeframes {
			tfs = append(tfs, string(tf))
		}
		for _, tf := range pc.SetupTimeframes {
			setups = append(setups, string(tf))
		}
		htf := string(pc.HTFTimeframe)
		if pc.HTFBias != "" {
			htf = "pinned " + string(pc.HTFBias)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%g\n",
			pc.Instrument, pc.Base, strings.Join(tfs, ","), strings.Join(setups, ","), orDash(htf), pc.Structure.PointSize)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	th := a.Config.Engine.Scoring.Thresholds
	fmt.Fprintf(out, "grades: A>=%.2f B>=%.2f C>=%.2f D>=%.2f\n", th.A, th.B, th.C, th.D)
	fmt.Fprintf(out, "feed=%s trades=%s journal=%s\n",
		a.Config.Feed.Source, orDash(a.Config.Trades.Source), strings.Join(a.Config.Journal.Sinks, ","))
	fmt.Fprintln(out, "configuration OK")
	return nil
}
