package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"setup-maturity/internal/journal"
)

// Show prints recent journal records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	sink, err := a.openJournal(store, false)
	if err != nil {
		return err
	}
	defer sink.Close()

	records, err := sink.Recent(ctx, opts.Instrument, opts.Limit)
	if err != nil {
		return err
	}
	return printRecords(os.Stdout, records)
}

func printRecords(out io.Writer, records []journal.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no setups journaled")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tInstrument\tTF\tTrigger\tDirection\tZone\tScore\tGrade\tPhase\tAction\tConflicts")

	for _, rec := range records {
		var conflicts []string
		for _, c := range rec.Conflicts {
			conflicts = append(conflicts, sanitizeInline(c.TradeID+":"+string(c.Recommendation)))
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Time.UTC().Format(time.RFC3339),
			rec.Instrument,
			rec.Timeframe,
			rec.EventKind,
			rec.Direction,
			orDash(rec.ZoneKind),
			formatDecimal(rec.ScoreDecimal(), 3),
			rec.Grade,
			rec.Phase,
			orDash(rec.Action),
			orDash(strings.Join(conflicts, ",")),
		)
	}

	return writer.Flush()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
