package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"setup-maturity/internal/journal"
	"setup-maturity/internal/scoring"
)

// exportWindow is the default look-back when --from is omitted.
const exportWindow = 30 * 24 * time.Hour

// Export renders journaled scores as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-exportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

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

	records, err := sink.Between(ctx, opts.Instrument, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no journal records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting records")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled, a.Config.Engine.Scoring.Thresholds); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []journal.Record, max int) []journal.Record {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]journal.Record, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []journal.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"time", "instrument", "timeframe", "trigger", "direction", "zone_kind"}
	header = append(header, scoring.FeatureNames[:]...)
	header = append(header, "score", "grade", "conflict", "phase", "action", "id")
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.Time.UTC().Format(time.RFC3339),
			rec.Instrument,
			rec.Timeframe,
			rec.EventKind,
			rec.Direction,
			rec.ZoneKind,
		}
		features := rec.Features.Map()
		for _, name := range scoring.FeatureNames {
			row = append(row, strconv.FormatFloat(features[name], 'f', 4, 64))
		}
		row = append(row,
			formatDecimal(rec.ScoreDecimal(), 4),
			rec.Grade,
			strconv.FormatBool(rec.Conflict),
			rec.Phase,
			rec.Action,
			rec.ID,
		)
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path string, records []journal.Record, th scoring.Thresholds) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	score := make([]float64, len(records))
	htf := make([]float64, len(records))
	for i, rec := range records {
		x[i] = rec.Time
		score[i] = rec.ScoreDecimal().InexactFloat64()
		htf[i] = rec.Features.HTFBiasAlignment
	}
	if len(x) == 1 {
		// go-chart needs two points to build a range
		x = append(x, x[0].Add(time.Minute))
		score = append(score, score[0])
		htf = append(htf, htf[0])
	}

	level := func(v float64) []float64 {
		out := make([]float64, len(x))
		for i := range out {
			out[i] = v
		}
		return out
	}

	scoreFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	unit := chart.ContinuousRange{Min: 0, Max: 1}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Maturity score",
			ValueFormatter: scoreFormatter,
			Range:          &unit,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "HTF alignment",
			ValueFormatter: scoreFormatter,
			Range:          &unit,
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Score", XValues: x, YValues: score},
			chart.TimeSeries{Name: "Grade A", XValues: x, YValues: level(th.A), Style: thresholdStyle(chart.ColorGreen)},
			chart.TimeSeries{Name: "Grade B", XValues: x, YValues: level(th.B), Style: thresholdStyle(chart.ColorBlue)},
			chart.TimeSeries{Name: "Grade C", XValues: x, YValues: level(th.C), Style: thresholdStyle(chart.ColorOrange)},
			chart.TimeSeries{
				Name:    "HTF alignment",
				XValues: x,
				YValues: htf,
				YAxis:   chart.YAxisSecondary,
				Style:   chart.Style{StrokeColor: chart.ColorAlternateGray, StrokeWidth: 1, DotWidth: 2, DotColor: chart.ColorAlternateGray},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func thresholdStyle(c drawing.Color) chart.Style {
	return chart.Style{StrokeColor: c, StrokeWidth: 1, StrokeDashArray: []float64{5, 5}}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
