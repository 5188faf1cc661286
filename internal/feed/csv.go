package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"setup-maturity/internal/market"
)

// ReadCSV parses bars with columns time,open,high,low,close[,volume[,spread]].
// time is RFC3339 or unix seconds/milliseconds. A header row is skipped.
// Rows are not reordered or repaired; the pipeline rejects malformed series.
func ReadCSV(r io.Reader, tf market.Timeframe) ([]market.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []market.Bar
	line := 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return bars, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		if line == 1 && isHeader(rec) {
			continue
		}
		if len(rec) < 5 {
			return nil, fmt.Errorf("%w: csv line %d has %d columns, want at least 5", market.ErrMalformedSeries, line, len(rec))
		}
		bar, err := parseRow(rec, tf)
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %v", market.ErrMalformedSeries, line, err)
		}
		bars = append(bars, bar)
	}
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(rec[0]))
	return first == "time" || first == "timestamp" || first == "ts" || first == "date"
}

func parseRow(rec []string, tf market.Timeframe) (market.Bar, error) {
	ts, err := parseTime(rec[0])
	if err != nil {
		return market.Bar{}, err
	}
	vals := make([]float64, 6)
	for i := 1; i < len(rec) && i <= 6; i++ {
		s := strings.TrimSpace(rec[i])
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i-1] = v
	}
	return market.Bar{
		Time:      ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Spread:    vals[5],
		Timeframe: tf,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

// LoadCSV reads one file.
func LoadCSV(path string, tf market.Timeframe) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	bars, err := ReadCSV(f, tf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// CSVSource serves bars from {dir}/{INSTRUMENT}.csv, loading each file once.
type CSVSource struct {
	dir   string
	mu    sync.Mutex
	cache map[string][]market.Bar
}

// NewCSVSource reads files from dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir, cache: make(map[string][]market.Bar)}
}

// Path returns the file backing an instrument.
func (s *CSVSource) Path(instrument string) string {
	return filepath.Join(s.dir, strings.ToUpper(strings.TrimSpace(instrument))+".csv")
}

// Fetch returns up to limit bars after the cursor.
func (s *CSVSource) Fetch(_ context.Context, instrument string, tf market.Timeframe, after time.Time, limit int) ([]market.Bar, error) {
	bars, err := s.load(instrument, tf)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Time.After(after) })
	out := bars[i:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]market.Bar(nil), out...), nil
}

func (s *CSVSource) load(instrument string, tf market.Timeframe) ([]market.Bar, error) {
	key := strings.ToUpper(instrument) + "|" + string(tf)
	s.mu.Lock()
	defer s.mu.Unlock()
	if bars, ok := s.cache[key]; ok {
		return bars, nil
	}
	bars, err := LoadCSV(s.Path(instrument), tf)
	if err != nil {
		return nil, err
	}
	s.cache[key] = bars
	return bars, nil
}

var _ Source = (*CSVSource)(nil)
