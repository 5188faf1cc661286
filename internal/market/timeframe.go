package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe labels a bar resolution.
type Timeframe string

const (
	M1  Timeframe = "1m"
	M5  Timeframe = "5m"
	M15 Timeframe = "15m"
	M30 Timeframe = "30m"
	H1  Timeframe = "1h"
	H4  Timeframe = "4h"
	D1  Timeframe = "1d"
	W1  Timeframe = "1w"
)

var durations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
	W1:  7 * 24 * time.Hour,
}

// ParseTimeframe accepts labels such as "5m", "1H" or "1D".
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := durations[tf]; !ok {
		return "", fmt.Errorf("%w: unknown timeframe %q", ErrInvalidConfiguration, s)
	}
	return tf, nil
}

// ParseTimeframes parses a list and returns it sorted by duration without duplicates.
func ParseTimeframes(values []string) ([]Timeframe, error) {
	seen := make(map[Timeframe]bool, len(values))
	out := make([]Timeframe, 0, len(values))
	for _, v := range values {
		tf, err := ParseTimeframe(v)
		if err != nil {
			return nil, err
		}
		if seen[tf] {
			continue
		}
		seen[tf] = true
		out = append(out, tf)
	}
	SortTimeframes(out)
	return out, nil
}

// SortTimeframes orders timeframes from shortest to longest.
func SortTimeframes(tfs []Timeframe) {
	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Duration() < tfs[j].Duration() })
}

// Valid reports whether the label is a supported timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := durations[tf]
	return ok
}

// Duration returns the bar length, zero for unknown labels.
func (tf Timeframe) Duration() time.Duration {
	return durations[tf]
}

// Truncate returns the UTC start of the bucket containing t.
// Go truncates relative to 0001-01-01 which is a Monday, so weekly buckets open on Monday.
func (tf Timeframe) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

func (tf Timeframe) String() string {
	return string(tf)
}
