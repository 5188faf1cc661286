package market

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseTimeframe(t *testing.T) {
	cases := map[string]Timeframe{"1m": M1, "5M": M5, " 1H ": H1, "4h": H4, "1D": D1, "1w": W1}
	for in, want := range cases {
		got, err := ParseTimeframe(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", in, got, want)
		}
	}
	if _, err := ParseTimeframe("7m"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestParseTimeframesSortsAndDedupes(t *testing.T) {
	got, err := ParseTimeframes([]string{"1h", "5m", "1H", "15m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Timeframe{M5, M15, H1}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestWeeklyBucketStartsMonday(t *testing.T) {
	ts := time.Date(2024, 3, 14, 17, 30, 0, 0, time.UTC) // Thursday
	start := W1.Truncate(ts)
	if start.Weekday() != time.Monday || start.Hour() != 0 {
		t.Fatalf("weekly bucket should open Monday 00:00, got %s", start)
	}
	if !start.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected weekly bucket %s", start)
	}
}

func TestBarValidate(t *testing.T) {
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	ok := Bar{Time: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid bar rejected: %v", err)
	}

	bad := []Bar{
		{Time: ts, Open: 1, High: 0.5, Low: 2, Close: 1},
		{Time: ts, Open: 3, High: 2, Low: 0.5, Close: 1},
		{Time: ts, Open: 1, High: math.NaN(), Low: 0.5, Close: 1},
		{Time: ts, Open: 1, High: 2, Low: 0.5, Close: 1, Volume: -1},
		{Open: 1, High: 2, Low: 0.5, Close: 1},
	}
	for i, b := range bad {
		if err := b.Validate(); !errors.Is(err, ErrMalformedSeries) {
			t.Fatalf("case %d: expected malformed series, got %v", i, err)
		}
	}
}

func TestBiasOpposite(t *testing.T) {
	if Bullish.Opposite() != Bearish || Bearish.Opposite() != Bullish || Neutral.Opposite() != Neutral {
		t.Fatal("opposite mapping broken")
	}
	b, err := ParseBias("short")
	if err != nil || b != Bearish {
		t.Fatalf("short should parse as bearish, got %s %v", b, err)
	}
}
