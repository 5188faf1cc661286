package trades

import (
	"context"
	"testing"
	"time"

	"setup-maturity/internal/market"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func TestCoversOpenEndedAndExpired(t *testing.T) {
	open := ActiveTrade{OpenedAt: t0}
	if !open.Covers(t0.Add(48*time.Hour), t0.Add(50*time.Hour)) {
		t.Fatal("open-ended trade should cover any later window")
	}
	if open.Covers(t0.Add(-2*time.Hour), t0.Add(-time.Hour)) {
		t.Fatal("trade opened after the window must not cover it")
	}

	expired := ActiveTrade{OpenedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	if expired.Covers(t0.Add(2*time.Hour), t0.Add(3*time.Hour)) {
		t.Fatal("expired trade must not cover a later window")
	}
	if !expired.Covers(t0.Add(time.Hour), t0.Add(2*time.Hour)) {
		t.Fatal("window touching the expiry still overlaps")
	}
}

func TestStaticProviderMatchesInstrumentLoosely(t *testing.T) {
	p := NewStaticProvider([]ActiveTrade{
		{ID: "b", Instrument: "eurusd ", Direction: Long, OpenedAt: t0.Add(time.Minute)},
		{ID: "a", Instrument: "EURUSD", Direction: Short, OpenedAt: t0},
		{ID: "c", Instrument: "GBPUSD", Direction: Long, OpenedAt: t0},
	})
	got, err := p.ActiveTrades(context.Background(), "EurUsd")
	if err != nil {
		t.Fatalf("active trades: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected trades %+v", got)
	}
}

func TestDecodeTrades(t *testing.T) {
	fields := map[string]string{
		"t2": `{"direction":"short","entry_price":1.1,"opened_at":"2024-05-06T09:00:00Z"}`,
		"t1": `{"id":"t1","instrument":"EURUSD","direction":"long","opened_at":"2024-05-06T08:00:00Z","expires_at":"2024-05-06T12:00:00Z"}`,
	}
	got, err := decodeTrades("EURUSD", fields)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != "t1" || got[1].ID != "t2" {
		t.Fatalf("trades should be ordered by open time, got %+v", got)
	}
	if got[1].Instrument != "EURUSD" || got[1].Direction.Bias() != market.Bearish {
		t.Fatalf("missing fields should be filled from the key, got %+v", got[1])
	}

	if _, err := decodeTrades("EURUSD", map[string]string{"x": `{"direction":"sideways"}`}); err == nil {
		t.Fatal("unknown direction should fail")
	}
	if _, err := decodeTrades("EURUSD", map[string]string{"x": `{`}); err == nil {
		t.Fatal("bad json should fail")
	}
}

func TestDirectionSpellingsNormalize(t *testing.T) {
	fields := map[string]string{
		"t1": `{"direction":"LONG","opened_at":"2024-05-06T08:00:00Z"}`,
		"t2": `{"direction":"sell","opened_at":"2024-05-06T09:00:00Z"}`,
	}
	got, err := decodeTrades("EURUSD", fields)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got[0].Direction != Long || got[1].Direction != Short {
		t.Fatalf("directions should be stored normalized, got %q %q", got[0].Direction, got[1].Direction)
	}

	cases := map[Direction]market.Bias{
		"long": market.Bullish, "LONG": market.Bullish, " Buy ": market.Bullish,
		"short": market.Bearish, "SELL": market.Bearish, "sideways": market.Neutral, "": market.Neutral,
	}
	for d, want := range cases {
		if got := d.Bias(); got != want {
			t.Fatalf("%q: got %s want %s", d, got, want)
		}
	}
}
