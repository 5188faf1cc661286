package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"setup-maturity/internal/market"
	"setup-maturity/internal/policy"
	"setup-maturity/internal/scoring"
	"setup-maturity/internal/structure"
	"setup-maturity/internal/trades"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func record(id, instrument string, offset time.Duration, score string) Record {
	return Record{
		ID:         id,
		Instrument: instrument,
		Timeframe:  "5m",
		Time:       t0.Add(offset),
		Direction:  "bullish",
		EventKind:  "CHoCH",
		Features:   scoring.FeatureVector{HTFBiasAlignment: 1, SpreadStability: 0.25},
		Score:      score,
		Grade:      "B",
		Phase:      "accumulation_b",
		RecordedAt: t0,
	}
}

func TestMemoryWritesOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if ok, err := m.Append(ctx, record("a", "EURUSD", 0, "0.7")); !ok || err != nil {
		t.Fatalf("first append: %v %v", ok, err)
	}
	if ok, err := m.Append(ctx, record("a", "EURUSD", time.Minute, "0.9")); ok || err != nil {
		t.Fatalf("duplicate id must not be written: %v %v", ok, err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected one record, got %d", m.Len())
	}
	_ = m.Close()
	if _, err := m.Append(ctx, record("b", "EURUSD", 0, "0.7")); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close should fail, got %v", err)
	}
}

func TestMemoryQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i, inst := range []string{"EURUSD", "GBPUSD", "eurusd", "EURUSD"} {
		_, _ = m.Append(ctx, record(string(rune('a'+i)), inst, time.Duration(i)*time.Hour, "0.5"))
	}

	recent, _ := m.Recent(ctx, "EURUSD", 2)
	if len(recent) != 2 || recent[0].ID != "d" || recent[1].ID != "c" {
		t.Fatalf("recent should be newest first per instrument, got %+v", recent)
	}
	between, _ := m.Between(ctx, "", t0.Add(time.Hour), t0.Add(3*time.Hour))
	if len(between) != 2 || between[0].ID != "b" || between[1].ID != "c" {
		t.Fatalf("between is half open and oldest first, got %+v", between)
	}
}

func testFileSink(t *testing.T, open func(string) (*File, error), name string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", name)

	f, err := open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec := record("r1", "EURUSD", 0, "0.725")
	rec.Conflicts = []scoring.Conflict{{TradeID: "s1", TradeDirection: trades.Short, Recommendation: scoring.MonitorBoth}}
	if ok, err := f.Append(ctx, rec); !ok || err != nil {
		t.Fatalf("append: %v %v", ok, err)
	}
	if ok, _ := f.Append(ctx, rec); ok {
		t.Fatal("same id written twice in one session")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err = open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	if ok, _ := f.Append(ctx, rec); ok {
		t.Fatal("same id written twice across restarts")
	}
	if ok, _ := f.Append(ctx, record("r2", "EURUSD", time.Hour, "0.9")); !ok {
		t.Fatal("new id should be written after reopen")
	}

	got, err := f.Recent(ctx, "", 10)
	if err != nil || len(got) != 2 {
		t.Fatalf("recent: %+v %v", got, err)
	}
	old := got[1]
	if old.ID != "r1" || old.Score != "0.725" || !old.Time.Equal(t0) {
		t.Fatalf("record did not round trip: %+v", old)
	}
	if old.Features.SpreadStability != 0.25 || len(old.Conflicts) != 1 || old.Conflicts[0].TradeID != "s1" {
		t.Fatalf("nested fields did not round trip: %+v", old)
	}
}

func TestJSONLSink(t *testing.T) {
	testFileSink(t, OpenJSONL, "journal.jsonl")
}

func TestYAMLSink(t *testing.T) {
	testFileSink(t, OpenYAML, "journal.yaml")
}

func TestFilteredAndMulti(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemory(), NewMemory()
	multi, err := NewMulti(a, b)
	if err != nil {
		t.Fatalf("multi: %v", err)
	}
	f := NewFiltered(multi, false, 0.6)

	if ok, _ := f.Append(ctx, record("low", "EURUSD", 0, "0.55")); ok {
		t.Fatal("below the floor should be skipped")
	}
	if ok, _ := f.Append(ctx, record("hi", "EURUSD", 0, "0.6")); !ok {
		t.Fatal("at the floor should be written")
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Fatalf("both sinks should hold the record, got %d/%d", a.Len(), b.Len())
	}

	all := NewFiltered(NewMemory(), true, 0.9)
	if ok, _ := all.Append(ctx, record("low", "EURUSD", 0, "0.1")); !ok {
		t.Fatal("log_all keeps everything")
	}

	if _, err := NewMulti(); err == nil {
		t.Fatal("empty multi should fail")
	}
}

func TestFromResult(t *testing.T) {
	r := scoring.Result{
		ID:         "id",
		Instrument: "EURUSD",
		Timeframe:  market.M15,
		Time:       t0,
		Direction:  market.Bearish,
		EventKind:  structure.BOS,
		Score:      decimal.RequireFromString("0.700"),
		Grade:      scoring.GradeB,
	}
	rec := FromResult(r, policy.Decision{Action: policy.ExecuteReduced, Reason: "grade B"}, t0)
	if rec.Timeframe != "15m" || rec.EventKind != "BOS" || rec.Action != "EXECUTE_REDUCED" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.ScoreDecimal().Equal(decimal.NewFromFloat(0.7)) {
		t.Fatalf("score should parse back, got %s", rec.Score)
	}
}
