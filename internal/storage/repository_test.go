package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"setup-maturity/internal/journal"
	"setup-maturity/internal/market"
	"setup-maturity/internal/scoring"
	"setup-maturity/internal/trades"
)

func TestUnconfiguredStore(t *testing.T) {
	var s *Store
	ctx := context.Background()
	if _, err := s.InsertJournal(ctx, journal.Record{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil store should report not configured, got %v", err)
	}
	if _, err := NewStore(nil).ActiveTrades(ctx, "EURUSD"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("store without pool should report not configured, got %v", err)
	}
	if _, _, err := NewStore(nil).TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("lock without pool should report not configured, got %v", err)
	}
}

func TestJournalRowRoundTrip(t *testing.T) {
	rec := journal.Record{
		ID:         "r1",
		Instrument: "EURUSD",
		Timeframe:  "15m",
		Time:       time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC),
		Direction:  "bullish",
		EventID:    "e1",
		EventKind:  "CHoCH",
		ZoneID:     "z1",
		ZoneKind:   "order_block",
		Features:   scoring.FeatureVector{HTFBiasAlignment: 1, POIValidation: 0.7},
		Score:      "0.725",
		Grade:      "B",
		Conflict:   true,
		Conflicts:  []scoring.Conflict{{TradeID: "s1", TradeDirection: trades.Short, Recommendation: scoring.MonitorBoth}},
		Phase:      "accumulation_b",
		RecordedAt: time.Date(2024, 5, 6, 8, 1, 0, 0, time.UTC),
	}
	row, err := toJournalRow(rec)
	if err != nil {
		t.Fatalf("to row: %v", err)
	}
	if row.Action != nil || row.ZoneID == nil || !row.Score.Equal(decimal.RequireFromString("0.725")) {
		t.Fatalf("unexpected row %+v", row)
	}
	back, err := fromJournalRow(row)
	if err != nil {
		t.Fatalf("from row: %v", err)
	}
	if back.ID != rec.ID || back.ZoneKind != rec.ZoneKind || back.Score != "0.725" || back.Features != rec.Features {
		t.Fatalf("record did not round trip: %+v", back)
	}
	if len(back.Conflicts) != 1 || back.Conflicts[0].Recommendation != scoring.MonitorBoth {
		t.Fatalf("conflicts did not round trip: %+v", back.Conflicts)
	}

	rec.Score = "high"
	if _, err := toJournalRow(rec); err == nil {
		t.Fatal("non-numeric score should fail")
	}
}

func TestParseBar(t *testing.T) {
	ts := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	bar, err := parseBar(market.M1, ts, "1.1", "1.2", "1.0", "1.15", "250", "0.00012")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bar.High != 1.2 || bar.Spread != 0.00012 || bar.Timeframe != market.M1 {
		t.Fatalf("unexpected bar %+v", bar)
	}
	if _, err := parseBar(market.M1, ts, "x", "1", "1", "1", "1", "0"); err == nil {
		t.Fatal("bad numeric should fail")
	}
}

func TestTradeFromRow(t *testing.T) {
	exp := time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)
	tr, err := tradeFromRow(TradeRow{ID: "t1", Instrument: "EURUSD", Direction: "SELL", EntryPrice: decimal.RequireFromString("1.0835"), ExpiresAt: &exp})
	if err != nil {
		t.Fatalf("from row: %v", err)
	}
	if tr.Direction != trades.Short || tr.EntryPrice != 1.0835 || !tr.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected trade %+v", tr)
	}
	if _, err := tradeFromRow(TradeRow{ID: "t2", Direction: "flat"}); err == nil {
		t.Fatal("unknown direction should fail")
	}
}

func TestMigrationFilesOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_trades.sql", "001_init.SQL", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "001_init.SQL" || filepath.Base(files[1]) != "002_trades.sql" {
		t.Fatalf("unexpected migration order %v", files)
	}

	if _, err := NewStore(nil).Migrate(context.Background(), dir); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("migrate without pool should report not configured, got %v", err)
	}
}
