package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"setup-maturity/internal/market"
	"setup-maturity/internal/trades"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "instruments: [eurusd]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != time.Minute || cfg.Engine.Scoring.Conflict.Horizon != 4*time.Hour {
		t.Fatalf("durations not decoded: %+v %+v", cfg.Scheduler, cfg.Engine.Scoring.Conflict)
	}
	if cfg.Engine.Scoring.Weights.HTFBiasAlignment != 0.20 || cfg.Engine.Scoring.Thresholds.B != 0.70 {
		t.Fatalf("scoring defaults not applied: %+v", cfg.Engine.Scoring)
	}

	pcs, err := cfg.Pipelines()
	if err != nil {
		t.Fatalf("pipelines: %v", err)
	}
	if len(pcs) != 1 || pcs[0].Instrument != "EURUSD" || pcs[0].Base != market.M1 {
		t.Fatalf("unexpected pipeline config %+v", pcs)
	}
	if pcs[0].HTFTimeframe != market.H4 || len(pcs[0].Timeframes) != 4 {
		t.Fatalf("timeframes not expanded: %+v", pcs[0])
	}
}

func TestLoadInstrumentsAndTrades(t *testing.T) {
	body := `
instruments:
  - EURUSD
  - name: btcusdt
    point_size: 0.01
    htf_bias: bullish
feed:
  source: http
  symbols:
    EURUSD: EURUSDT
trades:
  source: static
  static:
    - id: t1
      instrument: BTCUSDT
      direction: SELL
      entry_price: 65000
      opened_at: 2024-05-06T08:00:00Z
engine:
  scoring:
    overrides:
      tick_density_score: 0.5
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	names := cfg.InstrumentNames()
	if len(names) != 2 || names[1] != "BTCUSDT" {
		t.Fatalf("instrument names %v", names)
	}
	pcs, err := cfg.Pipelines()
	if err != nil {
		t.Fatalf("pipelines: %v", err)
	}
	if pcs[1].Structure.PointSize != 0.01 || pcs[1].HTFBias != market.Bullish {
		t.Fatalf("instrument overrides not applied: %+v", pcs[1])
	}
	if pcs[0].Structure.PointSize != 0.0001 {
		t.Fatalf("default point size expected, got %v", pcs[0].Structure.PointSize)
	}
	if cfg.Symbols()["EURUSD"] != "EURUSDT" {
		t.Fatalf("symbol map %v", cfg.Symbols())
	}
	if len(cfg.Trades.Static) != 1 || cfg.Trades.Static[0].Direction != trades.Short {
		t.Fatalf("static trades should be normalized to short, got %+v", cfg.Trades.Static)
	}
	if cfg.Trades.Static[0].Direction.Bias() != market.Bearish {
		t.Fatalf("static SELL trade should carry a bearish bias, got %s", cfg.Trades.Static[0].Direction.Bias())
	}
	if !cfg.Trades.Static[0].OpenedAt.Equal(time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("opened_at %s", cfg.Trades.Static[0].OpenedAt)
	}
	if cfg.Engine.Scoring.Overrides["tick_density_score"] != 0.5 {
		t.Fatalf("overrides %v", cfg.Engine.Scoring.Overrides)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no instruments": "feed:\n  source: csv\n",
		"bad weights":    "instruments: [EURUSD]\nengine:\n  scoring:\n    weights:\n      htf_bias_alignment: 0.5\n",
		"bad thresholds": "instruments: [EURUSD]\nengine:\n  scoring:\n    thresholds:\n      b: 0.9\n",
		"bad timeframe":  "instruments: [EURUSD]\nengine:\n  base_timeframe: 7m\n",
		"unknown sink":   "instruments: [EURUSD]\njournal:\n  sinks: [kafka]\n",
		"bad phase":      "instruments: [EURUSD]\nengine:\n  phase:\n    unknown:\n      - on: SPRING\n        to: accumulation_a\n",
		"telegram":       "instruments: [EURUSD]\nalerting:\n  telegram:\n    enabled: true\n",
		"duplicate":      "instruments: [EURUSD, eurusd]\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("%s: expected invalid configuration, got %v", name, err)
		}
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SETUPSCORE_SCHEDULER_INTERVAL", "30s")
	t.Setenv("SETUPSCORE_INSTRUMENTS", "EURUSD,GBPUSD")
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("env override not applied: %s", cfg.Scheduler.Interval)
	}
	if len(cfg.Instruments) != 2 || cfg.Instruments[1].Name != "GBPUSD" {
		t.Fatalf("env instruments not decoded: %+v", cfg.Instruments)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	if cfg.ResolveMaxPoints(0) != 10 || cfg.ResolveMaxPoints(3) != 3 {
		t.Fatal("override should win only when positive")
	}
}
