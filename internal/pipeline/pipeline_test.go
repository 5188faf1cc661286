package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"setup-maturity/internal/market"
	"setup-maturity/internal/phase"
	"setup-maturity/internal/scoring"
	"setup-maturity/internal/structure"
	"setup-maturity/internal/trades"
	"setup-maturity/internal/zone"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

// bearish leg, 2 point sweep of 94, impulsive break of 97.5
var reversalSeries = [][4]float64{
	{105, 106, 104, 105}, {105, 105.5, 102, 103}, {103, 103.5, 100, 101}, {101, 104, 101, 103.5},
	{103.5, 106, 103, 105.5}, {105.5, 108, 105, 107}, {107, 109, 106, 106.5}, {106.5, 107, 104, 104.5},
	{104.5, 105, 101, 101.5}, {101.5, 102, 95, 96}, {96, 97, 94, 94.5}, {94.5, 95, 92, 93},
	{93, 96, 93, 95.5}, {95.5, 99, 95, 98.5}, {98.5, 101, 98, 99}, {99, 100, 97, 97.5},
	{97.5, 98, 95, 95.5}, {95.5, 96, 94, 94.5}, {94.5, 97, 94.5, 96.5}, {96.5, 97.5, 96, 97},
	{97, 97.2, 95, 95.5}, {95.5, 96, 92, 93.5}, {93.5, 96.5, 93, 96}, {96, 97, 95.5, 96.8},
	{96.8, 103, 96.5, 102.5},
}

func series(tf market.Timeframe) []market.Bar {
	out := make([]market.Bar, len(reversalSeries))
	for i, v := range reversalSeries {
		out[i] = market.Bar{
			Time:      t0.Add(time.Duration(i) * tf.Duration()),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    100,
			Timeframe: tf,
		}
	}
	return out
}

func testConfig() Config {
	str := structure.DefaultConfig()
	str.PointSize = 1
	str.RangeWindow = 5
	str.History = 100
	return Config{
		Instrument:      "EURUSD",
		Base:            market.M5,
		SetupTimeframes: []market.Timeframe{market.M5},
		Structure:       str,
		Zones:           zone.DefaultConfig(),
		Scoring:         scoring.DefaultConfig(),
	}
}

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func run(t *testing.T, p *Pipeline, bars []market.Bar, open []trades.ActiveTrade) []scoring.Result {
	t.Helper()
	var out []scoring.Result
	for _, b := range bars {
		step, err := p.Process(b, open)
		if err != nil {
			t.Fatalf("process %s: %v", b.Time, err)
		}
		out = append(out, step.Results...)
	}
	return out
}

func lastResult(t *testing.T, results []scoring.Result) scoring.Result {
	t.Helper()
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	return results[len(results)-1]
}

func TestBullishReversalScenario(t *testing.T) {
	p := newPipeline(t, testConfig())
	results := run(t, p, series(market.M5), nil)

	if len(results) != 2 {
		t.Fatalf("expected the bearish BOS and the bullish CHoCH to be scored, got %d", len(results))
	}
	bos, choch := results[0], results[1]
	if bos.EventKind != structure.BOS || bos.Direction != market.Bearish {
		t.Fatalf("unexpected first result %+v", bos)
	}
	if choch.EventKind != structure.CHoCH || choch.Direction != market.Bullish {
		t.Fatalf("unexpected second result %+v", choch)
	}
	if !choch.Time.Equal(t0.Add(24 * 5 * time.Minute)) {
		t.Fatalf("result should be stamped at the trigger bar, got %s", choch.Time)
	}
	if choch.Phase != phase.AccumulationB {
		t.Fatalf("phase at the choch should be accumulation_b, got %s", choch.Phase)
	}

	var ob zone.Zone
	for _, z := range p.Zones() {
		if z.ID == choch.ZoneID {
			ob = z
		}
	}
	if choch.ZoneKind != zone.OrderBlock || ob.Low != 92 || ob.High != 96 || !ob.SweepValidated || ob.Bias != market.Bullish {
		t.Fatalf("expected a sweep-validated bullish order block [92,96], got %+v", ob)
	}

	for _, r := range results {
		for name, v := range r.Features.Map() {
			if v < 0 || v > 1 {
				t.Fatalf("%s out of range: %v", name, v)
			}
		}
		if r.Score.LessThan(decimal.Zero) || r.Score.GreaterThan(decimal.NewFromInt(1)) {
			t.Fatalf("score out of range: %s", r.Score)
		}
	}
	if choch.Features.SweepValidationStrength == 0 || choch.Features.InducementClarity == 0 {
		t.Fatalf("sweep and inducement in the leg should register, got %+v", choch.Features)
	}
}

func TestHTFBiasDrivesGrade(t *testing.T) {
	cfg := testConfig()
	cfg.Scoring.Overrides = scoring.Overrides{
		"idm_detected_clarity":      1,
		"sweep_validation_strength": 1,
		"choch_confirmation_score":  1,
		"poi_validation_score":      1,
		"tick_density_score":        1,
		"spread_stability_score":    1,
	}

	cfg.HTFBias = market.Bullish
	aligned := lastResult(t, run(t, newPipeline(t, cfg), series(market.M5), nil))
	cfg.HTFBias = market.Bearish
	opposed := lastResult(t, run(t, newPipeline(t, cfg), series(market.M5), nil))

	if aligned.Grade != scoring.GradeA || !aligned.Score.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("aligned htf should grade A at 1.0, got %s %s", aligned.Score, aligned.Grade)
	}
	if diff := aligned.Score.Sub(opposed.Score); !diff.Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("opposed htf should cost exactly 0.2, got %s", diff)
	}
	if opposed.Grade != scoring.GradeB {
		t.Fatalf("expected grade B, got %s", opposed.Grade)
	}
	if aligned.ID != opposed.ID {
		t.Fatal("same setup should map to the same result id")
	}
}

func TestConflictingTradeIsFlagged(t *testing.T) {
	p := newPipeline(t, testConfig())
	open := []trades.ActiveTrade{{ID: "s1", Instrument: "eurusd", Direction: trades.Short, OpenedAt: t0}}
	choch := lastResult(t, run(t, p, series(market.M5), open))
	if !choch.Conflict || choch.Conflicts[0].TradeID != "s1" {
		t.Fatalf("bullish setup should conflict with the open short, got %+v", choch.Conflicts)
	}
}

func TestResampledBaseMatchesNativeSeries(t *testing.T) {
	cfg := testConfig()
	cfg.Base = market.M1
	cfg.Timeframes = []market.Timeframe{market.M5}
	p := newPipeline(t, cfg)

	var minutes []market.Bar
	for _, b := range series(market.M5) {
		first := b
		first.Timeframe = market.M1
		minutes = append(minutes, first)
		for k := 1; k < 5; k++ {
			minutes = append(minutes, market.Bar{
				Time: b.Time.Add(time.Duration(k) * time.Minute), Open: b.Close, High: b.Close, Low: b.Close, Close: b.Close,
				Timeframe: market.M1,
			})
		}
	}

	results := run(t, p, minutes, nil)
	var m5 []scoring.Result
	for _, r := range results {
		if r.Timeframe == market.M5 {
			m5 = append(m5, r)
		}
	}
	if len(m5) != 2 {
		t.Fatalf("expected the two m5 setups, got %d", len(m5))
	}
	if m5[1].EventKind != structure.CHoCH || !m5[1].Time.Equal(t0.Add(24*5*time.Minute)) {
		t.Fatalf("unexpected m5 result %+v", m5[1])
	}
}

func TestMalformedBarLeavesPipelineUsable(t *testing.T) {
	p := newPipeline(t, testConfig())
	bars := series(market.M5)
	if _, err := p.Process(bars[0], nil); err != nil {
		t.Fatalf("first bar: %v", err)
	}
	if _, err := p.Process(bars[0], nil); !errors.Is(err, market.ErrMalformedSeries) {
		t.Fatalf("duplicate bar should be malformed, got %v", err)
	}
	bad := bars[1]
	bad.High = bad.Low - 1
	if _, err := p.Process(bad, nil); !errors.Is(err, market.ErrMalformedSeries) {
		t.Fatalf("inverted bar should be malformed, got %v", err)
	}
	run(t, p, bars[1:], nil)
	if len(p.Events(market.M5)) != 4 {
		t.Fatalf("expected the full event log after recovering, got %d", len(p.Events(market.M5)))
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.SetupTimeframes = []market.Timeframe{market.H1}
	if _, err := New(cfg, zerolog.Nop()); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Fatalf("setup timeframe not produced by the resampler should fail, got %v", err)
	}

	cfg = testConfig()
	cfg.Scoring.Weights.HTFBiasAlignment = 0.5
	if _, err := New(cfg, zerolog.Nop()); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Fatalf("bad weights should fail, got %v", err)
	}

	cfg = testConfig()
	cfg.Phase = phase.Table{"unknown": {{On: "SWEEP", To: "unknown"}}}
	if _, err := New(cfg, zerolog.Nop()); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Fatalf("bad phase table should fail, got %v", err)
	}
}
