package scoring

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"setup-maturity/internal/market"
	"setup-maturity/internal/phase"
	"setup-maturity/internal/structure"
	"setup-maturity/internal/trades"
	"setup-maturity/internal/zone"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func structureConfig() structure.Config {
	cfg := structure.DefaultConfig()
	cfg.PointSize = 1
	cfg.RangeWindow = 5
	cfg.History = 100
	return cfg
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, structureConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func uniform(v float64) FeatureVector {
	var f FeatureVector
	for i := 0; i < featureCount; i++ {
		f.set(i, v)
	}
	return f
}

func TestWeightsMustSumToOne(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights: %v", err)
	}
	w := DefaultWeights()
	w.TickDensity = 0.2
	if err := w.Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Fatalf("sum 1.1 should be rejected, got %v", err)
	}
	w = DefaultWeights()
	w.TickDensity += 5e-7
	if err := w.Validate(); err != nil {
		t.Fatalf("drift within 1e-6 is allowed: %v", err)
	}
	w = DefaultWeights()
	w.HTFBiasAlignment = -0.1
	w.POIValidation = 0.5
	if err := w.Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Fatalf("negative weight should be rejected, got %v", err)
	}
}

func TestThresholdsMustDescend(t *testing.T) {
	bad := []Thresholds{
		{A: 0.7, B: 0.7, C: 0.5, D: 0},
		{A: 0.9, B: 0.6, C: 0.7, D: 0},
		{A: 1.2, B: 0.7, C: 0.5, D: 0},
		{A: 0.9, B: 0.7, C: 0.5, D: 0.5},
	}
	for _, th := range bad {
		if err := th.Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
			t.Fatalf("%+v should be rejected, got %v", th, err)
		}
	}
}

func TestGradeBoundaries(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	cases := []struct {
		v    float64
		want Grade
	}{
		{1, GradeA},
		{0.85, GradeA},
		{0.8499, GradeB},
		{0.70, GradeB},
		{0.6999, GradeC},
		{0.55, GradeC},
		{0.5499, GradeD},
		{0, GradeD},
	}
	for _, c := range cases {
		score, grade := e.Score(uniform(c.v))
		if !score.Equal(decimal.NewFromFloat(c.v)) {
			t.Fatalf("uniform %v should score exactly %v, got %s", c.v, c.v, score)
		}
		if grade != c.want {
			t.Fatalf("score %v: got %s want %s", c.v, grade, c.want)
		}
	}
}

func TestGradeIsMonotonic(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	prev := 0
	for i := 0; i <= 100; i++ {
		_, g := e.Score(uniform(float64(i) / 100))
		if g.Rank() < prev {
			t.Fatalf("grade dropped at %d: %s", i, g)
		}
		prev = g.Rank()
	}
}

func TestPositiveDCutoffLeavesUngraded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds.D = 0.3
	e := newEngine(t, cfg)
	if _, g := e.Score(uniform(0.2)); g != Ungraded {
		t.Fatalf("below the D cutoff should be ungraded, got %s", g)
	}
}

func TestScoreClampsFeatures(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	f := FeatureVector{HTFBiasAlignment: 3, InducementClarity: -1, SweepValidationStrength: math.NaN()}
	score, _ := e.Score(f)
	if !score.Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("only the clamped htf feature should count, got %s", score)
	}
	if c := f.Clamp(); c.HTFBiasAlignment != 1 || c.InducementClarity != 0 || c.SweepValidationStrength != 0 {
		t.Fatalf("clamp gave %+v", c)
	}
}

func TestFeatureMapRoundTrip(t *testing.T) {
	f := FeatureVector{HTFBiasAlignment: 1, SpreadStability: 0.25}
	back, err := FeatureVectorFromMap(f.Map())
	if err != nil || back != f {
		t.Fatalf("round trip got %+v, %v", back, err)
	}
	if _, err := FeatureVectorFromMap(map[string]float64{"volatility": 1}); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Fatalf("unknown feature should be rejected, got %v", err)
	}
	if err := (Overrides{"tick_density_score": 1.5}).Validate(); !errors.Is(err, market.ErrInvalidConfiguration) {
		t.Fatalf("override above one should be rejected, got %v", err)
	}
}

func bullishSetup() Setup {
	sweep := structure.Event{
		ID: "sweep", Kind: structure.Sweep, Direction: market.Bullish, Timeframe: market.M5,
		Time: t0.Add(20 * time.Minute), Penetration: 1.5, BarsToReverse: 1, RejectionRatio: 0.5, VolumeRatio: 2,
	}
	idm := sweep
	idm.ID, idm.Kind, idm.Touches = "idm", structure.Inducement, 2
	choch := structure.Event{
		ID: "choch", Kind: structure.CHoCH, Direction: market.Bullish, Timeframe: market.M5,
		Time: t0.Add(40 * time.Minute), ImpulseRatio: 3, VolumeRatio: 1, Momentum: 3,
	}

	var bars []market.Bar
	for i := 0; i <= 8; i++ {
		bars = append(bars, market.Bar{
			Time: t0.Add(time.Duration(i) * 5 * time.Minute), Open: 100, High: 101, Low: 99, Close: 100,
			Volume: 10, Spread: 2, Timeframe: market.M5,
		})
	}
	bars[4].Low = 90
	bars[8].Volume = 30
	bars[8].High = 110

	z := zone.Zone{ID: "z1", Kind: zone.OrderBlock, Low: 92, High: 96, Bias: market.Bullish, Mitigation: zone.Unmitigated, SweepValidated: true}
	return Setup{
		Instrument: "EURUSD",
		Trigger:    choch,
		Leg:        []structure.Event{sweep, idm, choch},
		Zone:       &z,
		Confluence: 1,
		HTFBias:    market.Bullish,
		Phase:      phase.AccumulationB,
		Bars:       bars,
	}
}

func TestFeatureFormulas(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	f := e.Features(bullishSetup())

	near := func(name string, got, want float64) {
		t.Helper()
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("%s: got %v want %v", name, got, want)
		}
	}
	near("htf", f.HTFBiasAlignment, 1)
	near("idm", f.InducementClarity, 1)
	// tolerance 3, reversal bars 3: 0.4*0.5 + 0.3*0.75 + 0.3*0.5
	near("sweep", f.SweepValidationStrength, 0.575)
	// impulse 3 over 2*1.5, no volume spike, full momentum
	near("choch", f.CHoCHConfirmation, 0.7)
	// fresh, validated, confluence 1 + discount + accumulation
	near("poi", f.POIValidation, 1)
	near("density", f.TickDensity, 1)
	near("spread", f.SpreadStability, 1)
}

func TestFeaturesWithoutEvidence(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	s := bullishSetup()
	s.Trigger.Kind = structure.BOS
	s.Leg = []structure.Event{s.Trigger}
	s.Zone = nil
	s.HTFBias = market.Neutral
	for i := range s.Bars {
		s.Bars[i].Volume = 0
		s.Bars[i].Spread = 0
	}
	f := e.Features(s)
	want := FeatureVector{HTFBiasAlignment: 0.5, TickDensity: 0.5, SpreadStability: 0.5}
	if f != want {
		t.Fatalf("got %+v want %+v", f, want)
	}
}

func TestHTFOppositionCostsExactlyItsWeight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overrides = Overrides{
		"idm_detected_clarity":      1,
		"sweep_validation_strength": 1,
		"choch_confirmation_score":  1,
		"poi_validation_score":      1,
		"tick_density_score":        1,
		"spread_stability_score":    1,
	}
	e := newEngine(t, cfg)

	s := bullishSetup()
	aligned := e.Evaluate(s, nil)
	s.HTFBias = market.Bearish
	opposed := e.Evaluate(s, nil)

	if aligned.Grade != GradeA || !aligned.Score.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("aligned setup: %s %s", aligned.Score, aligned.Grade)
	}
	diff := aligned.Score.Sub(opposed.Score)
	if !diff.Equal(decimal.NewFromFloat(cfg.Weights.HTFBiasAlignment)) {
		t.Fatalf("difference should equal the htf weight, got %s", diff)
	}
	if opposed.Grade != GradeB {
		t.Fatalf("0.80 should grade B, got %s", opposed.Grade)
	}
	if aligned.ID != opposed.ID {
		t.Fatal("result id depends only on instrument, timeframe, time and origin")
	}
}

func TestConflictIsAdvisory(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	s := bullishSetup()
	clean := e.Evaluate(s, nil)

	open := []trades.ActiveTrade{
		{ID: "short-1", Instrument: "eurusd", Direction: trades.Short, OpenedAt: t0},
		{ID: "long-1", Instrument: "EURUSD", Direction: trades.Long, OpenedAt: t0},
		{ID: "short-gbp", Instrument: "GBPUSD", Direction: trades.Short, OpenedAt: t0},
		{ID: "short-old", Instrument: "EURUSD", Direction: trades.Short, OpenedAt: t0.Add(-3 * time.Hour), ExpiresAt: t0},
		{ID: "short-later", Instrument: "EURUSD", Direction: trades.Short, OpenedAt: t0.Add(5 * time.Hour)},
	}
	r := e.Evaluate(s, open)
	if !r.Conflict || len(r.Conflicts) != 1 || r.Conflicts[0].TradeID != "short-1" {
		t.Fatalf("expected a single conflict with short-1, got %+v", r.Conflicts)
	}
	if !r.Score.Equal(clean.Score) || r.Grade != clean.Grade {
		t.Fatal("conflicts must not change score or grade")
	}
}

func TestConflictRecommendation(t *testing.T) {
	cfg := DefaultConflictConfig()
	open := []trades.ActiveTrade{{ID: "l", Instrument: "XAUUSD", Direction: trades.Long, OpenedAt: t0}}
	cases := map[float64]Recommendation{
		0.9:  ReviewActiveTrade,
		0.8:  ReviewActiveTrade,
		0.75: MonitorBoth,
		0.7:  MonitorBoth,
		0.4:  IgnoreNewSetup,
	}
	for v, want := range cases {
		got := DetectConflicts(cfg, "XAUUSD", market.Bearish, t0.Add(time.Hour), decimal.NewFromFloat(v), open)
		if len(got) != 1 || got[0].Recommendation != want {
			t.Fatalf("score %v: got %+v want %s", v, got, want)
		}
	}
	if got := DetectConflicts(cfg, "XAUUSD", market.Bullish, t0, decimal.NewFromInt(1), open); len(got) != 0 {
		t.Fatalf("same direction is not a conflict: %+v", got)
	}
}

func TestConflictAcceptsDirectionSpellings(t *testing.T) {
	cfg := DefaultConflictConfig()
	open := []trades.ActiveTrade{
		{ID: "sell-1", Instrument: "EURUSD", Direction: "sell", OpenedAt: t0},
		{ID: "upper-short", Instrument: "EURUSD", Direction: "SHORT", OpenedAt: t0},
		{ID: "upper-long", Instrument: "EURUSD", Direction: "LONG", OpenedAt: t0},
	}
	got := DetectConflicts(cfg, "EURUSD", market.Bullish, t0.Add(time.Hour), decimal.NewFromFloat(0.9), open)
	if len(got) != 2 || got[0].TradeID != "sell-1" || got[1].TradeID != "upper-short" {
		t.Fatalf("sell and SHORT trades should both conflict with a bullish setup, got %+v", got)
	}
	if got[0].TradeDirection != trades.Short {
		t.Fatalf("conflict should report the normalized direction, got %q", got[0].TradeDirection)
	}
	got = DetectConflicts(cfg, "EURUSD", market.Bearish, t0.Add(time.Hour), decimal.NewFromFloat(0.9), open)
	if len(got) != 1 || got[0].TradeID != "upper-long" {
		t.Fatalf("LONG trade should conflict with a bearish setup, got %+v", got)
	}
}

func TestSilentTriggerBarHasNoDensity(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	s := bullishSetup()
	s.Bars[len(s.Bars)-1].Volume = 0
	if f := e.Features(s); f.TickDensity != 0 {
		t.Fatalf("zero volume against a traded history should score 0, got %v", f.TickDensity)
	}

	for i := range s.Bars {
		s.Bars[i].Volume = 0
	}
	if f := e.Features(s); f.TickDensity != 0.5 {
		t.Fatalf("no volume history at all should stay neutral, got %v", f.TickDensity)
	}
}

func TestScoreIsGradedAtStoredPrecision(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	score, grade := e.Score(uniform(0.6999996))
	if !score.Equal(decimal.NewFromFloat(0.7)) {
		t.Fatalf("score should round to %d places, got %s", ScorePlaces, score)
	}
	if grade != GradeB {
		t.Fatalf("the rounded 0.70 should grade B, got %s", grade)
	}

	score, _ = e.Score(uniform(0.123456789))
	if score.Exponent() < -ScorePlaces {
		t.Fatalf("score carries more than %d places: %s", ScorePlaces, score)
	}
}
