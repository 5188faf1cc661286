// Package scoring turns a detected setup into a feature vector, a weighted
// maturity score and a letter grade, and flags conflicts with open trades.
package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"setup-maturity/internal/market"
	"setup-maturity/internal/phase"
	"setup-maturity/internal/structure"
	"setup-maturity/internal/trades"
	"setup-maturity/internal/zone"
)

// Config groups the scoring parameters.
type Config struct {
	Weights    Weights        `mapstructure:"weights"`
	Thresholds Thresholds     `mapstructure:"thresholds"`
	Features   FeatureParams  `mapstructure:"features"`
	Conflict   ConflictConfig `mapstructure:"conflict"`
	Overrides  Overrides      `mapstructure:"overrides"`
}

// DefaultConfig returns the scoring defaults.
func DefaultConfig() Config {
	return Config{
		Weights:    DefaultWeights(),
		Thresholds: DefaultThresholds(),
		Features:   DefaultFeatureParams(),
		Conflict:   DefaultConflictConfig(),
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	for _, v := range []interface{ Validate() error }{c.Weights, c.Thresholds, c.Features, c.Conflict, c.Overrides} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Result is one scored setup.
type Result struct {
	ID         string
	Instrument string
	Timeframe  market.Timeframe
	Time       time.Time
	Direction  market.Bias
	ZoneID     string
	ZoneKind   zone.Kind
	EventID    string
	EventKind  structure.EventKind
	Features   FeatureVector
	Score      decimal.Decimal
	Grade      Grade
	Conflict   bool
	Conflicts  []Conflict
	Phase      phase.Phase
}

// Engine scores setups. It is stateless apart from its configuration.
type Engine struct {
	cfg Config
	x   extractor
}

// NewEngine validates cfg. The structure config supplies the tolerance,
// reversal and impulse parameters the formulas normalise against.
func NewEngine(cfg Config, str structure.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := str.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, x: extractor{params: cfg.Features, structure: str}}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Features computes the clamped feature vector with overrides applied.
func (e *Engine) Features(s Setup) FeatureVector {
	return e.cfg.Overrides.apply(e.x.features(s)).Clamp()
}

// ScorePlaces is the persisted precision of a score. Grading happens on the
// rounded value so every journal sink reads back the same grade.
const ScorePlaces = 6

// Score weights a clamped vector and grades it.
func (e *Engine) Score(f FeatureVector) (decimal.Decimal, Grade) {
	f = f.Clamp()
	w := e.cfg.Weights.values()
	total := decimal.Zero
	for i, v := range f.values() {
		total = total.Add(decimal.NewFromFloat(v).Mul(decimal.NewFromFloat(w[i])))
	}
	total = decimal.Min(decimal.Max(total, decimal.Zero), decimal.NewFromInt(1)).Round(ScorePlaces)
	return total, e.cfg.Thresholds.Grade(total)
}

// Evaluate scores a setup against a snapshot of open trades.
func (e *Engine) Evaluate(s Setup, open []trades.ActiveTrade) Result {
	f := e.Features(s)
	score, grade := e.Score(f)
	conflicts := DetectConflicts(e.cfg.Conflict, s.Instrument, s.Trigger.Direction, s.Trigger.Time, score, trades.Snapshot(open))

	r := Result{
		ID:         ResultID(s.Instrument, s.Trigger.Timeframe, s.Trigger.Time, s.Trigger.ID),
		Instrument: s.Instrument,
		Timeframe:  s.Trigger.Timeframe,
		Time:       s.Trigger.Time,
		Direction:  s.Trigger.Direction,
		EventID:    s.Trigger.ID,
		EventKind:  s.Trigger.Kind,
		Features:   f,
		Score:      score,
		Grade:      grade,
		Conflict:   len(conflicts) > 0,
		Conflicts:  conflicts,
		Phase:      s.Phase,
	}
	if s.Zone != nil {
		r.ZoneID = s.Zone.ID
		r.ZoneKind = s.Zone.Kind
	}
	return r
}

var resultNamespace = uuid.MustParse("3d8c2b71-5e49-4f0a-b6d2-7a1c9e4f8b35")

// ResultID is stable for the same instrument, timeframe, time and origin, so a
// re-evaluation maps onto the same journal record.
func ResultID(instrument string, tf market.Timeframe, at time.Time, origin string) string {
	key := fmt.Sprintf("%s|%s|%d|%s", strings.ToUpper(strings.TrimSpace(instrument)), tf, at.UnixNano(), origin)
	return uuid.NewSHA1(resultNamespace, []byte(key)).String()
}
