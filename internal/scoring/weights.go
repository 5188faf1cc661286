package scoring

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"setup-maturity/internal/market"
)

const weightTolerance = 1e-6

// Weights are the per-feature multipliers. They must sum to one.
type Weights struct {
	HTFBiasAlignment        float64 `mapstructure:"htf_bias_alignment"`
	InducementClarity       float64 `mapstructure:"idm_detected_clarity"`
	SweepValidationStrength float64 `mapstructure:"sweep_validation_strength"`
	CHoCHConfirmation       float64 `mapstructure:"choch_confirmation_score"`
	POIValidation           float64 `mapstructure:"poi_validation_score"`
	TickDensity             float64 `mapstructure:"tick_density_score"`
	SpreadStability         float64 `mapstructure:"spread_stability_score"`
}

// DefaultWeights favours HTF alignment and POI quality.
func DefaultWeights() Weights {
	return Weights{
		HTFBiasAlignment:        0.20,
		InducementClarity:       0.10,
		SweepValidationStrength: 0.15,
		CHoCHConfirmation:       0.15,
		POIValidation:           0.20,
		TickDensity:             0.10,
		SpreadStability:         0.10,
	}
}

func (w Weights) values() [featureCount]float64 {
	return [featureCount]float64{
		w.HTFBiasAlignment,
		w.InducementClarity,
		w.SweepValidationStrength,
		w.CHoCHConfirmation,
		w.POIValidation,
		w.TickDensity,
		w.SpreadStability,
	}
}

// Validate requires every weight in [0,1] and a sum of 1 within 1e-6.
func (w Weights) Validate() error {
	sum := 0.0
	for i, v := range w.values() {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: weight %s=%v outside [0,1]", market.ErrInvalidConfiguration, FeatureNames[i], v)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, want 1.0", market.ErrInvalidConfiguration, sum)
	}
	return nil
}

// Grade is the letter bucket of a score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	// Ungraded is only reachable with a positive D cutoff.
	Ungraded Grade = "-"
)

// Rank orders grades, higher is better.
func (g Grade) Rank() int {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	default:
		return 0
	}
}

// ParseGrade accepts A-D, case-insensitive.
func ParseGrade(s string) (Grade, error) {
	switch g := Grade(s); g {
	case GradeA, GradeB, GradeC, GradeD:
		return g, nil
	case "a", "b", "c", "d":
		return Grade(string(s[0] - 'a' + 'A')), nil
	default:
		return "", fmt.Errorf("%w: unknown grade %q", market.ErrInvalidConfiguration, s)
	}
}

// Thresholds are the inclusive lower bounds of each grade.
type Thresholds struct {
	A float64 `mapstructure:"a"`
	B float64 `mapstructure:"b"`
	C float64 `mapstructure:"c"`
	D float64 `mapstructure:"d"`
}

// DefaultThresholds grade everything below C as D.
func DefaultThresholds() Thresholds {
	return Thresholds{A: 0.85, B: 0.70, C: 0.55, D: 0}
}

// Validate requires cutoffs in [0,1] and strictly descending A > B > C > D.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"a": t.A, "b": t.B, "c": t.C, "d": t.D} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: grade threshold %s=%v outside [0,1]", market.ErrInvalidConfiguration, name, v)
		}
	}
	if !(t.A > t.B && t.B > t.C && t.C > t.D) {
		return fmt.Errorf("%w: grade thresholds must descend strictly from A to D", market.ErrInvalidConfiguration)
	}
	return nil
}

// Grade maps a score to its band. Bounds are inclusive.
func (t Thresholds) Grade(score decimal.Decimal) Grade {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromFloat(t.A)):
		return GradeA
	case score.GreaterThanOrEqual(decimal.NewFromFloat(t.B)):
		return GradeB
	case score.GreaterThanOrEqual(decimal.NewFromFloat(t.C)):
		return GradeC
	case score.GreaterThanOrEqual(decimal.NewFromFloat(t.D)):
		return GradeD
	default:
		return Ungraded
	}
}
