package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"setup-maturity/internal/market"
	"setup-maturity/internal/phase"
	"setup-maturity/internal/structure"
	"setup-maturity/internal/zone"
)

const featureCount = 7

// FeatureNames are the journal keys of the feature vector, in vector order.
var FeatureNames = [featureCount]string{
	"htf_bias_alignment",
	"idm_detected_clarity",
	"sweep_validation_strength",
	"choch_confirmation_score",
	"poi_validation_score",
	"tick_density_score",
	"spread_stability_score",
}

// FeatureVector holds the seven normalized maturity features.
type FeatureVector struct {
	HTFBiasAlignment        float64 `json:"htf_bias_alignment" yaml:"htf_bias_alignment"`
	InducementClarity       float64 `json:"idm_detected_clarity" yaml:"idm_detected_clarity"`
	SweepValidationStrength float64 `json:"sweep_validation_strength" yaml:"sweep_validation_strength"`
	CHoCHConfirmation       float64 `json:"choch_confirmation_score" yaml:"choch_confirmation_score"`
	POIValidation           float64 `json:"poi_validation_score" yaml:"poi_validation_score"`
	TickDensity             float64 `json:"tick_density_score" yaml:"tick_density_score"`
	SpreadStability         float64 `json:"spread_stability_score" yaml:"spread_stability_score"`
}

func (f FeatureVector) values() [featureCount]float64 {
	return [featureCount]float64{
		f.HTFBiasAlignment,
		f.InducementClarity,
		f.SweepValidationStrength,
		f.CHoCHConfirmation,
		f.POIValidation,
		f.TickDensity,
		f.SpreadStability,
	}
}

func (f *FeatureVector) set(i int, v float64) {
	switch i {
	case 0:
		f.HTFBiasAlignment = v
	case 1:
		f.InducementClarity = v
	case 2:
		f.SweepValidationStrength = v
	case 3:
		f.CHoCHConfirmation = v
	case 4:
		f.POIValidation = v
	case 5:
		f.TickDensity = v
	case 6:
		f.SpreadStability = v
	}
}

// Clamp bounds every entry to [0,1]; NaN becomes 0.
func (f FeatureVector) Clamp() FeatureVector {
	var out FeatureVector
	for i, v := range f.values() {
		out.set(i, clamp01(v))
	}
	return out
}

// Map returns the vector keyed by FeatureNames.
func (f FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, featureCount)
	for i, v := range f.values() {
		out[FeatureNames[i]] = v
	}
	return out
}

func featureIndex(name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range FeatureNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// FeatureVectorFromMap builds a vector from named values. Missing names are 0.
func FeatureVectorFromMap(m map[string]float64) (FeatureVector, error) {
	var f FeatureVector
	for name, v := range m {
		i, ok := featureIndex(name)
		if !ok {
			return FeatureVector{}, fmt.Errorf("%w: unknown feature %q", market.ErrInvalidConfiguration, name)
		}
		f.set(i, v)
	}
	return f, nil
}

// Overrides pin individual features to fixed values, for calibration runs.
type Overrides map[string]float64

// Validate checks names and ranges.
func (o Overrides) Validate() error {
	for name, v := range o {
		if _, ok := featureIndex(name); !ok {
			return fmt.Errorf("%w: unknown feature override %q", market.ErrInvalidConfiguration, name)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: feature override %s=%v outside [0,1]", market.ErrInvalidConfiguration, name, v)
		}
	}
	return nil
}

func (o Overrides) apply(f FeatureVector) FeatureVector {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if i, ok := featureIndex(name); ok {
			f.set(i, o[name])
		}
	}
	return f
}

// FeatureParams tune the feature formulas.
type FeatureParams struct {
	VolumeSpikeMultiplier float64 `mapstructure:"volume_spike_multiplier"`
	DensityWindow         int     `mapstructure:"density_window"`
	SpreadWindow          int     `mapstructure:"spread_window"`
	MinSpreadSamples      int     `mapstructure:"min_spread_samples"`
}

// DefaultFeatureParams returns the feature defaults.
func DefaultFeatureParams() FeatureParams {
	return FeatureParams{
		VolumeSpikeMultiplier: 1.5,
		DensityWindow:         20,
		SpreadWindow:          25,
		MinSpreadSamples:      5,
	}
}

// Validate checks windows and multipliers.
func (p FeatureParams) Validate() error {
	switch {
	case p.VolumeSpikeMultiplier <= 0:
		return fmt.Errorf("%w: scoring.features.volume_spike_multiplier must be positive", market.ErrInvalidConfiguration)
	case p.DensityWindow < 1:
		return fmt.Errorf("%w: scoring.features.density_window must be at least 1", market.ErrInvalidConfiguration)
	case p.SpreadWindow < 2:
		return fmt.Errorf("%w: scoring.features.spread_window must be at least 2", market.ErrInvalidConfiguration)
	case p.MinSpreadSamples < 2 || p.MinSpreadSamples > p.SpreadWindow:
		return fmt.Errorf("%w: scoring.features.min_spread_samples must be in [2, spread_window]", market.ErrInvalidConfiguration)
	}
	return nil
}

// Setup is everything known about a candidate at its trigger bar.
type Setup struct {
	Instrument string
	// Trigger is the BOS or CHoCH that completed the setup.
	Trigger structure.Event
	// Leg holds the events of the current leg, Trigger last.
	Leg []structure.Event
	// Zone is the preferred POI formed by Trigger, nil when none formed.
	Zone *zone.Zone
	// Confluence counts overlapping same-bias zones on other timeframes.
	Confluence int
	HTFBias    market.Bias
	Phase      phase.Phase
	// Bars is the setup timeframe history ending at the trigger bar.
	Bars []market.Bar
}

// extractor computes raw features from a Setup.
type extractor struct {
	params    FeatureParams
	structure structure.Config
}

func (x extractor) features(s Setup) FeatureVector {
	dir := s.Trigger.Direction
	f := FeatureVector{
		HTFBiasAlignment:        htfAlignment(s.HTFBias, dir),
		InducementClarity:       x.inducement(s.Leg),
		SweepValidationStrength: x.sweep(s.Leg),
		CHoCHConfirmation:       x.choch(s.Trigger, s.Leg),
		POIValidation:           x.poi(s),
		TickDensity:             x.tickDensity(s.Bars),
		SpreadStability:         x.spreadStability(s.Bars),
	}
	return f.Clamp()
}

func htfAlignment(htf, dir market.Bias) float64 {
	switch htf {
	case market.Neutral, "":
		return 0.5
	case dir:
		return 1
	default:
		return 0
	}
}

func lastOf(leg []structure.Event, kind structure.EventKind) (structure.Event, bool) {
	for i := len(leg) - 1; i >= 0; i-- {
		if leg[i].Kind == kind {
			return leg[i], true
		}
	}
	return structure.Event{}, false
}

func (x extractor) inducement(leg []structure.Event) float64 {
	ev, ok := lastOf(leg, structure.Inducement)
	if !ok {
		return 0
	}
	score := 0.4
	if ev.Touches >= 2 {
		score += 0.3
	}
	if ev.VolumeRatio >= x.params.VolumeSpikeMultiplier {
		score += 0.3
	}
	return score
}

func (x extractor) sweep(leg []structure.Event) float64 {
	ev, ok := lastOf(leg, structure.Sweep)
	if !ok {
		return 0
	}
	depth := 1.0
	if tol := x.structure.Tolerance(); tol > 0 {
		depth = math.Min(ev.Penetration/tol, 1)
	}
	speed := 1 - float64(ev.BarsToReverse)/float64(x.structure.SweepReversalBars+1)
	return 0.4*depth + 0.3*clamp01(speed) + 0.3*clamp01(ev.RejectionRatio)
}

func (x extractor) choch(trigger structure.Event, leg []structure.Event) float64 {
	ev := trigger
	if ev.Kind != structure.CHoCH {
		var ok bool
		if ev, ok = lastOf(leg, structure.CHoCH); !ok {
			return 0
		}
	}
	score := 0.5 * math.Min(ev.ImpulseRatio/(2*x.structure.ImpulseThreshold), 1)
	if ev.VolumeRatio >= x.params.VolumeSpikeMultiplier {
		score += 0.3
	}
	score += 0.2 * math.Min(float64(ev.Momentum)/3, 1)
	return score
}

func (x extractor) poi(s Setup) float64 {
	if s.Zone == nil {
		return 0
	}
	z := *s.Zone
	score := 0.0
	switch z.Mitigation {
	case zone.Unmitigated:
		score += 0.4
	case zone.PartiallyMitigated:
		score += 0.2
	}
	if z.SweepValidated {
		score += 0.3
	}

	confluence := s.Confluence
	if inDiscount(z, s) {
		confluence++
	}
	if fam := s.Phase.Family(); fam != market.Neutral && fam == z.Bias {
		confluence++
	}
	score += 0.3 * math.Min(float64(confluence)/3, 1)
	return score
}

// inDiscount reports a bullish zone below, or a bearish zone above, the
// equilibrium of the dealing range that produced the trigger.
func inDiscount(z zone.Zone, s Setup) bool {
	from := s.Trigger.Time
	if len(s.Leg) > 0 {
		from = s.Leg[0].Time
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, b := range s.Bars {
		if b.Time.Before(from) || b.Time.After(s.Trigger.Time) {
			continue
		}
		lo = math.Min(lo, b.Low)
		hi = math.Max(hi, b.High)
	}
	if math.IsInf(lo, 0) || hi <= lo {
		return false
	}
	eq := (lo + hi) / 2
	if z.Bias == market.Bullish {
		return z.Mid() <= eq
	}
	return z.Mid() >= eq
}

func (x extractor) tickDensity(bars []market.Bar) float64 {
	if len(bars) < 2 {
		return 0.5
	}
	last := bars[len(bars)-1]
	prior := bars[max(len(bars)-1-x.params.DensityWindow, 0) : len(bars)-1]
	sum := 0.0
	for _, b := range prior {
		sum += b.Volume
	}
	avg := sum / float64(len(prior))
	if avg <= 0 {
		return 0.5
	}
	return math.Min(math.Log1p(math.Max(last.Volume, 0)/avg)/math.Log1p(3), 1)
}

func (x extractor) spreadStability(bars []market.Bar) float64 {
	window := bars[max(len(bars)-x.params.SpreadWindow, 0):]
	var samples []float64
	for _, b := range window {
		if b.Spread > 0 {
			samples = append(samples, b.Spread)
		}
	}
	if len(samples) < x.params.MinSpreadSamples {
		return 0.5
	}
	mean := 0.0
	for _, v := range samples {
		mean += v
	}
	mean /= float64(len(samples))
	variance := 0.0
	for _, v := range samples {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(samples))
	cv := math.Sqrt(variance) / mean
	return 1 / (1 + 2*cv)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
