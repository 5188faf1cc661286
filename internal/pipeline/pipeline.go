// Package pipeline wires resampler, structure detectors, zone manager, phase
// machine and scorer for a single instrument.
package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"setup-maturity/internal/market"
	"setup-maturity/internal/phase"
	"setup-maturity/internal/resample"
	"setup-maturity/internal/scoring"
	"setup-maturity/internal/structure"
	"setup-maturity/internal/trades"
	"setup-maturity/internal/zone"
)

// Config is the validated, immutable setup of one pipeline.
type Config struct {
	Instrument string
	Base       market.Timeframe
	// Timeframes are derived from Base by resampling.
	Timeframes []market.Timeframe
	// SetupTimeframes are scored when a BOS or CHoCH fires on them.
	SetupTimeframes []market.Timeframe
	// HTFTimeframe supplies the higher-timeframe trend; empty means neutral.
	HTFTimeframe market.Timeframe
	// HTFBias pins the higher-timeframe bias instead of reading it from HTFTimeframe.
	HTFBias        market.Bias
	PhaseTimeframe market.Timeframe
	Structure      structure.Config
	Zones          zone.Config
	Phase          phase.Table
	Scoring        scoring.Config
}

func (c Config) all() []market.Timeframe {
	out := append([]market.Timeframe{c.Base}, c.Timeframes...)
	market.SortTimeframes(out)
	return out
}

// Validate checks that every referenced timeframe is produced by the pipeline.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Instrument) == "" {
		return fmt.Errorf("%w: instrument is required", market.ErrInvalidConfiguration)
	}
	if !c.Base.Valid() {
		return fmt.Errorf("%w: unknown base timeframe %q", market.ErrInvalidConfiguration, c.Base)
	}
	all := c.all()
	if len(c.SetupTimeframes) == 0 {
		return fmt.Errorf("%w: at least one setup timeframe is required", market.ErrInvalidConfiguration)
	}
	for _, tf := range c.SetupTimeframes {
		if !slices.Contains(all, tf) {
			return fmt.Errorf("%w: setup timeframe %s is not produced from base %s", market.ErrInvalidConfiguration, tf, c.Base)
		}
	}
	if c.HTFTimeframe != "" && !slices.Contains(all, c.HTFTimeframe) {
		return fmt.Errorf("%w: htf timeframe %s is not produced from base %s", market.ErrInvalidConfiguration, c.HTFTimeframe, c.Base)
	}
	if c.PhaseTimeframe != "" && !slices.Contains(all, c.PhaseTimeframe) {
		return fmt.Errorf("%w: phase timeframe %s is not produced from base %s", market.ErrInvalidConfiguration, c.PhaseTimeframe, c.Base)
	}
	switch c.HTFBias {
	case "", market.Bullish, market.Bearish, market.Neutral:
	default:
		return fmt.Errorf("%w: unknown htf bias %q", market.ErrInvalidConfiguration, c.HTFBias)
	}
	return nil
}

// Step is everything one base bar produced.
type Step struct {
	Closed      []market.Bar
	Events      []structure.Event
	Zones       []zone.Zone
	Transitions []phase.Transition
	Results     []scoring.Result
}

// Pipeline evaluates one instrument. It is not safe for concurrent use.
type Pipeline struct {
	cfg       Config
	log       zerolog.Logger
	resampler *resample.Resampler
	detectors map[market.Timeframe]*structure.Detector
	zones     *zone.Manager
	machine   *phase.Machine
	engine    *scoring.Engine
}

// New validates cfg and builds every component.
func New(cfg Config, logger zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PhaseTimeframe == "" {
		cfg.PhaseTimeframe = cfg.SetupTimeframes[0]
	}

	rs, err := resample.New(cfg.Base, cfg.Timeframes)
	if err != nil {
		return nil, err
	}
	detectors := make(map[market.Timeframe]*structure.Detector)
	for _, tf := range cfg.all() {
		d, err := structure.NewDetector(cfg.Instrument, tf, cfg.Structure)
		if err != nil {
			return nil, err
		}
		detectors[tf] = d
	}
	zm, err := zone.NewManager(cfg.Instrument, cfg.Zones, cfg.Structure.PointSize)
	if err != nil {
		return nil, err
	}
	table, err := phase.Compile(cfg.Phase)
	if err != nil {
		return nil, err
	}
	engine, err := scoring.NewEngine(cfg.Scoring, cfg.Structure)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		log:       logger.With().Str("component", "pipeline").Str("instrument", cfg.Instrument).Logger(),
		resampler: rs,
		detectors: detectors,
		zones:     zm,
		machine:   phase.NewMachine(table),
		engine:    engine,
	}, nil
}

// Instrument returns the configured symbol.
func (p *Pipeline) Instrument() string { return p.cfg.Instrument }

// Base returns the input timeframe.
func (p *Pipeline) Base() market.Timeframe { return p.cfg.Base }

// Phase returns the current phase state.
func (p *Pipeline) Phase() phase.State { return p.machine.State() }

// Zones returns every zone formed so far.
func (p *Pipeline) Zones() []zone.Zone { return p.zones.Zones() }

// Events returns the retained structure log of a timeframe.
func (p *Pipeline) Events(tf market.Timeframe) []structure.Event {
	if d, ok := p.detectors[tf]; ok {
		return d.Events()
	}
	return nil
}

// Trend returns the prevailing trend of a timeframe.
func (p *Pipeline) Trend(tf market.Timeframe) market.Bias {
	if d, ok := p.detectors[tf]; ok {
		return d.Trend()
	}
	return market.Neutral
}

// Process feeds one base bar. open is the caller's view of active trades and
// is copied before scoring. Malformed input returns market.ErrMalformedSeries
// and leaves the pipeline unchanged.
func (p *Pipeline) Process(bar market.Bar, open []trades.ActiveTrade) (Step, error) {
	if bar.Timeframe == "" {
		bar.Timeframe = p.cfg.Base
	}
	closed, err := p.resampler.Push(bar)
	if err != nil {
		return Step{}, fmt.Errorf("%s: %w", p.cfg.Instrument, err)
	}

	step := Step{Closed: closed}
	var triggers []structure.Event
	for _, b := range append([]market.Bar{bar}, closed...) {
		step.Zones = append(step.Zones, p.zones.Update(b)...)

		d := p.detectors[b.Timeframe]
		events, err := d.Process(b)
		if err != nil {
			return step, fmt.Errorf("%s: %w", p.cfg.Instrument, err)
		}
		for _, ev := range events {
			step.Events = append(step.Events, ev)
			step.Zones = append(step.Zones, p.zones.OnEvent(ev, d.Bars())...)
			if ev.Timeframe == p.cfg.PhaseTimeframe {
				step.Transitions = append(step.Transitions, p.machine.Apply(ev)...)
			}
			if ev.Kind.IsBreak() && slices.Contains(p.cfg.SetupTimeframes, ev.Timeframe) {
				triggers = append(triggers, ev)
			}
			p.log.Debug().
				Str("tf", string(ev.Timeframe)).
				Str("kind", string(ev.Kind)).
				Str("direction", string(ev.Direction)).
				Float64("level", ev.Level).
				Time("at", ev.Time).
				Msg("structure event")
		}
	}
	for _, tr := range step.Transitions {
		p.log.Info().Str("from", string(tr.From)).Str("to", string(tr.To)).Time("at", tr.At).Msg("phase transition")
	}

	snapshot := trades.Snapshot(open)
	for _, ev := range triggers {
		step.Results = append(step.Results, p.evaluate(ev, snapshot))
	}
	return step, nil
}

func (p *Pipeline) evaluate(ev structure.Event, open []trades.ActiveTrade) scoring.Result {
	d := p.detectors[ev.Timeframe]
	setup := scoring.Setup{
		Instrument: p.cfg.Instrument,
		Trigger:    ev,
		Leg:        d.Leg(ev),
		HTFBias:    p.htfBias(),
		Phase:      p.machine.State().Phase,
		Bars:       d.Bars(),
	}
	if z, ok := p.zones.Best(ev.ID); ok {
		setup.Zone = &z
		setup.Confluence = p.zones.Confluence(z)
	}
	return p.engine.Evaluate(setup, open)
}

func (p *Pipeline) htfBias() market.Bias {
	if p.cfg.HTFBias != "" {
		return p.cfg.HTFBias
	}
	if p.cfg.HTFTimeframe == "" {
		return market.Neutral
	}
	return p.detectors[p.cfg.HTFTimeframe].Trend()
}

// Score grades a hand-built feature vector with this pipeline's weights.
func (p *Pipeline) Score(f scoring.FeatureVector) scoring.Result {
	score, grade := p.engine.Score(f)
	return scoring.Result{Instrument: p.cfg.Instrument, Features: f.Clamp(), Score: score, Grade: grade}
}
