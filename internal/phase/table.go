package phase

import (
	"fmt"
	"sort"
	"strings"

	"setup-maturity/internal/market"
	"setup-maturity/internal/structure"
)

// Phase is a Wyckoff-style regime label.
type Phase string

const (
	Unknown       Phase = "unknown"
	AccumulationA Phase = "accumulation_a"
	AccumulationB Phase = "accumulation_b"
	AccumulationC Phase = "accumulation_c"
	AccumulationD Phase = "accumulation_d"
	AccumulationE Phase = "accumulation_e"
	DistributionA Phase = "distribution_a"
	DistributionB Phase = "distribution_b"
	DistributionC Phase = "distribution_c"
	DistributionD Phase = "distribution_d"
	DistributionE Phase = "distribution_e"
)

var phases = map[Phase]bool{
	Unknown:       true,
	AccumulationA: true, AccumulationB: true, AccumulationC: true, AccumulationD: true, AccumulationE: true,
	DistributionA: true, DistributionB: true, DistributionC: true, DistributionD: true, DistributionE: true,
}

// ParsePhase accepts "accumulation_a", "Accumulation-A" and similar spellings.
func ParsePhase(s string) (Phase, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	p := Phase(norm)
	if !phases[p] {
		return "", fmt.Errorf("%w: unknown phase %q", market.ErrInvalidConfiguration, s)
	}
	return p, nil
}

// Family returns bullish for accumulation, bearish for distribution and
// neutral for unknown.
func (p Phase) Family() market.Bias {
	switch {
	case strings.HasPrefix(string(p), "accumulation"):
		return market.Bullish
	case strings.HasPrefix(string(p), "distribution"):
		return market.Bearish
	default:
		return market.Neutral
	}
}

// Terminal reports the E sub-phases.
func (p Phase) Terminal() bool {
	return strings.HasSuffix(string(p), "_e")
}

// Entry reports the A sub-phases.
func (p Phase) Entry() bool {
	return strings.HasSuffix(string(p), "_a")
}

// Rule is one configured edge: on a trigger such as "SWEEP:bullish" or "BOS",
// move to the target phase.
type Rule struct {
	On string `mapstructure:"on" yaml:"on"`
	To string `mapstructure:"to" yaml:"to"`
}

// Table is the configuration form of the transition map.
type Table map[string][]Rule

// DefaultTable mirrors accumulation and distribution.
func DefaultTable() Table {
	return Table{
		string(Unknown): {
			{On: "SWEEP:bullish", To: string(AccumulationA)},
			{On: "SWEEP:bearish", To: string(DistributionA)},
		},
		string(AccumulationA): {{On: "CHoCH:bullish", To: string(AccumulationB)}},
		string(AccumulationB): {{On: "SWEEP:bullish", To: string(AccumulationC)}},
		string(AccumulationC): {
			{On: "CHoCH:bullish", To: string(AccumulationD)},
			{On: "BOS:bullish", To: string(AccumulationD)},
		},
		string(AccumulationD): {{On: "BOS:bullish", To: string(AccumulationE)}},
		string(DistributionA): {{On: "CHoCH:bearish", To: string(DistributionB)}},
		string(DistributionB): {{On: "SWEEP:bearish", To: string(DistributionC)}},
		string(DistributionC): {
			{On: "CHoCH:bearish", To: string(DistributionD)},
			{On: "BOS:bearish", To: string(DistributionD)},
		},
		string(DistributionD): {{On: "BOS:bearish", To: string(DistributionE)}},
	}
}

// trigger is a parsed rule key; an empty direction matches both.
type trigger struct {
	kind structure.EventKind
	dir  market.Bias
}

func parseTrigger(s string) (trigger, error) {
	kindPart, dirPart, hasDir := strings.Cut(strings.TrimSpace(s), ":")
	kind, err := structure.ParseEventKind(kindPart)
	if err != nil {
		return trigger{}, err
	}
	t := trigger{kind: kind}
	if hasDir {
		switch strings.ToLower(strings.TrimSpace(dirPart)) {
		case "bullish":
			t.dir = market.Bullish
		case "bearish":
			t.dir = market.Bearish
		case "", "any", "*":
		default:
			return trigger{}, fmt.Errorf("%w: unknown trigger direction in %q", market.ErrInvalidConfiguration, s)
		}
	}
	return t, nil
}

// Transitions is a validated transition map.
type Transitions struct {
	edges map[Phase]map[trigger]Phase
}

// Compile validates a table: known phases and triggers only, no edges into
// unknown, none out of E phases, no duplicate triggers per phase, and at least
// one way out of unknown.
func Compile(t Table) (Transitions, error) {
	if len(t) == 0 {
		t = DefaultTable()
	}
	out := Transitions{edges: make(map[Phase]map[trigger]Phase, len(t))}

	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		from, err := ParsePhase(key)
		if err != nil {
			return Transitions{}, err
		}
		rules := t[key]
		if from.Terminal() && len(rules) > 0 {
			return Transitions{}, fmt.Errorf("%w: phase %s is terminal and cannot declare transitions", market.ErrInvalidConfiguration, from)
		}
		edges := make(map[trigger]Phase, len(rules))
		for _, r := range rules {
			trig, err := parseTrigger(r.On)
			if err != nil {
				return Transitions{}, fmt.Errorf("phase %s: %w", from, err)
			}
			to, err := ParsePhase(r.To)
			if err != nil {
				return Transitions{}, fmt.Errorf("phase %s: %w", from, err)
			}
			if to == Unknown {
				return Transitions{}, fmt.Errorf("%w: phase %s cannot transition into %s", market.ErrInvalidConfiguration, from, Unknown)
			}
			if _, dup := edges[trig]; dup {
				return Transitions{}, fmt.Errorf("%w: phase %s has duplicate trigger %q", market.ErrInvalidConfiguration, from, r.On)
			}
			edges[trig] = to
		}
		out.edges[from] = edges
	}

	if len(out.edges[Unknown]) == 0 {
		return Transitions{}, fmt.Errorf("%w: phase %s needs at least one transition", market.ErrInvalidConfiguration, Unknown)
	}
	return out, nil
}

// next resolves an event against a phase, exact direction before wildcard.
func (t Transitions) next(from Phase, ev structure.Event) (Phase, bool) {
	edges := t.edges[from]
	if to, ok := edges[trigger{kind: ev.Kind, dir: ev.Direction}]; ok {
		return to, true
	}
	to, ok := edges[trigger{kind: ev.Kind}]
	return to, ok
}
