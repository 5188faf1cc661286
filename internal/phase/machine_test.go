package phase

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"setup-maturity/internal/market"
	"setup-maturity/internal/structure"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

type step struct {
	kind structure.EventKind
	dir  market.Bias
	want Phase
}

func run(t *testing.T, m *Machine, steps []step) {
	t.Helper()
	for i, s := range steps {
		ev := structure.Event{
			ID:        fmt.Sprintf("ev-%d", i),
			Kind:      s.kind,
			Direction: s.dir,
			Time:      t0.Add(time.Duration(i) * time.Minute),
		}
		m.Apply(ev)
		if got := m.State().Phase; got != s.want {
			t.Fatalf("step %d (%s %s): got %s want %s", i, s.kind, s.dir, got, s.want)
		}
	}
}

func defaultMachine(t *testing.T) *Machine {
	t.Helper()
	table, err := Compile(nil)
	if err != nil {
		t.Fatalf("compile default table: %v", err)
	}
	return NewMachine(table)
}

func TestAccumulationWalk(t *testing.T) {
	m := defaultMachine(t)
	run(t, m, []step{
		{structure.BOS, market.Bearish, Unknown},
		{structure.Sweep, market.Bullish, AccumulationA},
		{structure.Inducement, market.Bullish, AccumulationA},
		{structure.CHoCH, market.Bullish, AccumulationB},
		{structure.Sweep, market.Bullish, AccumulationC},
		{structure.BOS, market.Bullish, AccumulationD},
		{structure.BOS, market.Bullish, AccumulationE},
		{structure.BOS, market.Bullish, AccumulationE},
		{structure.Sweep, market.Bullish, AccumulationE},
	})
}

func TestTerminalResetsThroughUnknown(t *testing.T) {
	m := defaultMachine(t)
	run(t, m, []step{
		{structure.Sweep, market.Bearish, DistributionA},
		{structure.CHoCH, market.Bearish, DistributionB},
		{structure.Sweep, market.Bearish, DistributionC},
		{structure.CHoCH, market.Bearish, DistributionD},
		{structure.BOS, market.Bearish, DistributionE},
		{structure.Sweep, market.Bullish, AccumulationA},
	})

	hist := m.History()
	if len(hist) != 7 {
		t.Fatalf("expected 7 transitions, got %d", len(hist))
	}
	reset, enter := hist[5], hist[6]
	if reset.From != DistributionE || reset.To != Unknown || enter.From != Unknown || enter.To != AccumulationA {
		t.Fatalf("terminal phase should reset via unknown, got %+v %+v", reset, enter)
	}
	if reset.EventID != enter.EventID {
		t.Fatal("both edges are driven by the same event")
	}
}

func TestStateTracksSupportingEvents(t *testing.T) {
	m := defaultMachine(t)
	run(t, m, []step{
		{structure.Sweep, market.Bullish, AccumulationA},
		{structure.Inducement, market.Bullish, AccumulationA},
		{structure.BOS, market.Bearish, AccumulationA},
	})
	st := m.State()
	if len(st.Events) != 3 || st.Events[0] != "ev-0" {
		t.Fatalf("unexpected supporting events %v", st.Events)
	}
	if !st.EnteredAt.Equal(t0) {
		t.Fatalf("entered-at should be the triggering event time, got %s", st.EnteredAt)
	}
}

func TestWildcardTrigger(t *testing.T) {
	table, err := Compile(Table{
		"unknown":        {{On: "BOS", To: "accumulation_a"}},
		"accumulation_a": {{On: "choch:bullish", To: "Accumulation-B"}},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	m := NewMachine(table)
	run(t, m, []step{
		{structure.BOS, market.Bearish, AccumulationA},
		{structure.CHoCH, market.Bearish, AccumulationA},
		{structure.CHoCH, market.Bullish, AccumulationB},
	})
}

func TestCompileRejectsMalformedTables(t *testing.T) {
	cases := map[string]Table{
		"unknown state":      {"unknown": {{On: "SWEEP", To: "markup_a"}}},
		"unknown kind":       {"unknown": {{On: "SPRING", To: "accumulation_a"}}},
		"bad direction":      {"unknown": {{On: "SWEEP:sideways", To: "accumulation_a"}}},
		"into unknown":       {"unknown": {{On: "SWEEP", To: "accumulation_a"}}, "accumulation_a": {{On: "BOS", To: "unknown"}}},
		"terminal with edge": {"unknown": {{On: "SWEEP", To: "accumulation_a"}}, "accumulation_e": {{On: "BOS", To: "accumulation_a"}}},
		"duplicate trigger":  {"unknown": {{On: "SWEEP:bullish", To: "accumulation_a"}, {On: "sweep:Bullish", To: "distribution_a"}}},
		"no exit":            {"unknown": {}, "accumulation_a": {{On: "BOS", To: "accumulation_b"}}},
		"bad source":         {"unknown": {{On: "SWEEP", To: "accumulation_a"}}, "phase_z": {{On: "BOS", To: "accumulation_b"}}},
	}
	for name, table := range cases {
		if _, err := Compile(table); !errors.Is(err, market.ErrInvalidConfiguration) {
			t.Fatalf("%s: expected invalid configuration, got %v", name, err)
		}
	}
}
