package zone

import (
	"setup-maturity/internal/market"
	"setup-maturity/internal/structure"
)

// Manager owns every zone of one instrument across timeframes.
// Zones are never removed, superseded ones are marked stale.
type Manager struct {
	cfg        Config
	instrument string
	pointSize  float64
	zones      []Zone
	legs       map[market.Timeframe]*legState
}

// legState remembers the last sweep and break sequence numbers per direction.
type legState struct {
	sweep map[market.Bias]int
	brk   map[market.Bias]int
}

// NewManager validates cfg. pointSize converts max_fvg_points into price units.
func NewManager(instrument string, cfg Config, pointSize float64) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:        cfg,
		instrument: instrument,
		pointSize:  pointSize,
		legs:       make(map[market.Timeframe]*legState),
	}, nil
}

// Zones returns a snapshot of all zones in formation order.
func (m *Manager) Zones() []Zone {
	return append([]Zone(nil), m.zones...)
}

// Update advances mitigation with a closed bar of any timeframe and returns
// the zones whose state changed.
func (m *Manager) Update(bar market.Bar) []Zone {
	var changed []Zone
	for i := range m.zones {
		z := &m.zones[i]
		if z.Timeframe != bar.Timeframe || !bar.Time.After(z.FormedAt) || z.Mitigation == Mitigated {
			continue
		}
		next := z.Mitigation
		touched := bar.Low <= z.High && bar.High >= z.Low
		closedPast := (z.Bias == market.Bullish && bar.Close < z.Mid()) ||
			(z.Bias == market.Bearish && bar.Close > z.Mid())
		switch {
		case closedPast:
			next = Mitigated
		case touched:
			next = PartiallyMitigated
		}
		if next.rank() <= z.Mitigation.rank() {
			continue
		}
		z.Mitigation = next
		if next == Mitigated {
			z.MitigatedAt = bar.Time
		}
		changed = append(changed, *z)
	}
	return changed
}

// OnEvent records sweeps and, for BOS and CHoCH, derives zones from the
// impulsive leg. bars is the event timeframe window ending at the break bar.
func (m *Manager) OnEvent(ev structure.Event, bars []market.Bar) []Zone {
	leg := m.leg(ev.Timeframe)
	switch {
	case ev.Kind == structure.Sweep:
		leg.sweep[ev.Direction] = ev.Seq
		return nil
	case !ev.Kind.IsBreak():
		return nil
	}

	sweepSeq := leg.sweep[ev.Direction]
	validated := sweepSeq > 0 && sweepSeq > leg.brk[ev.Direction.Opposite()]
	leg.brk[ev.Direction] = ev.Seq

	k := breakIndex(bars, ev)
	if k < 0 {
		return nil
	}

	var created []Zone
	for _, build := range []func([]market.Bar, int, market.Bias) (Kind, float64, float64, bool){
		m.orderBlock, m.fairValueGap, m.rejectionWick,
	} {
		kind, low, high, ok := build(bars, k, ev.Direction)
		if !ok || high <= low {
			continue
		}
		z := Zone{
			ID:             zoneID(m.instrument, ev.Timeframe, kind, ev.ID),
			Timeframe:      ev.Timeframe,
			Kind:           kind,
			Low:            low,
			High:           high,
			FormedAt:       ev.Time,
			OriginID:       ev.ID,
			OriginKind:     ev.Kind,
			Bias:           ev.Direction,
			Mitigation:     Unmitigated,
			SweepValidated: validated,
		}
		m.supersede(z)
		m.zones = append(m.zones, z)
		created = append(created, z)
	}
	return created
}

func (m *Manager) leg(tf market.Timeframe) *legState {
	st, ok := m.legs[tf]
	if !ok {
		st = &legState{sweep: make(map[market.Bias]int, 2), brk: make(map[market.Bias]int, 2)}
		m.legs[tf] = st
	}
	return st
}

func (m *Manager) supersede(z Zone) {
	for i := range m.zones {
		old := &m.zones[i]
		if old.Timeframe == z.Timeframe && old.Kind == z.Kind && !old.Stale && old.Overlaps(z) {
			old.Stale = true
		}
	}
}

func breakIndex(bars []market.Bar, ev structure.Event) int {
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Time.Equal(ev.Time) {
			return i
		}
		if bars[i].Time.Before(ev.Time) {
			break
		}
	}
	return -1
}

// orderBlock is the last opposite-coloured candle before the break.
func (m *Manager) orderBlock(bars []market.Bar, k int, dir market.Bias) (Kind, float64, float64, bool) {
	for i := k - 1; i >= 0 && i >= k-m.cfg.OBLookback; i-- {
		b := bars[i]
		if (dir == market.Bullish && b.Bearish()) || (dir == market.Bearish && b.Bullish()) {
			return OrderBlock, b.Low, b.High, true
		}
	}
	return OrderBlock, 0, 0, false
}

// fairValueGap is the most recent three-candle imbalance ending at or before the break.
func (m *Manager) fairValueGap(bars []market.Bar, k int, dir market.Bias) (Kind, float64, float64, bool) {
	maxGap := m.cfg.MaxFVGPoints * m.pointSize
	for j := k; j >= 2 && j > k-m.cfg.FVGScanDepth; j-- {
		c1, c3 := bars[j-2], bars[j]
		var low, high float64
		switch {
		case dir == market.Bullish && c1.High < c3.Low:
			low, high = c1.High, c3.Low
		case dir == market.Bearish && c1.Low > c3.High:
			low, high = c3.High, c1.Low
		default:
			continue
		}
		if maxGap > 0 && high-low > maxGap {
			continue
		}
		return FairValueGap, low, high, true
	}
	return FairValueGap, 0, 0, false
}

// rejectionWick takes the leg extreme when its wick dominates the candle.
func (m *Manager) rejectionWick(bars []market.Bar, k int, dir market.Bias) (Kind, float64, float64, bool) {
	ext := -1
	for i := max(0, k-m.cfg.OBLookback); i <= k; i++ {
		if ext < 0 ||
			(dir == market.Bullish && bars[i].Low < bars[ext].Low) ||
			(dir == market.Bearish && bars[i].High > bars[ext].High) {
			ext = i
		}
	}
	if ext < 0 {
		return RejectionWick, 0, 0, false
	}
	b := bars[ext]
	r := b.Range()
	if r <= 0 {
		return RejectionWick, 0, 0, false
	}
	if dir == market.Bullish {
		if (b.BodyLow()-b.Low)/r >= m.cfg.WickRatio {
			return RejectionWick, b.Low, b.BodyLow(), true
		}
	} else if (b.High-b.BodyHigh())/r >= m.cfg.WickRatio {
		return RejectionWick, b.BodyHigh(), b.High, true
	}
	return RejectionWick, 0, 0, false
}

var preference = map[Kind]int{OrderBlock: 0, FairValueGap: 1, RejectionWick: 2}

// Best returns the preferred live zone created by an event: order block, then
// fair-value gap, then rejection wick.
func (m *Manager) Best(originID string) (Zone, bool) {
	var best Zone
	found := false
	for _, z := range m.zones {
		if z.OriginID != originID || z.Stale {
			continue
		}
		if !found || preference[z.Kind] < preference[best.Kind] {
			best, found = z, true
		}
	}
	return best, found
}

// Confluence counts active same-bias zones on other timeframes overlapping z.
func (m *Manager) Confluence(z Zone) int {
	n := 0
	for _, o := range m.zones {
		if o.Timeframe != z.Timeframe && o.Bias == z.Bias && o.Active() && o.Overlaps(z) {
			n++
		}
	}
	return n
}
