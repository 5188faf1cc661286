package structure

import (
	"fmt"
	"math"
	"time"

	"setup-maturity/internal/market"
)

// Detector runs swing, break and sweep detection for one timeframe of one
// instrument. It is not safe for concurrent use.
type Detector struct {
	cfg        Config
	instrument string
	tf         market.Timeframe

	bars   []market.Bar
	offset int // absolute index of bars[0]

	swings []SwingPoint
	events []Event
	seq    int
	trend  market.Bias

	high, low         *level
	lastHigh, lastLow *SwingPoint
	protHigh, protLow *SwingPoint
	lastSweep         map[market.Bias]time.Time
}

// level is the most recent unbroken swing on one side.
type level struct {
	swing   SwingPoint
	swept   bool
	pending *attempt
}

// attempt tracks a shallow close beyond a level that may still reverse.
type attempt struct {
	start    int
	depth    float64
	impulse  float64
	volume   float64
	momentum int
}

// NewDetector validates cfg and returns an empty detector.
func NewDetector(instrument string, tf market.Timeframe, cfg Config) (*Detector, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: unknown timeframe %q", market.ErrInvalidConfiguration, tf)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:        cfg,
		instrument: instrument,
		tf:         tf,
		trend:      market.Neutral,
		lastSweep:  make(map[market.Bias]time.Time, 2),
	}, nil
}

// Timeframe returns the detector resolution.
func (d *Detector) Timeframe() market.Timeframe { return d.tf }

// Trend is the direction of the last break, neutral before the first one.
func (d *Detector) Trend() market.Bias { return d.trend }

// Bars returns the retained window, oldest first. Callers must not modify it.
func (d *Detector) Bars() []market.Bar { return d.bars }

// Swings returns a copy of the confirmed swing log.
func (d *Detector) Swings() []SwingPoint { return append([]SwingPoint(nil), d.swings...) }

// Events returns a copy of the event log.
func (d *Detector) Events() []Event { return append([]Event(nil), d.events...) }

// ProtectedLow returns the latest strong swing low, if any.
func (d *Detector) ProtectedLow() (SwingPoint, bool) {
	if d.protLow == nil {
		return SwingPoint{}, false
	}
	return *d.protLow, true
}

// ProtectedHigh returns the latest strong swing high, if any.
func (d *Detector) ProtectedHigh() (SwingPoint, bool) {
	if d.protHigh == nil {
		return SwingPoint{}, false
	}
	return *d.protHigh, true
}

// Leg returns the events of ev's directional leg: everything after the last
// opposite-direction break up to and including ev, oldest first.
func (d *Detector) Leg(ev Event) []Event {
	var leg []Event
	for i := len(d.events) - 1; i >= 0; i-- {
		e := d.events[i]
		if e.Seq > ev.Seq {
			continue
		}
		if e.Seq < ev.Seq && e.Kind.IsBreak() && e.Direction == ev.Direction.Opposite() {
			break
		}
		leg = append(leg, e)
	}
	for i, j := 0, len(leg)-1; i < j; i, j = i+1, j-1 {
		leg[i], leg[j] = leg[j], leg[i]
	}
	return leg
}

// Process appends one closed bar and returns the events it produced.
func (d *Detector) Process(bar market.Bar) ([]Event, error) {
	if bar.Timeframe != d.tf {
		return nil, fmt.Errorf("%w: %s bar fed to %s detector", market.ErrMalformedSeries, bar.Timeframe, d.tf)
	}
	if err := bar.Validate(); err != nil {
		return nil, err
	}
	if n := len(d.bars); n > 0 && !bar.Time.After(d.bars[n-1].Time) {
		return nil, fmt.Errorf("%w: %s bar at %s not after %s", market.ErrMalformedSeries, d.tf,
			bar.Time.Format(time.RFC3339), d.bars[n-1].Time.Format(time.RFC3339))
	}

	d.bars = append(d.bars, bar)
	idx := d.offset + len(d.bars) - 1
	first := len(d.events)

	d.confirmSwing(idx)
	d.checkLevel(idx, SwingHigh)
	d.checkLevel(idx, SwingLow)

	out := append([]Event(nil), d.events[first:]...)
	d.trim()
	return out, nil
}

func (d *Detector) at(abs int) market.Bar {
	return d.bars[abs-d.offset]
}

// confirmSwing looks at the bar n positions back; fewer than 2n+1 bars is not an error.
func (d *Detector) confirmSwing(idx int) {
	n := d.cfg.SwingLookback
	c := idx - n
	if c-n < d.offset {
		return
	}
	cb := d.at(c)
	isHigh, isLow := true, true
	for i := c - n; i <= c+n; i++ {
		if i == c {
			continue
		}
		b := d.at(i)
		if i < c {
			// equal earlier extreme wins the tie
			isHigh = isHigh && b.High < cb.High
			isLow = isLow && b.Low > cb.Low
		} else {
			isHigh = isHigh && b.High <= cb.High
			isLow = isLow && b.Low >= cb.Low
		}
	}
	if isHigh && isLow {
		// outside bar, ordering of its extremes is unknown
		return
	}
	if isHigh {
		d.addSwing(SwingHigh, cb.Time, cb.High)
	} else if isLow {
		d.addSwing(SwingLow, cb.Time, cb.Low)
	}
}

func (d *Detector) addSwing(kind SwingKind, ts time.Time, price float64) {
	sp := SwingPoint{Timeframe: d.tf, Time: ts, Price: price, Kind: kind, Strength: Weak}
	if kind == SwingHigh {
		sp.TookLiquidity = d.lastHigh != nil && price > d.lastHigh.Price
		d.lastHigh = &sp
		d.high = &level{swing: sp}
	} else {
		sp.TookLiquidity = d.lastLow != nil && price < d.lastLow.Price
		d.lastLow = &sp
		d.low = &level{swing: sp}
	}
	d.swings = append(d.swings, sp)
}

// checkLevel resolves the current bar against the unbroken swing on one side:
// swing highs break bullish and sweep bearish, swing lows the reverse.
func (d *Detector) checkLevel(idx int, side SwingKind) {
	lv := d.high
	if side == SwingLow {
		lv = d.low
	}
	if lv == nil {
		return
	}

	b := d.at(idx)
	tol := d.cfg.Tolerance()
	depth := d.beyond(side, lv.swing.Price, b.High, b.Low)
	closed := d.beyond(side, lv.swing.Price, b.Close, b.Close)

	if p := lv.pending; p != nil {
		p.depth = math.Max(p.depth, depth)
		switch {
		case p.depth > tol:
			lv.pending = nil
			if closed > 0 {
				d.breakLevel(idx, side, lv, d.confirmAttempt(idx, side, *p))
			}
		case closed <= 0:
			lv.pending = nil
			d.sweep(idx, side, lv, p.start, p.depth)
		case idx-p.start >= d.cfg.SweepReversalBars:
			lv.pending = nil
			d.breakLevel(idx, side, lv, d.confirmAttempt(idx, side, *p))
		}
		return
	}

	if depth <= 0 {
		return
	}
	if depth > tol {
		if closed > 0 {
			a := d.newAttempt(idx, side)
			a.depth = depth
			d.breakLevel(idx, side, lv, a)
		}
		return
	}
	if closed <= 0 {
		d.sweep(idx, side, lv, idx, depth)
		return
	}
	a := d.newAttempt(idx, side)
	a.depth = depth
	lv.pending = &a
}

// beyond measures how far a price went past the level on the given side.
func (d *Detector) beyond(side SwingKind, lvl, high, low float64) float64 {
	if side == SwingHigh {
		return high - lvl
	}
	return lvl - low
}

func breakDirection(side SwingKind) market.Bias {
	if side == SwingHigh {
		return market.Bullish
	}
	return market.Bearish
}

func (d *Detector) newAttempt(idx int, side SwingKind) attempt {
	return attempt{
		start:    idx,
		impulse:  d.impulseRatio(idx),
		volume:   d.volumeRatio(idx),
		momentum: d.momentum(idx, breakDirection(side)),
	}
}

// confirmAttempt measures a pending attempt on the bar that confirms the
// break; only the penetration carries over from the earlier bars.
func (d *Detector) confirmAttempt(idx int, side SwingKind, p attempt) attempt {
	a := d.newAttempt(idx, side)
	a.depth = p.depth
	return a
}

func (d *Detector) breakLevel(idx int, side SwingKind, lv *level, a attempt) {
	dir := breakDirection(side)
	kind := BOS
	if d.trend == dir.Opposite() {
		if a.impulse < d.cfg.ImpulseThreshold {
			// counter-trend drift, the level stays in play
			return
		}
		kind = CHoCH
	}

	if side == SwingHigh {
		d.high = nil
	} else {
		d.low = nil
	}
	d.trend = dir

	ev := Event{
		Kind:         kind,
		Direction:    dir,
		Reference:    lv.swing,
		Level:        lv.swing.Price,
		Penetration:  a.depth,
		ImpulseRatio: a.impulse,
		VolumeRatio:  a.volume,
		Momentum:     a.momentum,
		Protected:    d.promote(dir),
	}
	d.emit(idx, ev)
}

// promote marks the opposing swing that took liquidity before this break as strong.
func (d *Detector) promote(dir market.Bias) *SwingPoint {
	candidate := d.lastLow
	if dir == market.Bearish {
		candidate = d.lastHigh
	}
	if candidate == nil {
		return nil
	}
	swept, ok := d.lastSweep[dir]
	tookLiquidity := candidate.TookLiquidity || (ok && !swept.Before(candidate.Time))
	if !tookLiquidity {
		return nil
	}
	strong := candidate.Promoted()
	if dir == market.Bullish {
		d.protLow = &strong
	} else {
		d.protHigh = &strong
	}
	out := strong
	return &out
}

func (d *Detector) sweep(idx int, side SwingKind, lv *level, start int, depth float64) {
	if lv.swept {
		return
	}
	lv.swept = true

	b := d.at(idx)
	dir := breakDirection(side).Opposite()
	rejection := 0.0
	if r := b.Range(); r > 0 {
		if side == SwingHigh {
			rejection = (b.High - b.BodyHigh()) / r
		} else {
			rejection = (b.BodyLow() - b.Low) / r
		}
	}

	ev := Event{
		Kind:           Sweep,
		Direction:      dir,
		Reference:      lv.swing,
		Level:          lv.swing.Price,
		Penetration:    depth,
		BarsToReverse:  idx - start,
		RejectionRatio: rejection,
		VolumeRatio:    d.volumeRatio(start),
	}
	d.emit(idx, ev)
	d.lastSweep[dir] = b.Time

	touches, session := d.liquidity(side, lv.swing.Price, start)
	if touches >= d.cfg.InducementTouches || session {
		idm := ev
		idm.Kind = Inducement
		idm.Touches = touches
		idm.SessionExtreme = session
		d.emit(idx, idm)
	}
}

// liquidity counts equal-level touches before start and checks whether the
// level was the previous UTC session extreme.
func (d *Detector) liquidity(side SwingKind, lvl float64, start int) (int, bool) {
	eq := d.cfg.equalLevel()
	from := max(start-d.cfg.InducementLookback, d.offset)
	touches := 0
	for i := from; i < start; i++ {
		b := d.at(i)
		v := b.High
		if side == SwingLow {
			v = b.Low
		}
		if math.Abs(v-lvl) <= eq {
			touches++
		}
	}

	if d.tf.Duration() >= 24*time.Hour {
		return touches, false
	}
	day := market.D1.Truncate(d.at(start).Time)
	prev := day.Add(-24 * time.Hour)
	found := false
	extreme := 0.0
	for i := d.offset; i < start; i++ {
		b := d.at(i)
		if !market.D1.Truncate(b.Time).Equal(prev) {
			continue
		}
		v := b.High
		if side == SwingLow {
			v = b.Low
		}
		if !found || (side == SwingHigh && v > extreme) || (side == SwingLow && v < extreme) {
			extreme = v
		}
		found = true
	}
	return touches, found && math.Abs(extreme-lvl) <= eq
}

func (d *Detector) window(idx int) (int, int) {
	from := max(idx-d.cfg.RangeWindow, d.offset)
	return from, idx
}

func (d *Detector) impulseRatio(idx int) float64 {
	from, to := d.window(idx)
	if to <= from {
		return 0
	}
	sum := 0.0
	for i := from; i < to; i++ {
		sum += d.at(i).Range()
	}
	avg := sum / float64(to-from)
	if avg <= 0 {
		return 0
	}
	return d.at(idx).Range() / avg
}

func (d *Detector) volumeRatio(idx int) float64 {
	from, to := d.window(idx)
	if to <= from {
		return 0
	}
	sum := 0.0
	for i := from; i < to; i++ {
		sum += d.at(i).Volume
	}
	avg := sum / float64(to-from)
	if avg <= 0 {
		return 0
	}
	return d.at(idx).Volume / avg
}

// momentum counts closes moving in dir over the last three bars.
func (d *Detector) momentum(idx int, dir market.Bias) int {
	count := 0
	for i := max(idx-2, d.offset+1); i <= idx; i++ {
		prev, cur := d.at(i-1).Close, d.at(i).Close
		if (dir == market.Bullish && cur > prev) || (dir == market.Bearish && cur < prev) {
			count++
		}
	}
	return count
}

func (d *Detector) emit(idx int, ev Event) {
	d.seq++
	ev.Seq = d.seq
	ev.Timeframe = d.tf
	ev.Time = d.at(idx).Time
	ev.ID = eventID(d.instrument, d.tf, ev.Kind, ev.Time, ev.Seq)
	d.events = append(d.events, ev)
}

func (d *Detector) trim() {
	limit := d.cfg.History
	if drop := len(d.bars) - limit; drop > 0 {
		d.bars = append([]market.Bar(nil), d.bars[drop:]...)
		d.offset += drop
		// pending attempts older than the window can no longer resolve as sweeps
		for _, lv := range []*level{d.high, d.low} {
			if lv != nil && lv.pending != nil && lv.pending.start < d.offset {
				lv.pending = nil
			}
		}
	}
	if drop := len(d.events) - limit; drop > 0 {
		d.events = append([]Event(nil), d.events[drop:]...)
	}
	if drop := len(d.swings) - limit; drop > 0 {
		d.swings = append([]SwingPoint(nil), d.swings[drop:]...)
	}
}
