package structure

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"setup-maturity/internal/market"
)

// SwingKind distinguishes swing highs from swing lows.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// Strength marks whether a swing both took liquidity and caused a valid break.
type Strength string

const (
	Weak   Strength = "weak"
	Strong Strength = "strong"
)

// SwingPoint is a confirmed local extremum. Values are never mutated after
// confirmation; promotion to strong yields a new value.
type SwingPoint struct {
	Timeframe market.Timeframe
	Time      time.Time
	Price     float64
	Kind      SwingKind
	Strength  Strength
	// TookLiquidity is set when the swing traded beyond the previous swing of the same kind.
	TookLiquidity bool
}

// Promoted returns a strong copy of the swing.
func (s SwingPoint) Promoted() SwingPoint {
	s.Strength = Strong
	return s
}

// EventKind enumerates structure events.
type EventKind string

const (
	BOS        EventKind = "BOS"
	CHoCH      EventKind = "CHoCH"
	Sweep      EventKind = "SWEEP"
	Inducement EventKind = "INDUCEMENT"
)

// ParseEventKind is case-insensitive.
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BOS":
		return BOS, nil
	case "CHOCH":
		return CHoCH, nil
	case "SWEEP":
		return Sweep, nil
	case "INDUCEMENT", "IDM":
		return Inducement, nil
	default:
		return "", fmt.Errorf("%w: unknown event kind %q", market.ErrInvalidConfiguration, s)
	}
}

// IsBreak reports BOS and CHoCH.
func (k EventKind) IsBreak() bool {
	return k == BOS || k == CHoCH
}

// Event is one entry of the append-only structure log of a timeframe.
type Event struct {
	ID        string
	Seq       int
	Kind      EventKind
	Timeframe market.Timeframe
	Time      time.Time
	Reference SwingPoint
	Direction market.Bias

	// Level is the swing price that was broken or swept.
	Level float64
	// Penetration is how far price traded beyond Level.
	Penetration float64
	// BarsToReverse counts bars between the first penetration and the close back inside.
	BarsToReverse int
	// RejectionRatio is the rejecting wick as a share of the reversal bar range.
	RejectionRatio float64
	// ImpulseRatio is the breaking bar range over the recent average range.
	ImpulseRatio float64
	// VolumeRatio is the bar volume over the recent average volume.
	VolumeRatio float64
	// Touches counts bars that tagged Level before it was swept.
	Touches        int
	SessionExtreme bool
	// Protected is the opposing swing promoted to strong by this break.
	Protected *SwingPoint
	// Momentum counts directional closes in the bars leading into the break.
	Momentum int
}

var eventNamespace = uuid.MustParse("6f1f4a52-8f0e-4d7c-9a3b-2c1e5d7b9f10")

func eventID(instrument string, tf market.Timeframe, kind EventKind, ts time.Time, seq int) string {
	key := fmt.Sprintf("%s|%s|%s|%d|%d", strings.ToUpper(instrument), tf, kind, ts.UnixNano(), seq)
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}
