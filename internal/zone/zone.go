package zone

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"setup-maturity/internal/market"
	"setup-maturity/internal/structure"
)

// Kind of point of interest.
type Kind string

const (
	OrderBlock    Kind = "order_block"
	FairValueGap  Kind = "fair_value_gap"
	RejectionWick Kind = "rejection_wick"
)

// Mitigation only ever moves forward: unmitigated, partially mitigated, mitigated.
type Mitigation string

const (
	Unmitigated        Mitigation = "unmitigated"
	PartiallyMitigated Mitigation = "partially_mitigated"
	Mitigated          Mitigation = "mitigated"
)

func (m Mitigation) rank() int {
	switch m {
	case PartiallyMitigated:
		return 1
	case Mitigated:
		return 2
	default:
		return 0
	}
}

// Zone is a price range left by the impulsive move behind a BOS or CHoCH.
type Zone struct {
	ID             string
	Timeframe      market.Timeframe
	Kind           Kind
	Low            float64
	High           float64
	FormedAt       time.Time
	OriginID       string
	OriginKind     structure.EventKind
	Bias           market.Bias
	Mitigation     Mitigation
	MitigatedAt    time.Time
	SweepValidated bool
	Stale          bool
}

// Mid is the zone midpoint.
func (z Zone) Mid() float64 {
	return (z.Low + z.High) / 2
}

// Overlaps reports whether the two price ranges intersect.
func (z Zone) Overlaps(o Zone) bool {
	return z.Low <= o.High && o.Low <= z.High
}

// Active zones are neither stale nor fully mitigated.
func (z Zone) Active() bool {
	return !z.Stale && z.Mitigation != Mitigated
}

var zoneNamespace = uuid.MustParse("b5a0e0c4-3f0e-4a52-8d5e-1b0b8f6f2a77")

func zoneID(instrument string, tf market.Timeframe, kind Kind, originID string) string {
	key := fmt.Sprintf("%s|%s|%s|%s", strings.ToUpper(instrument), tf, kind, originID)
	return uuid.NewSHA1(zoneNamespace, []byte(key)).String()
}

// Config tunes zone extraction.
type Config struct {
	OBLookback   int     `mapstructure:"ob_lookback"`
	FVGScanDepth int     `mapstructure:"fvg_scan_depth"`
	MaxFVGPoints float64 `mapstructure:"max_fvg_points"`
	WickRatio    float64 `mapstructure:"wick_ratio"`
}

// DefaultConfig returns zone defaults.
func DefaultConfig() Config {
	return Config{
		OBLookback:   10,
		FVGScanDepth: 3,
		WickRatio:    0.5,
	}
}

// Validate checks zone parameters.
func (c Config) Validate() error {
	switch {
	case c.OBLookback < 1:
		return fmt.Errorf("%w: zones.ob_lookback must be at least 1", market.ErrInvalidConfiguration)
	case c.FVGScanDepth < 1:
		return fmt.Errorf("%w: zones.fvg_scan_depth must be at least 1", market.ErrInvalidConfiguration)
	case c.MaxFVGPoints < 0:
		return fmt.Errorf("%w: zones.max_fvg_points cannot be negative", market.ErrInvalidConfiguration)
	case c.WickRatio <= 0 || c.WickRatio > 1:
		return fmt.Errorf("%w: zones.wick_ratio must be in (0,1]", market.ErrInvalidConfiguration)
	}
	return nil
}
