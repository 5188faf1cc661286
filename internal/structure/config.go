package structure

import (
	"fmt"

	"setup-maturity/internal/market"
)

// Config tunes swing, break, sweep and inducement detection.
type Config struct {
	SwingLookback        int     `mapstructure:"swing_lookback"`
	RangeWindow          int     `mapstructure:"range_window"`
	ImpulseThreshold     float64 `mapstructure:"impulse_threshold"`
	PointSize            float64 `mapstructure:"point_size"`
	SweepTolerancePoints float64 `mapstructure:"sweep_tolerance_points"`
	SweepReversalBars    int     `mapstructure:"sweep_reversal_bars"`
	InducementLookback   int     `mapstructure:"inducement_lookback"`
	InducementTouches    int     `mapstructure:"inducement_touches"`
	EqualLevelPoints     float64 `mapstructure:"equal_level_points"`
	History              int     `mapstructure:"history"`
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		SwingLookback:        2,
		RangeWindow:          14,
		ImpulseThreshold:     1.5,
		PointSize:            0.0001,
		SweepTolerancePoints: 3,
		SweepReversalBars:    3,
		InducementLookback:   20,
		InducementTouches:    2,
		EqualLevelPoints:     1,
		History:              500,
	}
}

// Tolerance is the maximum sweep penetration in price units.
func (c Config) Tolerance() float64 {
	return c.SweepTolerancePoints * c.PointSize
}

func (c Config) equalLevel() float64 {
	return c.EqualLevelPoints * c.PointSize
}

// Validate checks ranges and that History covers every lookback.
func (c Config) Validate() error {
	switch {
	case c.SwingLookback < 1:
		return fmt.Errorf("%w: structure.swing_lookback must be at least 1", market.ErrInvalidConfiguration)
	case c.RangeWindow < 1:
		return fmt.Errorf("%w: structure.range_window must be at least 1", market.ErrInvalidConfiguration)
	case c.ImpulseThreshold <= 0:
		return fmt.Errorf("%w: structure.impulse_threshold must be positive", market.ErrInvalidConfiguration)
	case c.PointSize <= 0:
		return fmt.Errorf("%w: structure.point_size must be positive", market.ErrInvalidConfiguration)
	case c.SweepTolerancePoints < 0:
		return fmt.Errorf("%w: structure.sweep_tolerance_points cannot be negative", market.ErrInvalidConfiguration)
	case c.SweepReversalBars < 1:
		return fmt.Errorf("%w: structure.sweep_reversal_bars must be at least 1", market.ErrInvalidConfiguration)
	case c.InducementLookback < 1 || c.InducementTouches < 1:
		return fmt.Errorf("%w: structure.inducement_lookback and inducement_touches must be at least 1", market.ErrInvalidConfiguration)
	case c.EqualLevelPoints < 0:
		return fmt.Errorf("%w: structure.equal_level_points cannot be negative", market.ErrInvalidConfiguration)
	}
	need := 2*c.SwingLookback + 1
	need = max(need, c.RangeWindow+1, c.InducementLookback+c.SweepReversalBars+1)
	if c.History < need {
		return fmt.Errorf("%w: structure.history must be at least %d", market.ErrInvalidConfiguration, need)
	}
	return nil
}
