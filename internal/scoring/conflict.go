package scoring

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"setup-maturity/internal/market"
	"setup-maturity/internal/trades"
)

// Recommendation suggests how to treat a setup that opposes an open trade.
type Recommendation string

const (
	ReviewActiveTrade Recommendation = "review_active_trade"
	MonitorBoth       Recommendation = "monitor_both"
	IgnoreNewSetup    Recommendation = "ignore_new_setup"
)

// ConflictConfig controls conflict detection.
type ConflictConfig struct {
	// Horizon is how long a new setup is expected to stay live.
	Horizon         time.Duration `mapstructure:"horizon"`
	AlertThreshold  float64       `mapstructure:"alert_threshold"`
	ReviewThreshold float64       `mapstructure:"review_threshold"`
}

// DefaultConflictConfig returns the conflict defaults.
func DefaultConflictConfig() ConflictConfig {
	return ConflictConfig{
		Horizon:         4 * time.Hour,
		AlertThreshold:  0.70,
		ReviewThreshold: 0.80,
	}
}

// Validate checks the horizon and threshold order.
func (c ConflictConfig) Validate() error {
	switch {
	case c.Horizon < 0:
		return fmt.Errorf("%w: conflict.horizon cannot be negative", market.ErrInvalidConfiguration)
	case c.AlertThreshold < 0 || c.ReviewThreshold > 1 || c.AlertThreshold > c.ReviewThreshold:
		return fmt.Errorf("%w: conflict thresholds must satisfy 0 <= alert <= review <= 1", market.ErrInvalidConfiguration)
	}
	return nil
}

// Conflict pairs a setup with one opposing open trade.
type Conflict struct {
	TradeID        string           `json:"trade_id" yaml:"trade_id"`
	TradeDirection trades.Direction `json:"trade_direction" yaml:"trade_direction"`
	Recommendation Recommendation   `json:"recommendation" yaml:"recommendation"`
}

// DetectConflicts lists the open trades on the same instrument, in the
// opposite direction, whose life overlaps [at, at+horizon]. The result is
// advisory and never changes the score.
func DetectConflicts(cfg ConflictConfig, instrument string, dir market.Bias, at time.Time, score decimal.Decimal, open []trades.ActiveTrade) []Conflict {
	if dir == market.Neutral {
		return nil
	}
	held := trades.Long
	if dir == market.Bullish {
		held = trades.Short
	}
	var out []Conflict
	for _, t := range open {
		if !trades.SameInstrument(t.Instrument, instrument) {
			continue
		}
		if t.Direction.Bias() != dir.Opposite() {
			continue
		}
		if !t.Covers(at, at.Add(cfg.Horizon)) {
			continue
		}
		out = append(out, Conflict{
			TradeID:        t.ID,
			TradeDirection: held,
			Recommendation: cfg.recommend(score),
		})
	}
	return out
}

func (c ConflictConfig) recommend(score decimal.Decimal) Recommendation {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromFloat(c.ReviewThreshold)):
		return ReviewActiveTrade
	case score.GreaterThanOrEqual(decimal.NewFromFloat(c.AlertThreshold)):
		return MonitorBoth
	default:
		return IgnoreNewSetup
	}
}
