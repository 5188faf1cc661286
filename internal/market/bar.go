package market

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Bias is a directional reading shared by events, zones and trends.
type Bias string

const (
	Bullish Bias = "bullish"
	Bearish Bias = "bearish"
	Neutral Bias = "neutral"
)

// ParseBias accepts bullish/bearish/neutral as well as long/short and up/down.
func ParseBias(s string) (Bias, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "long", "buy", "up":
		return Bullish, nil
	case "bearish", "short", "sell", "down":
		return Bearish, nil
	case "neutral", "", "none":
		return Neutral, nil
	default:
		return "", fmt.Errorf("%w: unknown bias %q", ErrInvalidConfiguration, s)
	}
}

// Opposite flips bullish and bearish; neutral stays neutral.
func (b Bias) Opposite() Bias {
	switch b {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	default:
		return Neutral
	}
}

// Bar is one OHLCV candle. Spread is optional and zero when the source has none.
type Bar struct {
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Spread    float64
	Timeframe Timeframe
}

// Range is high minus low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Bullish reports a close above the open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Bearish reports a close below the open.
func (b Bar) Bearish() bool {
	return b.Close < b.Open
}

// BodyLow is the lower edge of the candle body.
func (b Bar) BodyLow() float64 {
	return math.Min(b.Open, b.Close)
}

// BodyHigh is the upper edge of the candle body.
func (b Bar) BodyHigh() float64 {
	return math.Max(b.Open, b.Close)
}

// Validate rejects values no aggregation or detector can work with.
func (b Bar) Validate() error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume, b.Spread} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value in bar at %s", ErrMalformedSeries, b.Time.Format(time.RFC3339))
		}
	}
	if b.Time.IsZero() {
		return fmt.Errorf("%w: bar without timestamp", ErrMalformedSeries)
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high below low at %s", ErrMalformedSeries, b.Time.Format(time.RFC3339))
	}
	if b.High < b.BodyHigh() || b.Low > b.BodyLow() {
		return fmt.Errorf("%w: open/close outside high/low at %s", ErrMalformedSeries, b.Time.Format(time.RFC3339))
	}
	if b.Volume < 0 || b.Spread < 0 {
		return fmt.Errorf("%w: negative volume or spread at %s", ErrMalformedSeries, b.Time.Format(time.RFC3339))
	}
	return nil
}
