// Package trades exposes the active-trade snapshot consulted by the conflict
// detector.
package trades

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"setup-maturity/internal/market"
)

// ErrNoProvider is returned when no trade source is configured.
var ErrNoProvider = errors.New("trades: no provider configured")

// Direction of an open position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection accepts long/short and buy/sell.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return "", fmt.Errorf("trades: unknown direction %q", s)
	}
}

// Bias is the market bias the position profits from. Any spelling that
// ParseDirection accepts maps to a bias.
func (d Direction) Bias() market.Bias {
	n, err := ParseDirection(string(d))
	if err != nil {
		return market.Neutral
	}
	if n == Long {
		return market.Bullish
	}
	return market.Bearish
}

// ActiveTrade is an open position. A zero ExpiresAt means open-ended.
type ActiveTrade struct {
	ID         string    `json:"id" mapstructure:"id"`
	Instrument string    `json:"instrument" mapstructure:"instrument"`
	Direction  Direction `json:"direction" mapstructure:"direction"`
	EntryPrice float64   `json:"entry_price" mapstructure:"entry_price"`
	OpenedAt   time.Time `json:"opened_at" mapstructure:"opened_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty" mapstructure:"expires_at"`
}

// Covers reports whether the trade is live at any point of [from, to].
func (t ActiveTrade) Covers(from, to time.Time) bool {
	if t.OpenedAt.After(to) {
		return false
	}
	return t.ExpiresAt.IsZero() || !t.ExpiresAt.Before(from)
}

// SameInstrument compares symbols ignoring case and surrounding blanks.
func SameInstrument(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Provider returns the open positions for an instrument.
type Provider interface {
	ActiveTrades(ctx context.Context, instrument string) ([]ActiveTrade, error)
}

// StaticProvider serves a fixed list, used by replay and tests.
type StaticProvider struct {
	trades []ActiveTrade
}

// NewStaticProvider copies trades.
func NewStaticProvider(trades []ActiveTrade) *StaticProvider {
	return &StaticProvider{trades: append([]ActiveTrade(nil), trades...)}
}

// ActiveTrades filters the fixed list by instrument.
func (p *StaticProvider) ActiveTrades(_ context.Context, instrument string) ([]ActiveTrade, error) {
	var out []ActiveTrade
	for _, t := range p.trades {
		if SameInstrument(t.Instrument, instrument) {
			out = append(out, t)
		}
	}
	sortTrades(out)
	return out, nil
}

// Snapshot returns a deep copy so the caller can score against a stable view.
func Snapshot(in []ActiveTrade) []ActiveTrade {
	if len(in) == 0 {
		return nil
	}
	return append([]ActiveTrade(nil), in...)
}

func sortTrades(ts []ActiveTrade) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].OpenedAt.Equal(ts[j].OpenedAt) {
			return ts[i].OpenedAt.Before(ts[j].OpenedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
