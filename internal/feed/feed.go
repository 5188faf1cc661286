// Package feed supplies base bars to the pipelines.
package feed

import (
	"context"
	"time"

	"setup-maturity/internal/market"
)

// Source returns closed bars strictly after a timestamp, oldest first.
type Source interface {
	Fetch(ctx context.Context, instrument string, tf market.Timeframe, after time.Time, limit int) ([]market.Bar, error)
}

// BarLister is the read side of the bars table.
type BarLister interface {
	ListBarsAfter(ctx context.Context, instrument string, tf market.Timeframe, after time.Time, limit int) ([]market.Bar, error)
}

// StoreSource reads bars that another process writes to the database.
type StoreSource struct {
	store BarLister
}

// NewStoreSource wraps a bar store.
func NewStoreSource(store BarLister) *StoreSource {
	return &StoreSource{store: store}
}

// Fetch lists stored bars.
func (s *StoreSource) Fetch(ctx context.Context, instrument string, tf market.Timeframe, after time.Time, limit int) ([]market.Bar, error) {
	return s.store.ListBarsAfter(ctx, instrument, tf, after, limit)
}

// closedOnly drops bars whose period has not ended at now.
func closedOnly(bars []market.Bar, tf market.Timeframe, now time.Time) []market.Bar {
	out := bars[:0]
	for _, b := range bars {
		if !b.Time.Add(tf.Duration()).After(now) {
			out = append(out, b)
		}
	}
	return out
}

var _ Source = (*StoreSource)(nil)
