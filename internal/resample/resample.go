package resample

import (
	"fmt"
	"time"

	"setup-maturity/internal/market"
)

// Resampler aggregates a base series into higher timeframes without lookahead.
// A target bar is emitted only once its bucket can receive no further base bars,
// and emitted bars are never revised.
type Resampler struct {
	base    market.Timeframe
	targets []market.Timeframe
	open    map[market.Timeframe]*bucket
	last    time.Time
}

type bucket struct {
	start     time.Time
	bar       market.Bar
	count     int
	spreadSum float64
}

// New validates that every target is a whole multiple of base.
func New(base market.Timeframe, targets []market.Timeframe) (*Resampler, error) {
	if !base.Valid() {
		return nil, fmt.Errorf("%w: unknown base timeframe %q", market.ErrInvalidConfiguration, base)
	}
	sorted := make([]market.Timeframe, 0, len(targets))
	for _, tf := range targets {
		if !tf.Valid() {
			return nil, fmt.Errorf("%w: unknown target timeframe %q", market.ErrInvalidConfiguration, tf)
		}
		if tf.Duration() <= base.Duration() || tf.Duration()%base.Duration() != 0 {
			return nil, fmt.Errorf("%w: timeframe %s is not a multiple of base %s", market.ErrInvalidConfiguration, tf, base)
		}
		sorted = append(sorted, tf)
	}
	market.SortTimeframes(sorted)

	return &Resampler{
		base:    base,
		targets: sorted,
		open:    make(map[market.Timeframe]*bucket, len(sorted)),
	}, nil
}

// Base returns the input resolution.
func (r *Resampler) Base() market.Timeframe {
	return r.base
}

// Targets returns the output resolutions, shortest first.
func (r *Resampler) Targets() []market.Timeframe {
	return append([]market.Timeframe(nil), r.targets...)
}

// Push consumes one base bar and returns the higher-timeframe bars it closed,
// shortest timeframe first. On error the resampler state is unchanged.
func (r *Resampler) Push(bar market.Bar) ([]market.Bar, error) {
	if err := r.check(bar); err != nil {
		return nil, err
	}
	bar.Time = bar.Time.UTC()
	bar.Timeframe = r.base
	r.last = bar.Time

	var closed []market.Bar
	for _, tf := range r.targets {
		start := tf.Truncate(bar.Time)
		cur := r.open[tf]
		if cur != nil && !cur.start.Equal(start) {
			// a later bucket started, the open one can no longer grow
			closed = append(closed, cur.emit())
			cur = nil
		}
		if cur == nil {
			cur = &bucket{start: start}
			r.open[tf] = cur
		}
		cur.add(bar, tf)

		if !bar.Time.Add(r.base.Duration()).Before(start.Add(tf.Duration())) {
			closed = append(closed, cur.emit())
			delete(r.open, tf)
		}
	}
	return closed, nil
}

func (r *Resampler) check(bar market.Bar) error {
	if bar.Timeframe != "" && bar.Timeframe != r.base {
		return fmt.Errorf("%w: bar labelled %s fed to %s resampler", market.ErrMalformedSeries, bar.Timeframe, r.base)
	}
	if err := bar.Validate(); err != nil {
		return err
	}
	ts := bar.Time.UTC()
	if !r.base.Truncate(ts).Equal(ts) {
		return fmt.Errorf("%w: %s is not aligned to %s", market.ErrMalformedSeries, ts.Format(time.RFC3339), r.base)
	}
	if !r.last.IsZero() && !ts.After(r.last) {
		return fmt.Errorf("%w: timestamp %s not after %s", market.ErrMalformedSeries, ts.Format(time.RFC3339), r.last.Format(time.RFC3339))
	}
	return nil
}

func (b *bucket) add(bar market.Bar, tf market.Timeframe) {
	if b.count == 0 {
		b.bar = market.Bar{
			Time:      b.start,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Timeframe: tf,
		}
	}
	if bar.High > b.bar.High {
		b.bar.High = bar.High
	}
	if bar.Low < b.bar.Low {
		b.bar.Low = bar.Low
	}
	b.bar.Close = bar.Close
	b.bar.Volume += bar.Volume
	b.spreadSum += bar.Spread
	b.count++
}

func (b *bucket) emit() market.Bar {
	out := b.bar
	if b.count > 0 {
		out.Spread = b.spreadSum / float64(b.count)
	}
	return out
}

// Series resamples a complete base series into one target timeframe.
// The trailing bucket is dropped when it is still incomplete.
func Series(bars []market.Bar, base, target market.Timeframe) ([]market.Bar, error) {
	r, err := New(base, []market.Timeframe{target})
	if err != nil {
		return nil, err
	}
	out := make([]market.Bar, 0, len(bars)/int(target.Duration()/base.Duration())+1)
	for _, bar := range bars {
		closed, err := r.Push(bar)
		if err != nil {
			return nil, err
		}
		out = append(out, closed...)
	}
	return out, nil
}
