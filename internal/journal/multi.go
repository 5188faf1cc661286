package journal

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Multi fans writes out to several sinks and reads from the first.
type Multi struct {
	sinks []Sink
}

// NewMulti requires at least one sink.
func NewMulti(sinks ...Sink) (*Multi, error) {
	if len(sinks) == 0 {
		return nil, errors.New("journal: no sinks")
	}
	return &Multi{sinks: sinks}, nil
}

// Append writes to every sink. It reports true if any sink stored the record.
func (m *Multi) Append(ctx context.Context, rec Record) (bool, error) {
	written := false
	var errs []error
	for _, s := range m.sinks {
		ok, err := s.Append(ctx, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		written = written || ok
	}
	return written, errors.Join(errs...)
}

// Recent reads from the primary sink.
func (m *Multi) Recent(ctx context.Context, instrument string, limit int) ([]Record, error) {
	return m.sinks[0].Recent(ctx, instrument, limit)
}

// Between reads from the primary sink.
func (m *Multi) Between(ctx context.Context, instrument string, from, to time.Time) ([]Record, error) {
	return m.sinks[0].Between(ctx, instrument, from, to)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Filtered drops records below MinScore unless LogAll is set.
type Filtered struct {
	Sink
	logAll   bool
	minScore decimal.Decimal
}

// NewFiltered wraps s.
func NewFiltered(s Sink, logAll bool, minScore float64) *Filtered {
	return &Filtered{Sink: s, logAll: logAll, minScore: decimal.NewFromFloat(minScore)}
}

// Append skips records under the score floor.
func (f *Filtered) Append(ctx context.Context, rec Record) (bool, error) {
	if !f.logAll && rec.ScoreDecimal().LessThan(f.minScore) {
		return false, nil
	}
	return f.Sink.Append(ctx, rec)
}

var (
	_ Sink = (*Multi)(nil)
	_ Sink = (*Filtered)(nil)
)
