// Package journal records every setup evaluation exactly once.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"setup-maturity/internal/policy"
	"setup-maturity/internal/scoring"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("journal: sink closed")

// Record is the persisted form of one evaluation. Score is kept as a decimal
// string so it round-trips exactly through every sink.
type Record struct {
	ID         string                `json:"id" yaml:"id"`
	Instrument string                `json:"instrument" yaml:"instrument"`
	Timeframe  string                `json:"timeframe" yaml:"timeframe"`
	Time       time.Time             `json:"time" yaml:"time"`
	Direction  string                `json:"direction" yaml:"direction"`
	EventID    string                `json:"event_id" yaml:"event_id"`
	EventKind  string                `json:"event_kind" yaml:"event_kind"`
	ZoneID     string                `json:"zone_id,omitempty" yaml:"zone_id,omitempty"`
	ZoneKind   string                `json:"zone_kind,omitempty" yaml:"zone_kind,omitempty"`
	Features   scoring.FeatureVector `json:"features" yaml:"features"`
	Score      string                `json:"score" yaml:"score"`
	Grade      string                `json:"grade" yaml:"grade"`
	Conflict   bool                  `json:"conflict" yaml:"conflict"`
	Conflicts  []scoring.Conflict    `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Phase      string                `json:"phase" yaml:"phase"`
	Action     string                `json:"action,omitempty" yaml:"action,omitempty"`
	Reason     string                `json:"reason,omitempty" yaml:"reason,omitempty"`
	RecordedAt time.Time             `json:"recorded_at" yaml:"recorded_at"`
}

// FromResult flattens a scored setup and its decision.
func FromResult(r scoring.Result, d policy.Decision, now time.Time) Record {
	return Record{
		ID:         r.ID,
		Instrument: r.Instrument,
		Timeframe:  string(r.Timeframe),
		Time:       r.Time.UTC(),
		Direction:  string(r.Direction),
		EventID:    r.EventID,
		EventKind:  string(r.EventKind),
		ZoneID:     r.ZoneID,
		ZoneKind:   string(r.ZoneKind),
		Features:   r.Features,
		Score:      r.Score.String(),
		Grade:      string(r.Grade),
		Conflict:   r.Conflict,
		Conflicts:  r.Conflicts,
		Phase:      string(r.Phase),
		Action:     string(d.Action),
		Reason:     d.Reason,
		RecordedAt: now.UTC(),
	}
}

// ScoreDecimal parses Score; malformed values read as zero.
func (r Record) ScoreDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(r.Score)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Writer appends records. Append reports false when the id was already
// journaled, which is not an error.
type Writer interface {
	Append(ctx context.Context, rec Record) (bool, error)
}

// Reader queries journaled records. Instrument "" matches all.
type Reader interface {
	Recent(ctx context.Context, instrument string, limit int) ([]Record, error)
	Between(ctx context.Context, instrument string, from, to time.Time) ([]Record, error)
}

// Sink is a readable, closable journal.
type Sink interface {
	Writer
	Reader
	Close() error
}
