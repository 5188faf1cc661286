package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// JournalRow is the table form of a journal record.
type JournalRow struct {
	RecordID   string
	Instrument string
	Timeframe  string
	SetupTS    time.Time
	Direction  string
	EventID    string
	EventKind  string
	ZoneID     *string
	ZoneKind   *string
	Features   []byte
	Score      decimal.Decimal
	Grade      string
	Conflict   bool
	Conflicts  []byte
	Phase      string
	Action     *string
	Reason     *string
	RecordedAt time.Time
}

// TradeRow is the table form of an open position.
type TradeRow struct {
	ID         string
	Instrument string
	Direction  string
	EntryPrice decimal.Decimal
	OpenedAt   time.Time
	ExpiresAt  *time.Time
	ClosedAt   *time.Time
}
