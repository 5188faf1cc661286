package storage

import (
	"context"
	"time"

	"setup-maturity/internal/journal"
)

// Journal exposes the journal_records table as a journal sink. The pool is
// owned by the Store, so Close is a no-op.
type Journal struct {
	store JournalStore
}

// NewJournal wraps a store.
func NewJournal(store JournalStore) *Journal {
	return &Journal{store: store}
}

// Append inserts once per record id.
func (j *Journal) Append(ctx context.Context, rec journal.Record) (bool, error) {
	return j.store.InsertJournal(ctx, rec)
}

// Recent lists the newest records.
func (j *Journal) Recent(ctx context.Context, instrument string, limit int) ([]journal.Record, error) {
	return j.store.ListRecentJournal(ctx, instrument, limit)
}

// Between lists records in [from, to).
func (j *Journal) Between(ctx context.Context, instrument string, from, to time.Time) ([]journal.Record, error) {
	return j.store.ListJournalBetween(ctx, instrument, from, to)
}

// Close leaves the pool open.
func (j *Journal) Close() error { return nil }

var _ journal.Sink = (*Journal)(nil)
