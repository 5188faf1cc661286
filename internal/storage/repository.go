package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"setup-maturity/internal/journal"
	"setup-maturity/internal/market"
	"setup-maturity/internal/trades"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertJournalSQL = `INSERT INTO journal_records (
        record_id,
        instrument,
        timeframe,
        setup_ts,
        direction,
        event_id,
        event_kind,
        zone_id,
        zone_kind,
        features,
        score,
        grade,
        conflict,
        conflicts,
        phase,
        action,
        reason,
        recorded_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
    )
    ON CONFLICT (record_id) DO NOTHING;`

	journalColumns = `record_id,
        instrument,
        timeframe,
        setup_ts,
        direction,
        event_id,
        event_kind,
        zone_id,
        zone_kind,
        features,
        score::text,
        grade,
        conflict,
        conflicts,
        phase,
        action,
        reason,
        recorded_at`

	listRecentJournalSQL = `SELECT ` + journalColumns + `
    FROM journal_records
    WHERE ($1 = '' OR upper(instrument) = upper($1))
    ORDER BY setup_ts DESC, record_id
    LIMIT $2;`

	listJournalBetweenSQL = `SELECT ` + journalColumns + `
    FROM journal_records
    WHERE ($1 = '' OR upper(instrument) = upper($1))
      AND setup_ts >= $2
      AND setup_ts < $3
    ORDER BY setup_ts, record_id;`

	upsertBarSQL = `INSERT INTO bars (
        instrument,
        timeframe,
        bar_ts,
        open,
        high,
        low,
        close,
        volume,
        spread
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (instrument, timeframe, bar_ts) DO NOTHING;`

	listBarsAfterSQL = `SELECT
        bar_ts,
        open::text,
        high::text,
        low::text,
        close::text,
        volume::text,
        spread::text
    FROM bars
    WHERE upper(instrument) = upper($1)
      AND timeframe = $2
      AND bar_ts > $3
    ORDER BY bar_ts
    LIMIT $4;`

	listActiveTradesSQL = `SELECT
        trade_id,
        instrument,
        direction,
        entry_price::text,
        opened_at,
        expires_at,
        closed_at
    FROM active_trades
    WHERE upper(instrument) = upper($1)
      AND closed_at IS NULL
    ORDER BY opened_at, trade_id;`

	upsertTradeSQL = `INSERT INTO active_trades (
        trade_id,
        instrument,
        direction,
        entry_price,
        opened_at,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (trade_id) DO UPDATE
    SET instrument  = EXCLUDED.instrument,
        direction   = EXCLUDED.direction,
        entry_price = EXCLUDED.entry_price,
        opened_at   = EXCLUDED.opened_at,
        expires_at  = EXCLUDED.expires_at,
        closed_at   = NULL;`

	closeTradeSQL = `UPDATE active_trades
    SET closed_at = $2
    WHERE trade_id = $1 AND closed_at IS NULL;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// JournalStore persists evaluation records.
type JournalStore interface {
	InsertJournal(ctx context.Context, rec journal.Record) (bool, error)
	ListRecentJournal(ctx context.Context, instrument string, limit int) ([]journal.Record, error)
	ListJournalBetween(ctx context.Context, instrument string, from, to time.Time) ([]journal.Record, error)
}

// BarStore persists base bars for the live feed.
type BarStore interface {
	UpsertBars(ctx context.Context, instrument string, bars []market.Bar) (int, error)
	ListBarsAfter(ctx context.Context, instrument string, tf market.Timeframe, after time.Time, limit int) ([]market.Bar, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to journal, bars and trades.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertJournal stores a record once; a second insert of the same id is a no-op.
func (s *Store) InsertJournal(ctx context.Context, rec journal.Record) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	row, err := toJournalRow(rec)
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertJournalSQL,
		row.RecordID,
		row.Instrument,
		row.Timeframe,
		row.SetupTS,
		row.Direction,
		row.EventID,
		row.EventKind,
		row.ZoneID,
		row.ZoneKind,
		row.Features,
		row.Score.String(),
		row.Grade,
		row.Conflict,
		row.Conflicts,
		row.Phase,
		row.Action,
		row.Reason,
		row.RecordedAt,
	)
	if execErr != nil {
		return false, fmt.Errorf("insert journal record: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListRecentJournal lists the newest records, optionally for one instrument.
func (s *Store) ListRecentJournal(ctx context.Context, instrument string, limit int) ([]journal.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentJournalSQL, instrument, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent journal: %w", queryErr)
	}
	return collectJournal(rows)
}

// ListJournalBetween lists records with from <= setup time < to.
func (s *Store) ListJournalBetween(ctx context.Context, instrument string, from, to time.Time) ([]journal.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listJournalBetweenSQL, instrument, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list journal between: %w", queryErr)
	}
	return collectJournal(rows)
}

func collectJournal(rows pgx.Rows) ([]journal.Record, error) {
	defer rows.Close()
	out := make([]journal.Record, 0)
	for rows.Next() {
		var (
			row      JournalRow
			scoreStr string
		)
		if err := rows.Scan(
			&row.RecordID,
			&row.Instrument,
			&row.Timeframe,
			&row.SetupTS,
			&row.Direction,
			&row.EventID,
			&row.EventKind,
			&row.ZoneID,
			&row.ZoneKind,
			&row.Features,
			&scoreStr,
			&row.Grade,
			&row.Conflict,
			&row.Conflicts,
			&row.Phase,
			&row.Action,
			&row.Reason,
			&row.RecordedAt,
		); err != nil {
			return nil, err
		}
		score, err := decimal.NewFromString(scoreStr)
		if err != nil {
			return nil, fmt.Errorf("parse score: %w", err)
		}
		row.Score = score
		rec, err := fromJournalRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func toJournalRow(rec journal.Record) (JournalRow, error) {
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return JournalRow{}, fmt.Errorf("marshal features: %w", err)
	}
	conflicts, err := json.Marshal(rec.Conflicts)
	if err != nil {
		return JournalRow{}, fmt.Errorf("marshal conflicts: %w", err)
	}
	score, err := decimal.NewFromString(rec.Score)
	if err != nil {
		return JournalRow{}, fmt.Errorf("parse score %q: %w", rec.Score, err)
	}
	return JournalRow{
		RecordID:   rec.ID,
		Instrument: rec.Instrument,
		Timeframe:  rec.Timeframe,
		SetupTS:    rec.Time,
		Direction:  rec.Direction,
		EventID:    rec.EventID,
		EventKind:  rec.EventKind,
		ZoneID:     optional(rec.ZoneID),
		ZoneKind:   optional(rec.ZoneKind),
		Features:   features,
		Score:      score,
		Grade:      rec.Grade,
		Conflict:   rec.Conflict,
		Conflicts:  conflicts,
		Phase:      rec.Phase,
		Action:     optional(rec.Action),
		Reason:     optional(rec.Reason),
		RecordedAt: rec.RecordedAt,
	}, nil
}

func fromJournalRow(row JournalRow) (journal.Record, error) {
	rec := journal.Record{
		ID:         row.RecordID,
		Instrument: row.Instrument,
		Timeframe:  row.Timeframe,
		Time:       row.SetupTS.UTC(),
		Direction:  row.Direction,
		EventID:    row.EventID,
		EventKind:  row.EventKind,
		ZoneID:     deref(row.ZoneID),
		ZoneKind:   deref(row.ZoneKind),
		Score:      row.Score.String(),
		Grade:      row.Grade,
		Conflict:   row.Conflict,
		Phase:      row.Phase,
		Action:     deref(row.Action),
		Reason:     deref(row.Reason),
		RecordedAt: row.RecordedAt.UTC(),
	}
	if len(row.Features) > 0 {
		if err := json.Unmarshal(row.Features, &rec.Features); err != nil {
			return journal.Record{}, fmt.Errorf("parse features: %w", err)
		}
	}
	if len(row.Conflicts) > 0 && string(row.Conflicts) != "null" {
		if err := json.Unmarshal(row.Conflicts, &rec.Conflicts); err != nil {
			return journal.Record{}, fmt.Errorf("parse conflicts: %w", err)
		}
	}
	return rec, nil
}

// UpsertBars stores bars, ignoring ones already present. It returns how many
// were new.
func (s *Store) UpsertBars(ctx context.Context, instrument string, bars []market.Bar) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(upsertBarSQL,
			strings.ToUpper(instrument),
			string(b.Timeframe),
			b.Time.UTC(),
			decimal.NewFromFloat(b.Open).String(),
			decimal.NewFromFloat(b.High).String(),
			decimal.NewFromFloat(b.Low).String(),
			decimal.NewFromFloat(b.Close).String(),
			decimal.NewFromFloat(b.Volume).String(),
			decimal.NewFromFloat(b.Spread).String(),
		)
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range bars {
		tag, execErr := results.Exec()
		if execErr != nil {
			return inserted, fmt.Errorf("upsert bar: %w", execErr)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListBarsAfter lists bars strictly after a timestamp, oldest first.
func (s *Store) ListBarsAfter(ctx context.Context, instrument string, tf market.Timeframe, after time.Time, limit int) ([]market.Bar, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listBarsAfterSQL, instrument, string(tf), after, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list bars after: %w", queryErr)
	}
	defer rows.Close()

	out := make([]market.Bar, 0, limit)
	for rows.Next() {
		var (
			ts                                  time.Time
			open, high, low, cls, volume, spread string
		)
		if err := rows.Scan(&ts, &open, &high, &low, &cls, &volume, &spread); err != nil {
			return nil, err
		}
		bar, err := parseBar(tf, ts, open, high, low, cls, volume, spread)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func parseBar(tf market.Timeframe, ts time.Time, fields ...string) (market.Bar, error) {
	vals := make([]float64, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return market.Bar{}, fmt.Errorf("parse bar %s field %d: %w", ts.Format(time.RFC3339), i, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return market.Bar{
		Time:      ts.UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Spread:    vals[5],
		Timeframe: tf,
	}, nil
}

// ActiveTrades implements trades.Provider on the active_trades table.
func (s *Store) ActiveTrades(ctx context.Context, instrument string) ([]trades.ActiveTrade, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listActiveTradesSQL, instrument)
	if queryErr != nil {
		return nil, fmt.Errorf("list active trades: %w", queryErr)
	}
	defer rows.Close()

	out := make([]trades.ActiveTrade, 0)
	for rows.Next() {
		var (
			row      TradeRow
			entryStr string
		)
		if err := rows.Scan(&row.ID, &row.Instrument, &row.Direction, &entryStr, &row.OpenedAt, &row.ExpiresAt, &row.ClosedAt); err != nil {
			return nil, err
		}
		entry, err := decimal.NewFromString(entryStr)
		if err != nil {
			return nil, fmt.Errorf("parse entry price: %w", err)
		}
		row.EntryPrice = entry
		t, err := tradeFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func tradeFromRow(row TradeRow) (trades.ActiveTrade, error) {
	dir, err := trades.ParseDirection(row.Direction)
	if err != nil {
		return trades.ActiveTrade{}, fmt.Errorf("trade %s: %w", row.ID, err)
	}
	t := trades.ActiveTrade{
		ID:         row.ID,
		Instrument: row.Instrument,
		Direction:  dir,
		EntryPrice: row.EntryPrice.InexactFloat64(),
		OpenedAt:   row.OpenedAt.UTC(),
	}
	if row.ExpiresAt != nil {
		t.ExpiresAt = row.ExpiresAt.UTC()
	}
	return t, nil
}

// UpsertTrade opens or reopens a trade.
func (s *Store) UpsertTrade(ctx context.Context, t trades.ActiveTrade) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var expires interface{}
	if !t.ExpiresAt.IsZero() {
		expires = t.ExpiresAt.UTC()
	}
	if _, execErr := pool.Exec(ctx, upsertTradeSQL,
		t.ID,
		strings.ToUpper(t.Instrument),
		string(t.Direction),
		decimal.NewFromFloat(t.EntryPrice).String(),
		t.OpenedAt.UTC(),
		expires,
	); execErr != nil {
		return fmt.Errorf("upsert trade: %w", execErr)
	}
	return nil
}

// CloseTrade marks a trade closed.
func (s *Store) CloseTrade(ctx context.Context, id string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, closeTradeSQL, id, at.UTC())
	if execErr != nil {
		return fmt.Errorf("close trade: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ JournalStore    = (*Store)(nil)
	_ BarStore        = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
	_ trades.Provider = (*Store)(nil)
)
