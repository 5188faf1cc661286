package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"setup-maturity/internal/storage"
	"setup-maturity/internal/trades"
)

// tradeWriter is implemented by the redis provider and the postgres store.
type tradeWriter interface {
	Put(ctx context.Context, t trades.ActiveTrade) error
	Remove(ctx context.Context, instrument, id string) error
}

// storeTrades adapts the postgres store to tradeWriter.
type storeTrades struct {
	store *storage.Store
	now   func() time.Time
}

func (s storeTrades) Put(ctx context.Context, t trades.ActiveTrade) error {
	return s.store.UpsertTrade(ctx, t)
}

func (s storeTrades) Remove(ctx context.Context, _ string, id string) error {
	return s.store.CloseTrade(ctx, id, s.now())
}

func (a *App) tradeWriter(ctx context.Context) (tradeWriter, func(), error) {
	switch strings.ToLower(a.Config.Trades.Source) {
	case "redis":
		p, err := trades.NewRedisProvider(ctx, a.Config.Redis)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case "postgres":
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if store == nil {
			return nil, nil, fmt.Errorf("trades.source=postgres: %w", storage.ErrNotConfigured)
		}
		return storeTrades{store: store, now: func() time.Time { return time.Now().UTC() }}, closeStore, nil
	default:
		return nil, nil, fmt.Errorf("trades.source=%q is read-only: %w", a.Config.Trades.Source, trades.ErrNoProvider)
	}
}

// OpenTrade registers an active trade so new setups are checked against it.
func (a *App) OpenTrade(ctx context.Context, opts TradeOptions) error {
	dir, err := trades.ParseDirection(opts.Direction)
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.ID) == "" || strings.TrimSpace(opts.Instrument) == "" {
		return errors.New("--id and --instrument are required")
	}
	t := trades.ActiveTrade{
		ID:         opts.ID,
		Instrument: strings.ToUpper(strings.TrimSpace(opts.Instrument)),
		Direction:  dir,
		EntryPrice: opts.EntryPrice,
		OpenedAt:   opts.OpenedAt.UTC(),
		ExpiresAt:  opts.ExpiresAt,
	}
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	if !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(t.OpenedAt) {
		return errors.New("expires-at must not be before opened-at")
	}

	w, closer, err := a.tradeWriter(ctx)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}
	if err := w.Put(ctx, t); err != nil {
		return err
	}
	a.Logger.Info().Str("id", t.ID).Str("instrument", t.Instrument).Str("direction", string(t.Direction)).Msg("trade opened")
	return nil
}

// CloseTrade removes an active trade.
func (a *App) CloseTrade(ctx context.Context, opts TradeOptions) error {
	if strings.TrimSpace(opts.ID) == "" || strings.TrimSpace(opts.Instrument) == "" {
		return errors.New("--id and --instrument are required")
	}
	w, closer, err := a.tradeWriter(ctx)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}
	if err := w.Remove(ctx, strings.ToUpper(strings.TrimSpace(opts.Instrument)), opts.ID); err != nil {
		return err
	}
	a.Logger.Info().Str("id", opts.ID).Msg("trade closed")
	return nil
}

// ListTrades returns the active trades an instrument would be checked against.
func (a *App) ListTrades(ctx context.Context, instrument string) ([]trades.ActiveTrade, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		defer closeStore()
	}
	provider, closer, err := a.tradesProvider(ctx, store)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}
	if provider == nil {
		return nil, trades.ErrNoProvider
	}
	return provider.ActiveTrades(ctx, instrument)
}
