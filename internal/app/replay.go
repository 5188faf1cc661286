package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"setup-maturity/internal/feed"
	"setup-maturity/internal/market"
	"setup-maturity/internal/service"
)

// Replay feeds historical bars through every instrument pipeline.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	base, err := market.ParseTimeframe(a.Config.Engine.BaseTimeframe)
	if err != nil {
		return err
	}
	var from, to time.Time
	if opts.From != nil {
		from = alignForward(opts.From.UTC(), base.Duration())
	}
	if opts.To != nil {
		to = opts.To.UTC()
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return errors.New("回放范围为空，请检查 --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	source, err := a.newSource(store, opts.Dir)
	if err != nil {
		return err
	}
	if !from.IsZero() || !to.IsZero() {
		source = &windowSource{Source: source, from: from, to: to}
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("回放 dry-run：结果只保存在内存中")
	}
	sink, err := a.openJournal(store, opts.DryRun)
	if err != nil {
		return err
	}
	defer sink.Close()

	provider, closeTrades, err := a.tradesProvider(ctx, store)
	if err != nil {
		return err
	}
	if closeTrades != nil {
		defer closeTrades()
	}

	// historical setups are journaled, never alerted
	svc, err := service.New(a.Config, service.Deps{Source: source, Trades: provider, Journal: sink}, a.Logger)
	if err != nil {
		return err
	}

	sum, err := svc.Replay(ctx)
	fmt.Fprintf(os.Stdout, "bars=%d events=%d setups=%d journaled=%d alerts=%d rejected=%d\n",
		sum.Bars, sum.Events, sum.Results, sum.Written, sum.Alerts, sum.Rejected)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("bars", sum.Bars).Int("setups", sum.Results).Msg("回放完成")
	return nil
}

// windowSource clips another source to [from, to).
type windowSource struct {
	feed.Source
	from time.Time
	to   time.Time
}

func (w *windowSource) Fetch(ctx context.Context, instrument string, tf market.Timeframe, after time.Time, limit int) ([]market.Bar, error) {
	if !w.from.IsZero() && after.Before(w.from) {
		after = w.from.Add(-time.Nanosecond)
	}
	bars, err := w.Source.Fetch(ctx, instrument, tf, after, limit)
	if err != nil {
		return nil, err
	}
	if w.to.IsZero() {
		return bars, nil
	}
	for i, b := range bars {
		if !b.Time.Before(w.to) {
			return bars[:i], nil
		}
	}
	return bars, nil
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
