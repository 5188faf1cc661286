package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"setup-maturity/internal/alerting"
	"setup-maturity/internal/config"
	"setup-maturity/internal/feed"
	"setup-maturity/internal/journal"
	"setup-maturity/internal/metrics"
	"setup-maturity/internal/scheduler"
	"setup-maturity/internal/service"
	"setup-maturity/internal/storage"
	"setup-maturity/internal/trades"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	telegram := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.RequestTimeout, a.Logger)
	return alerting.NewCooldown(telegram, a.Config.Alerting.Cooldown)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// migrate applies database.migrations_path when both the store and the
// directory exist.
func (a *App) migrate(ctx context.Context, store *storage.Store) error {
	dir := a.Config.Database.MigrationsPath
	if store == nil || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		a.Logger.Warn().Str("path", dir).Msg("migrations directory not found; skipping schema setup")
		return nil
	}
	applied, err := store.Migrate(ctx, dir)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("files", applied).Str("path", dir).Msg("database schema ready")
	return nil
}

// newSource picks the bar feed; csvDir overrides feed.csv_dir.
func (a *App) newSource(store *storage.Store, csvDir string) (feed.Source, error) {
	switch strings.ToLower(a.Config.Feed.Source) {
	case "http":
		return feed.NewHTTPSource(feed.HTTPOptions{
			BaseURL:   a.Config.Feed.BaseURL,
			Timeout:   a.Config.Feed.RequestTimeout,
			UserAgent: a.Config.Feed.UserAgent,
			SymbolMap: a.Config.Symbols(),
		}, a.Logger), nil
	case "postgres":
		if store == nil {
			return nil, fmt.Errorf("feed.source=postgres: %w", storage.ErrNotConfigured)
		}
		return feed.NewStoreSource(store), nil
	default:
		dir := a.Config.Feed.CSVDir
		if csvDir != "" {
			dir = csvDir
		}
		return feed.NewCSVSource(dir), nil
	}
}

// tradesProvider resolves trades.source. The returned closer may be nil.
func (a *App) tradesProvider(ctx context.Context, store *storage.Store) (trades.Provider, func(), error) {
	switch strings.ToLower(a.Config.Trades.Source) {
	case "static":
		return trades.NewStaticProvider(a.Config.Trades.Static), nil, nil
	case "redis":
		p, err := trades.NewRedisProvider(ctx, a.Config.Redis)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case "postgres":
		if store == nil {
			return nil, nil, fmt.Errorf("trades.source=postgres: %w", storage.ErrNotConfigured)
		}
		return store, nil, nil
	default:
		return nil, nil, nil
	}
}

// openJournal fans out to every configured sink behind the score filter.
// memoryOnly replaces the configured sinks, used by dry runs.
func (a *App) openJournal(store *storage.Store, memoryOnly bool) (journal.Sink, error) {
	if memoryOnly {
		return journal.NewFiltered(journal.NewMemory(), a.Config.Journal.LogAll, a.Config.Journal.MinScore), nil
	}

	var sinks []journal.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	for _, name := range a.Config.Journal.Sinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "postgres":
			if store == nil {
				closeAll()
				return nil, fmt.Errorf("journal sink postgres: %w", storage.ErrNotConfigured)
			}
			sinks = append(sinks, storage.NewJournal(store))
		case "jsonl":
			f, err := journal.OpenJSONL(filepath.Join(a.Config.Journal.Dir, "journal.jsonl"))
			if err != nil {
				closeAll()
				return nil, err
			}
			sinks = append(sinks, f)
		case "yaml":
			f, err := journal.OpenYAML(filepath.Join(a.Config.Journal.Dir, "journal.yaml"))
			if err != nil {
				closeAll()
				return nil, err
			}
			sinks = append(sinks, f)
		case "memory":
			sinks = append(sinks, journal.NewMemory())
		}
	}

	multi, err := journal.NewMulti(sinks...)
	if err != nil {
		return nil, err
	}
	return journal.NewFiltered(multi, a.Config.Journal.LogAll, a.Config.Journal.MinScore), nil
}

// Run executes the long-running scoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; postgres journal, bars and lock disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}
	if err := a.migrate(ctx, store); err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Immediate:    true,
	}, a.Logger)
	if err != nil {
		return err
	}

	source, err := a.newSource(store, "")
	if err != nil {
		return err
	}
	provider, closeTrades, err := a.tradesProvider(ctx, store)
	if err != nil {
		return err
	}
	if closeTrades != nil {
		defer closeTrades()
	}
	sink, err := a.openJournal(store, false)
	if err != nil {
		return err
	}
	defer sink.Close()

	var recorder *metrics.Recorder
	if a.Config.Metrics.Enabled {
		recorder = metrics.New()
	}

	deps := service.Deps{
		Scheduler: sched,
		Source:    source,
		Trades:    provider,
		Journal:   sink,
		Notifier:  a.newNotifier(),
		Metrics:   recorder,
	}
	if store != nil {
		deps.Locker = store
		if strings.EqualFold(a.Config.Feed.Source, "http") {
			deps.Archive = store
		}
	}

	svc, err := service.New(a.Config, deps, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if recorder != nil {
		g.Go(func() error {
			return recorder.Serve(gctx, a.Config.Metrics.Addr, a.Logger)
		})
	}
	g.Go(func() error {
		a.Logger.Info().Strs("instruments", svc.Instruments()).Msg("starting scoring service")
		return svc.Run(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting journaled scores.
type ExportOptions struct {
	Instrument string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Instrument string
	Limit      int
}

// ReplayOptions configure a historical replay.
type ReplayOptions struct {
	Dir    string
	From   *time.Time
	To     *time.Time
	DryRun bool
}

// ScoreOptions configure a hand-entered evaluation.
type ScoreOptions struct {
	Instrument string
	Features   map[string]float64
	Notify     bool
}

// TradeOptions describe an active trade to open or close.
type TradeOptions struct {
	ID         string
	Instrument string
	Direction  string
	EntryPrice float64
	OpenedAt   time.Time
	ExpiresAt  time.Time
}
