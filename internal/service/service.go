// Package service runs pipelines against a bar feed and routes every scored
// setup to the journal, the action policy and the notifier.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"setup-maturity/internal/alerting"
	"setup-maturity/internal/config"
	"setup-maturity/internal/feed"
	"setup-maturity/internal/journal"
	"setup-maturity/internal/market"
	"setup-maturity/internal/metrics"
	"setup-maturity/internal/pipeline"
	"setup-maturity/internal/policy"
	"setup-maturity/internal/scheduler"
	"setup-maturity/internal/scoring"
	"setup-maturity/internal/storage"
	"setup-maturity/internal/trades"
)

// BarArchive persists fetched bars so later runs can replay them.
type BarArchive interface {
	UpsertBars(ctx context.Context, instrument string, bars []market.Bar) (int, error)
}

// Deps are the collaborators of a Service. Source and Journal are required.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Source    feed.Source
	Trades    trades.Provider
	Journal   journal.Writer
	Notifier  alerting.Notifier
	Metrics   *metrics.Recorder
	Locker    storage.AdvisoryLocker
	Archive   BarArchive
}

// Summary counts what one cycle or replay produced.
type Summary struct {
	Bars     int
	Events   int
	Results  int
	Written  int
	Alerts   int
	Rejected int
}

func (s *Summary) add(o Summary) {
	s.Bars += o.Bars
	s.Events += o.Events
	s.Results += o.Results
	s.Written += o.Written
	s.Alerts += o.Alerts
	s.Rejected += o.Rejected
}

type instrument struct {
	// mu serialises cycles; a pipeline is not safe for concurrent use.
	mu       sync.Mutex
	pipeline *pipeline.Pipeline
	cursor   time.Time
	// retry holds evaluations whose journal write failed, oldest first.
	retry []pendingRecord
}

func (in *instrument) queued() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.retry)
}

// pendingRecord is an evaluation not yet stored by every sink. written
// remembers whether an earlier partial attempt already stored it somewhere.
type pendingRecord struct {
	rec     journal.Record
	written bool
}

// Service orchestrates fetching, scoring, journaling and alerting.
type Service struct {
	deps        Deps
	policy      *policy.Policy
	instruments []*instrument
	logger      zerolog.Logger

	channels   []string
	alertsOn   bool
	fetchLimit int
	lookback   time.Duration
	lockKey    int64
	now        func() time.Time
}

// New builds one pipeline per configured instrument.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("service: bar source is required")
	}
	if deps.Journal == nil {
		return nil, errors.New("service: journal is required")
	}

	pol, err := policy.New(cfg.Policy)
	if err != nil {
		return nil, err
	}
	pcs, err := cfg.Pipelines()
	if err != nil {
		return nil, err
	}

	instruments := make([]*instrument, 0, len(pcs))
	for _, pc := range pcs {
		p, err := pipeline.New(pc, logger)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, &instrument{pipeline: p})
	}

	return &Service{
		deps:        deps,
		policy:      pol,
		instruments: instruments,
		logger:      logger.With().Str("component", "service").Logger(),
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled && deps.Notifier != nil,
		fetchLimit:  cfg.Feed.FetchLimit,
		lookback:    cfg.Feed.Lookback,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Instruments lists the evaluated symbols.
func (s *Service) Instruments() []string {
	out := make([]string, 0, len(s.instruments))
	for _, in := range s.instruments {
		out = append(out, in.pipeline.Instrument())
	}
	return out
}

// Run begins the aligned polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的拉取与评分逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	sum, err := s.executeBucket(ctx, bucket)
	s.deps.Metrics.ObserveCycle(time.Since(started))
	s.logger.Info().Time("bucket", bucket).
		Int("bars", sum.Bars).
		Int("results", sum.Results).
		Int("written", sum.Written).
		Int("alerts", sum.Alerts).
		Msg("cycle complete")
	return err
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) (Summary, error) {
	var total Summary
	var errs []error
	for _, in := range s.instruments {
		if in.cursor.IsZero() && s.lookback > 0 {
			in.cursor = in.pipeline.Base().Truncate(bucket.Add(-s.lookback)).Add(-time.Nanosecond)
		}
		sum, err := s.catchUp(ctx, in)
		total.add(sum)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", in.pipeline.Instrument(), err))
		}
	}
	return total, errors.Join(errs...)
}

// catchUp pages through the source until it runs dry.
func (s *Service) catchUp(ctx context.Context, in *instrument) (Summary, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	total := s.flushRetries(ctx, in)
	name := in.pipeline.Instrument()
	for {
		bars, err := s.deps.Source.Fetch(ctx, name, in.pipeline.Base(), in.cursor, s.fetchLimit)
		if err != nil {
			s.deps.Metrics.RecordError("fetch")
			return total, fmt.Errorf("fetch bars: %w", err)
		}
		if len(bars) == 0 {
			return total, nil
		}
		if s.deps.Archive != nil {
			if _, err := s.deps.Archive.UpsertBars(ctx, name, bars); err != nil {
				s.logger.Error().Err(err).Str("instrument", name).Msg("failed to archive bars")
			}
		}

		sum, err := s.feed(ctx, in, bars)
		total.add(sum)
		if err != nil {
			return total, err
		}
		if s.fetchLimit <= 0 || len(bars) < s.fetchLimit {
			return total, nil
		}
	}
}

// Replay pushes the full history of every instrument through its pipeline,
// instruments in parallel.
func (s *Service) Replay(ctx context.Context) (Summary, error) {
	var (
		mu    sync.Mutex
		total Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, in := range s.instruments {
		in := in
		g.Go(func() error {
			sum, err := s.catchUp(gctx, in)

			mu.Lock()
			total.add(sum)
			mu.Unlock()

			name := in.pipeline.Instrument()
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if n := in.queued(); n > 0 {
				return fmt.Errorf("%s: %d evaluations not journaled", name, n)
			}
			s.logger.Info().Str("instrument", name).Int("bars", sum.Bars).Int("results", sum.Results).Msg("回放完成")
			return nil
		})
	}
	err := g.Wait()
	return total, err
}

// feed processes bars in order. A malformed bar ends the batch; the cursor
// stays on the last accepted bar.
func (s *Service) feed(ctx context.Context, in *instrument, bars []market.Bar) (Summary, error) {
	var sum Summary
	name := in.pipeline.Instrument()

	open, err := s.activeTrades(ctx, name)
	if err != nil {
		return sum, err
	}

	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		step, err := in.pipeline.Process(bar, open)
		if err != nil {
			sum.Rejected++
			s.deps.Metrics.RecordError("process")
			return sum, err
		}
		in.cursor = bar.Time
		sum.Bars++
		sum.Events += len(step.Events)
		s.deps.Metrics.RecordBar(name)
		for _, ev := range step.Events {
			s.deps.Metrics.RecordEvent(name, string(ev.Timeframe), string(ev.Kind))
		}
		for _, r := range step.Results {
			written, alerted := s.handleResult(ctx, in, r)
			sum.Results++
			if written {
				sum.Written++
			}
			if alerted {
				sum.Alerts++
			}
		}
	}
	return sum, nil
}

// handleResult applies the policy and journals the evaluation.
func (s *Service) handleResult(ctx context.Context, in *instrument, r scoring.Result) (written, alerted bool) {
	decision := s.policy.Decide(r)
	rec := journal.FromResult(r, decision, s.now())
	s.deps.Metrics.RecordResult(r.Instrument, string(r.Grade), r.Score.InexactFloat64(), r.Conflict)

	s.logger.Info().
		Str("instrument", r.Instrument).
		Str("tf", string(r.Timeframe)).
		Str("kind", string(r.EventKind)).
		Str("direction", string(r.Direction)).
		Str("score", r.Score.StringFixed(3)).
		Str("grade", string(r.Grade)).
		Bool("conflict", r.Conflict).
		Str("action", string(decision.Action)).
		Time("at", r.Time).
		Msg("setup scored")

	return s.commit(ctx, in, pendingRecord{rec: rec})
}

// commit writes one record to the journal. A failed write is queued on the
// instrument and retried before its next fetch; the deterministic record id
// makes the retry a no-op for sinks that already hold it. Alerts go out once,
// when a newly written record is fully stored. Callers hold in.mu.
func (s *Service) commit(ctx context.Context, in *instrument, p pendingRecord) (written, alerted bool) {
	ok, err := s.deps.Journal.Append(ctx, p.rec)
	p.written = p.written || ok
	if err != nil {
		s.deps.Metrics.RecordJournal("failed")
		in.retry = append(in.retry, p)
		s.logger.Error().Err(err).Str("id", p.rec.ID).Int("queued", len(in.retry)).Msg("failed to journal evaluation, queued for retry")
		return false, false
	}
	if !p.written {
		s.deps.Metrics.RecordJournal("duplicate")
		return false, false
	}
	s.deps.Metrics.RecordJournal("written")
	return true, s.alert(ctx, p.rec)
}

func (s *Service) alert(ctx context.Context, rec journal.Record) bool {
	if !s.alertsOn || !policy.Action(rec.Action).Actionable() {
		return false
	}
	if err := s.deps.Notifier.Notify(ctx, alerting.FromRecord(rec, s.channels)); err != nil {
		s.deps.Metrics.RecordAlert("failed")
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("failed to dispatch alert")
		return false
	}
	s.deps.Metrics.RecordAlert("sent")
	return true
}

// flushRetries replays queued journal writes in their original order.
// Callers hold in.mu.
func (s *Service) flushRetries(ctx context.Context, in *instrument) Summary {
	var sum Summary
	if len(in.retry) == 0 {
		return sum
	}
	queued := in.retry
	in.retry = nil
	for _, p := range queued {
		written, alerted := s.commit(ctx, in, p)
		if written {
			sum.Written++
		}
		if alerted {
			sum.Alerts++
		}
	}
	s.logger.Info().Str("instrument", in.pipeline.Instrument()).
		Int("retried", len(queued)).Int("still_queued", len(in.retry)).
		Msg("journal retry flushed")
	return sum
}

// Unjournaled reports how many evaluations of an instrument still wait for a
// successful journal write.
func (s *Service) Unjournaled(name string) int {
	for _, in := range s.instruments {
		if strings.EqualFold(in.pipeline.Instrument(), name) {
			return in.queued()
		}
	}
	return 0
}

func (s *Service) activeTrades(ctx context.Context, name string) ([]trades.ActiveTrade, error) {
	if s.deps.Trades == nil {
		return nil, nil
	}
	open, err := s.deps.Trades.ActiveTrades(ctx, name)
	if err != nil {
		s.deps.Metrics.RecordError("trades")
		return nil, fmt.Errorf("active trades: %w", err)
	}
	return open, nil
}

// Pipeline exposes an instrument's pipeline for inspection.
func (s *Service) Pipeline(name string) (*pipeline.Pipeline, bool) {
	for _, in := range s.instruments {
		if strings.EqualFold(in.pipeline.Instrument(), name) {
			return in.pipeline, true
		}
	}
	return nil, false
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
