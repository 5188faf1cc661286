// Package metrics exposes Prometheus counters for the scoring service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Recorder collects engine counters. A nil Recorder discards everything.
type Recorder struct {
	registry     *prometheus.Registry
	bars         *prometheus.CounterVec
	events       *prometheus.CounterVec
	results      *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	journal      *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	scores       *prometheus.HistogramVec
	cycleLatency prometheus.Histogram
}

// New registers every collector on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		bars: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setupscore_bars_processed_total",
				Help: "Base bars fed into pipelines",
			},
			[]string{"instrument"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setupscore_structure_events_total",
				Help: "Structure events by timeframe and kind",
			},
			[]string{"instrument", "timeframe", "kind"},
		),
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setupscore_setups_scored_total",
				Help: "Scored setups by grade",
			},
			[]string{"instrument", "grade"},
		),
		conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setupscore_setup_conflicts_total",
				Help: "Scored setups that oppose an active trade",
			},
			[]string{"instrument"},
		),
		journal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setupscore_journal_writes_total",
				Help: "Journal appends by outcome",
			},
			[]string{"outcome"},
		),
		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setupscore_alerts_sent_total",
				Help: "Alerts by outcome",
			},
			[]string{"outcome"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setupscore_errors_total",
				Help: "Errors by stage",
			},
			[]string{"stage"},
		),
		scores: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "setupscore_score",
				Help:    "Distribution of maturity scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.55, 0.65, 0.7, 0.8, 0.85, 0.9, 1},
			},
			[]string{"instrument"},
		),
		cycleLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "setupscore_cycle_duration_seconds",
				Help:    "Duration of one scheduled cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RecordBar counts one processed base bar.
func (r *Recorder) RecordBar(instrument string) {
	if r == nil {
		return
	}
	r.bars.WithLabelValues(instrument).Inc()
}

// RecordEvent counts a structure event.
func (r *Recorder) RecordEvent(instrument, timeframe, kind string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(instrument, timeframe, kind).Inc()
}

// RecordResult counts a scored setup and observes its score.
func (r *Recorder) RecordResult(instrument, grade string, score float64, conflict bool) {
	if r == nil {
		return
	}
	r.results.WithLabelValues(instrument, grade).Inc()
	r.scores.WithLabelValues(instrument).Observe(score)
	if conflict {
		r.conflicts.WithLabelValues(instrument).Inc()
	}
}

// RecordJournal counts a journal append: written, duplicate or failed.
func (r *Recorder) RecordJournal(outcome string) {
	if r == nil {
		return
	}
	r.journal.WithLabelValues(outcome).Inc()
}

// RecordAlert counts an alert: sent or failed.
func (r *Recorder) RecordAlert(outcome string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(outcome).Inc()
}

// RecordError counts an error at a stage such as fetch or process.
func (r *Recorder) RecordError(stage string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(stage).Inc()
}

// ObserveCycle records cycle latency.
func (r *Recorder) ObserveCycle(d time.Duration) {
	if r == nil {
		return
	}
	r.cycleLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
