package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/progress"
)

// PrometheusSink exports pipeline progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	stageRecords  *prometheus.GaugeVec
	pagesFetched  prometheus.Counter

	mu     sync.Mutex
	active map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_runs_completed_total",
			Help: "Pipeline runs completed partitioned by status.",
		}, []string{"status"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_runs_active",
			Help: "Pipeline runs currently executing.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Wall time per pipeline run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"stage", "result"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_stage_failures_total",
			Help: "Stage failures partitioned by stage.",
		}, []string{"stage"}),
		stageRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_stage_records",
			Help: "Records handled by the most recent completion of each stage.",
		}, []string{"stage"}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_feed_pages_fetched_total",
			Help: "Feed pages accepted by the crawler.",
		}),
		active: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.stageDuration,
		s.stageFailures,
		s.stageRecords,
		s.pagesFetched,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsActive.Inc()
			}
		case progress.KindRunDone:
			s.runsCompleted.WithLabelValues(evt.Status).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsActive.Dec()
			}
		case progress.KindStageDone:
			s.stageDuration.WithLabelValues(evt.Stage, "ok").Observe(evt.Dur.Seconds())
			s.stageRecords.WithLabelValues(evt.Stage).Set(float64(evt.Records))
		case progress.KindStageError:
			s.stageDuration.WithLabelValues(evt.Stage, "error").Observe(evt.Dur.Seconds())
			s.stageFailures.WithLabelValues(evt.Stage).Inc()
		case progress.KindPage:
			s.pagesFetched.Inc()
		}
	}
	return nil
}

// track adds or removes runID from the active set and reports whether the
// set changed.
func (s *PrometheusSink) track(runID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	if start {
		if ok {
			return false
		}
		s.active[runID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.active, runID)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
