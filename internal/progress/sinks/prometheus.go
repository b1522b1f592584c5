package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/knowledge-engine/internal/progress"
)

// PrometheusSink exports per-stage progress metrics via Prometheus.
type PrometheusSink struct {
	outcomes      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	fetchBytes    *prometheus.CounterVec
	graphElements *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledge_progress_events_total",
			Help: "Progress events partitioned by stage and outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "knowledge_stage_duration_seconds",
			Help:    "Processing time of items that ran their stage collaborator.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledge_fetch_bytes_total",
			Help: "Bytes of page content stored per site.",
		}, []string{"site"}),
		graphElements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledge_graph_elements_total",
			Help: "Nodes and edges handled per stage.",
		}, []string{"stage", "kind"}),
	}
	for _, collector := range []prometheus.Collector{
		s.outcomes,
		s.duration,
		s.fetchBytes,
		s.graphElements,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	stage := string(evt.Stage)
	s.outcomes.WithLabelValues(stage, string(evt.Outcome)).Inc()
	if evt.Outcome != progress.OutcomeProcessed {
		return
	}
	if evt.Dur > 0 {
		s.duration.WithLabelValues(stage).Observe(evt.Dur.Seconds())
	}
	if evt.Stage == progress.StageFetch && evt.Bytes > 0 {
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Nodes > 0 {
		s.graphElements.WithLabelValues(stage, "node").Add(float64(evt.Nodes))
	}
	if evt.Edges > 0 {
		s.graphElements.WithLabelValues(stage, "edge").Add(float64(evt.Edges))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
