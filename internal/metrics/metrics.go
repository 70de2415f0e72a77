// Package metrics collects and exposes Prometheus metrics for the
// agent loop, the confirmation protocol, and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the agent package's Observer and
// ConfirmObserver interfaces over a Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	modelCalls    *prometheus.CounterVec
	modelLatency  prometheus.Histogram
	toolCalls     *prometheus.CounterVec
	proposals     *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	streakRecalcs *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daybreak_model_calls_total",
			Help: "Model provider calls by outcome.",
		}, []string{"outcome"}),
		modelLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "daybreak_model_call_seconds",
			Help:    "Model provider call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daybreak_tool_calls_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daybreak_proposals_total",
			Help: "Proposals captured from the agent loop by action.",
		}, []string{"action"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daybreak_resolutions_total",
			Help: "Proposal resolutions by action and decision.",
		}, []string{"action", "decision"}),
		streakRecalcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daybreak_streak_recalcs_total",
			Help: "Streak recomputations by outcome.",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daybreak_http_status_total",
			Help: "Responses by HTTP status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.modelCalls,
		c.modelLatency,
		c.toolCalls,
		c.proposals,
		c.resolutions,
		c.streakRecalcs,
		c.httpStatus,
	)
	return c
}

// RecordModelCall records one model provider call.
func (c *Collector) RecordModelCall(d time.Duration, err error) {
	c.modelCalls.WithLabelValues(outcome(err)).Inc()
	c.modelLatency.Observe(d.Seconds())
}

// RecordToolCall records one tool execution.
func (c *Collector) RecordToolCall(tool string, ok bool) {
	o := "success"
	if !ok {
		o = "failure"
	}
	c.toolCalls.WithLabelValues(tool, o).Inc()
}

// RecordProposal records a captured proposal.
func (c *Collector) RecordProposal(action string) {
	c.proposals.WithLabelValues(action).Inc()
}

// RecordResolution records a confirm/cancel decision.
func (c *Collector) RecordResolution(action string, confirmed bool) {
	decision := "cancelled"
	if confirmed {
		decision = "confirmed"
	}
	c.resolutions.WithLabelValues(action, decision).Inc()
}

// RecordStreakRecalc records a streak recomputation.
func (c *Collector) RecordStreakRecalc(err error) {
	c.streakRecalcs.WithLabelValues(outcome(err)).Inc()
}

// RecordHTTPStatus records a response status code.
func (c *Collector) RecordHTTPStatus(code int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler exposes the registry for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
