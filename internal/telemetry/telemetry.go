// Package telemetry registers the prometheus instruments exposed on
// the control-plane /metrics endpoint.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all vaultd instruments on a private registry so tests
// never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	// TasksProcessed counts tasks reaching a terminal state, labeled
	// by status and domain.
	TasksProcessed *prometheus.CounterVec

	// RetryAttempts counts individual action invocations.
	RetryAttempts prometheus.Counter

	// ApprovalDecisions counts gate outcomes, labeled by decision
	// (requested, granted, denied, overridden).
	ApprovalDecisions *prometheus.CounterVec

	// PartitionDepth tracks documents per partition, labeled by status.
	PartitionDepth *prometheus.GaugeVec

	// BriefingRuns counts weekly aggregator invocations.
	BriefingRuns prometheus.Counter
}

// New creates the instrument set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultd_tasks_processed_total",
			Help: "Tasks reaching a terminal state, by status and domain.",
		}, []string{"status", "domain"}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultd_retry_attempts_total",
			Help: "External action invocations, including retries.",
		}),
		ApprovalDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultd_approval_decisions_total",
			Help: "Approval gate outcomes by decision.",
		}, []string{"decision"}),
		PartitionDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultd_partition_depth",
			Help: "Task documents per store partition.",
		}, []string{"status"}),
		BriefingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultd_briefing_runs_total",
			Help: "Weekly aggregator invocations.",
		}),
	}
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for tests.
func (m *Metrics) Gather() prometheus.Gatherer {
	return m.registry
}
