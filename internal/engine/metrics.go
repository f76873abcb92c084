package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jonathan/genome-harvester/internal/eutils"
	"github.com/jonathan/genome-harvester/internal/types"
)

// Metrics counts job and item outcomes.
type Metrics struct {
	jobsTotal  *prometheus.CounterVec
	itemsTotal *prometheus.CounterVec
}

// NewMetrics registers the engine metrics on the given registerer. A nil
// registerer uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	jobsTotalOpts := prometheus.CounterOpts{
		Name: eutils.MetricsPrefix + "jobs_total",
		Help: "Number of jobs reaching a terminal state, grouped by mode and status",
	}
	itemsTotalOpts := prometheus.CounterOpts{
		Name: eutils.MetricsPrefix + "items_total",
		Help: "Number of processed fetch targets grouped by outcome",
	}
	return &Metrics{
		jobsTotal:  factory.NewCounterVec(jobsTotalOpts, []string{"mode", "status"}),
		itemsTotal: factory.NewCounterVec(itemsTotalOpts, []string{"outcome"}),
	}
}

// RecordJob counts one job reaching a terminal state.
func (m *Metrics) RecordJob(mode types.JobMode, status types.JobStatus) {
	if m == nil {
		return
	}
	m.jobsTotal.With(prometheus.Labels{"mode": string(mode), "status": string(status)}).Inc()
}

// RecordItem counts one processed target.
func (m *Metrics) RecordItem(outcome string) {
	if m == nil {
		return
	}
	m.itemsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}
