package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	grab = "grab"

	jobsTotal          = "jobs_total"
	jobsStatusCount    = "jobs_status_count"
	reaperRemovedTotal = "reaper_removed_total"
	releasesTotal      = "releases_total"

	// Labels
	jobStatusLabel = "status"
)

var jobStatusLabels = []string{
	jobStatusLabel,
}

/**
* Metrics definition
**/
var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: grab,
		Name:      jobsTotal,
		Help:      "number of download jobs which reached a terminal status",
	},
	jobStatusLabels,
)

var jobsStatusCountMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: grab,
		Name:      jobsStatusCount,
		Help:      "number of resident download jobs in each status",
	},
	jobStatusLabels,
)

var reaperRemovedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: grab,
		Name:      reaperRemovedTotal,
		Help:      "number of stale files removed by the reaper",
	},
)

var releasesTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: grab,
		Name:      releasesTotal,
		Help:      "number of jobs released after their result was retrieved",
	},
)

func IncreaseJobsTotalMetric(status string) {
	labels := prometheus.Labels{
		jobStatusLabel: status,
	}
	jobsTotalMetric.With(labels).Inc()
}

func UpdateJobStatusCountMetric(status string, count int) {
	labels := prometheus.Labels{
		jobStatusLabel: status,
	}
	jobsStatusCountMetric.With(labels).Set(float64(count))
}

func IncreaseReaperRemovedMetric(count int) {
	reaperRemovedTotalMetric.Add(float64(count))
}

func IncreaseReleasesMetric() {
	releasesTotalMetric.Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(jobsStatusCountMetric)
	prometheus.MustRegister(reaperRemovedTotalMetric)
	prometheus.MustRegister(releasesTotalMetric)
}
