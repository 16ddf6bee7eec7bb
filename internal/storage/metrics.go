package storage

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics. Label sets are fixed so cardinality stays bounded.
var (
	eventsRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesdb_events_recorded_total",
		Help: "Sale events appended to the current day",
	})
	rolloversTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesdb_day_rollovers_total",
		Help: "Completed day rollovers",
	})
	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesdb_day_evictions_total",
		Help: "Closed days whose raw events were evicted from memory",
	})
	reloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesdb_day_reloads_total",
		Help: "Closed days reloaded from their day file",
	})
	persistErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesdb_day_persist_errors_total",
		Help: "Failed day file writes",
	})
	archivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesdb_days_archived_total",
		Help: "Aged-out days written to Parquet archives",
	})
	waitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesdb_waits_total",
		Help: "Blocking predicate waits by outcome",
	}, []string{"outcome"})
	residentDays = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "salesdb_resident_days",
		Help: "Closed days currently holding raw events in memory",
	})
	retainedDays = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "salesdb_retained_days",
		Help: "Closed days in the retention window",
	})
	waitingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "salesdb_waiting_requests",
		Help: "Blocking predicate waits currently registered",
	})
)

func init() {
	prometheus.MustRegister(
		eventsRecordedTotal,
		rolloversTotal,
		evictionsTotal,
		reloadsTotal,
		persistErrorsTotal,
		archivedTotal,
		waitsTotal,
		residentDays,
		retainedDays,
		waitingRequests,
	)
}

const (
	outcomeSatisfied   = "satisfied"
	outcomeInvalidated = "invalidated"
	outcomeCancelled   = "cancelled"
)
