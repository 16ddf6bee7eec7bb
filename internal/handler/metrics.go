package handler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/salesdb/internal/wire"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesdb_requests_total",
		Help: "Requests handled by opcode and outcome",
	}, []string{"opcode", "outcome"})
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salesdb_request_duration_seconds",
		Help:    "Time from frame arrival to response by opcode",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"opcode"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

// outcome labels besides the error categories
const (
	outcomeOK    = "ok"
	outcomePanic = "panic"
)

func observe(op wire.Opcode, outcome string, start time.Time) {
	requestsTotal.WithLabelValues(op.String(), outcome).Inc()
	requestDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
}
