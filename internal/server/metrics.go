package server

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "salesdb_connections_active",
		Help: "Open client connections",
	})
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesdb_connections_total",
		Help: "Accepted client connections",
	})
	loginsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesdb_logins_blocked_total",
		Help: "Times an IP reached the failed-login limit",
	})
)

func init() {
	prometheus.MustRegister(connectionsActive, connectionsTotal, loginsBlockedTotal)
}
