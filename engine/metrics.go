package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imapx_connections",
			Help: "Open IMAP connections.",
		},
	)
	metricCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapx_commands_total",
			Help: "IMAP commands transmitted, by command name.",
		},
		[]string{"name"},
	)
	metricJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapx_jobs_total",
			Help: "Jobs submitted through the pool, by kind.",
		},
		[]string{"kind"},
	)
	metricActiveCommands = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imapx_commands_active",
			Help: "Commands awaiting their tagged response.",
		},
	)
)
