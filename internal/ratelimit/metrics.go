package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pio7",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by preset and outcome.",
	}, []string{"preset", "outcome"})

	monitoredBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pio7",
		Subsystem: "ratelimit",
		Name:      "monitored_blocks_total",
		Help:      "Requests a monitor-mode policy would have blocked.",
	}, []string{"preset"})
)

func observe(cfg Config, d Decision) {
	outcome := "allowed"
	switch {
	case d.Degraded && d.Allowed:
		outcome = "degraded_open"
	case d.Degraded:
		outcome = "degraded_closed"
	case !d.Allowed:
		outcome = "blocked"
	}
	decisions.WithLabelValues(cfg.Name, outcome).Inc()
}
