package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pio7",
	Subsystem: "attendance",
	Name:      "redemptions_total",
	Help:      "Attendance code redemptions, by outcome.",
}, []string{"outcome"})
