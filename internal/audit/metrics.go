package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var writes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pio7",
	Subsystem: "audit",
	Name:      "writes_total",
	Help:      "Audit entries delivered, by result.",
}, []string{"result"})
