package qrcode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pio7",
		Subsystem: "qrcode",
		Name:      "issued_total",
		Help:      "Attendance codes issued.",
	})
	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pio7",
		Subsystem: "qrcode",
		Name:      "validations_total",
		Help:      "Code validations, by outcome.",
	}, []string{"outcome"})
)
