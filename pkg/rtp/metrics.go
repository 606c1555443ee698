package rtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	datagramsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "transport",
		Name:      "datagrams_sent_total",
		Help:      "Total number of UDP datagrams sent",
	})

	datagramsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "transport",
		Name:      "datagrams_received_total",
		Help:      "Total number of UDP datagrams received",
	})

	sendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "transport",
		Name:      "send_errors_total",
		Help:      "Total number of failed UDP writes",
	})
)
