package comms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "comms",
		Name:      "connections_total",
		Help:      "Total number of routed connections by first message type",
	}, []string{"type"})

	connectionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "comms",
		Name:      "connections_rejected_total",
		Help:      "Total number of connections closed without a handler",
	}, []string{"reason"})

	clusterMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dac",
		Subsystem: "comms",
		Name:      "cluster_members",
		Help:      "Number of connected cluster members",
	})

	forwardedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "comms",
		Name:      "forwarded_messages_total",
		Help:      "Total number of messages forwarded to dac transmit processes or cluster members",
	}, []string{"type", "destination"})

	balanceRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "comms",
		Name:      "balance_requests_total",
		Help:      "Total number of transmitter groups requested from the cluster for load balancing",
	})

	lineTapSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dac",
		Subsystem: "comms",
		Name:      "linetap_subscribers",
		Help:      "Number of connected line tap clients",
	})

	lineTapDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "comms",
		Name:      "linetap_dropped_total",
		Help:      "Total number of audio payloads dropped for slow line tap clients",
	})
)
