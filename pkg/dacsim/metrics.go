package dacsim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "simulator",
		Name:      "packets_received_total",
		Help:      "Total number of audio packets accepted into jitter buffers",
	}, []string{"channel"})

	packetsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "simulator",
		Name:      "packets_rejected_total",
		Help:      "Total number of datagrams ignored by data receivers",
	}, []string{"channel", "reason"})

	emitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "simulator",
		Name:      "emits_total",
		Help:      "Total number of output channel emissions by outcome",
	}, []string{"outcome"})

	syncEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "simulator",
		Name:      "sync_events_total",
		Help:      "Total number of sync obtained/lost/rejected events",
	}, []string{"channel", "event"})

	bufferPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dac",
		Subsystem: "simulator",
		Name:      "buffer_packets",
		Help:      "Current jitter buffer fill",
	}, []string{"channel"})
)
