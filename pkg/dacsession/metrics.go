package dacsession

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "session",
		Name:      "packets_sent_total",
		Help:      "Total number of audio packets sent to the DAC",
	}, []string{"group"})

	sendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "session",
		Name:      "send_errors_total",
		Help:      "Total number of failed packet or control sends",
	}, []string{"group"})

	syncLossesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "session",
		Name:      "sync_losses_total",
		Help:      "Total number of DAC synchronization losses",
	}, []string{"group"})

	malformedStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "session",
		Name:      "malformed_status_total",
		Help:      "Total number of unparseable DAC status messages",
	}, []string{"group"})

	unitsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "session",
		Name:      "units_finished_total",
		Help:      "Total number of audio units finished",
	}, []string{"kind", "result"})

	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "session",
		Name:      "state_transitions_total",
		Help:      "Total number of session state transitions",
	}, []string{"from", "to"})

	dacBufferPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dac",
		Subsystem: "session",
		Name:      "buffer_packets",
		Help:      "Last reported DAC jitter buffer fill",
	}, []string{"group"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dac",
		Subsystem: "session",
		Name:      "cycle_duration_seconds",
		Help:      "Time spent producing and sending one packet",
		Buckets:   []float64{.0001, .0005, .001, .002, .005, .01, .02, .05},
	})
)
