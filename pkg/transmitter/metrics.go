package transmitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	playlistsLoadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "transmitter",
		Name:      "playlists_loaded_total",
		Help:      "Total number of playlist load attempts by source and result",
	}, []string{"source", "result"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dac",
		Subsystem: "transmitter",
		Name:      "commands_total",
		Help:      "Total number of manager commands handled by type",
	}, []string{"type"})

	liveBroadcasts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dac",
		Subsystem: "transmitter",
		Name:      "live_broadcasts",
		Help:      "Number of live broadcasts currently fed into the session",
	})
)
