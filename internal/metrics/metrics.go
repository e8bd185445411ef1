// Package metrics provides Prometheus instrumentation for the tab bus and the
// relay server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BusEventsTotal counts bus events, labeled by direction or outcome:
	// "sent", "received", "ignored", "dropped".
	BusEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_bus_events_total",
		Help: "Total number of bus events processed",
	}, []string{"outcome"})

	// BusEventsByType counts received bus events per event type.
	BusEventsByType = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_bus_events_by_type_total",
		Help: "Received bus events per event type",
	}, []string{"type"})

	// OnlineUsers tracks the size of this process's presence view.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_online_users",
		Help: "Users currently believed online by this tab",
	})

	// CommandsTotal counts slash commands by result: "ok", "denied",
	// "invalid", "not_found", "failed".
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_commands_total",
		Help: "Slash commands handled",
	}, []string{"result"})

	// RelayConnections tracks the number of open relay WebSocket connections.
	RelayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_relay_connections",
		Help: "Current number of relay WebSocket connections",
	})

	// RelayFramesTotal counts frames handled by the relay, labeled by type:
	// "in", "out", "limited".
	RelayFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_relay_frames_total",
		Help: "Frames handled by the relay",
	}, []string{"type"})

	// RelayFanoutLatency records the time taken to fan a frame out.
	RelayFanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexus_relay_fanout_seconds",
		Help:    "Relay fan-out latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		BusEventsTotal,
		BusEventsByType,
		OnlineUsers,
		CommandsTotal,
		RelayConnections,
		RelayFramesTotal,
		RelayFanoutLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
