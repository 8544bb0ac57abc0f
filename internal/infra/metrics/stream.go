package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(streamSubscribers, streamEventsTotal, streamIdleTimeouts) }

var streamSubscribers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Currently attached turn-stream subscribers.",
	},
)

var streamEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stream_events_total",
		Help: "Events yielded to subscribers, labeled by event type and source (snapshot/bus/fallback).",
	},
	[]string{"type", "source"},
)

var streamIdleTimeouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "stream_idle_timeouts_total",
		Help: "Streams terminated by the bounded idle wait without a terminal event.",
	},
)

func StreamAttached()            { streamSubscribers.Inc() }
func StreamDetached()            { streamSubscribers.Dec() }
func IncStreamEvent(typ, source string) {
	streamEventsTotal.WithLabelValues(norm(typ), norm(source)).Inc()
}
func IncStreamIdleTimeout() { streamIdleTimeouts.Inc() }
