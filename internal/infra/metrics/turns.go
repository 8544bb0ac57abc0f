package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(turnsProcessedTotal, turnDurationSeconds, turnMessagesAppended, turnAborts)
}

var turnsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "turns_processed_total",
		Help: "Total number of turns processed, labeled by terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var turnDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "turn_duration_seconds",
		Help:    "Wall-clock duration of turn execution.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
	[]string{"status"},
)

var turnMessagesAppended = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "turn_messages_appended_total",
		Help: "Messages appended to turn logs.",
	},
)

var turnAborts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "turn_aborts_total",
		Help: "Abort requests, labeled by kind (graceful/force).",
	},
	[]string{"kind"},
)

func IncTurn(status string, seconds float64) {
	turnsProcessedTotal.WithLabelValues(norm(status)).Inc()
	turnDurationSeconds.WithLabelValues(norm(status)).Observe(seconds)
}

func AddTurnMessages(n int) { turnMessagesAppended.Add(float64(n)) }

func IncAbort(kind string) { turnAborts.WithLabelValues(norm(kind)).Inc() }
