package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(aiTokensIn, aiTokensOut, aiCallsLatencyMs) }

var aiTokensIn = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ai_tokens_in",
		Help: "Sum of prompt (input) tokens per provider/model.",
	},
	[]string{"provider", "model"},
)

var aiTokensOut = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ai_tokens_out",
		Help: "Sum of completion (output) tokens per provider/model.",
	},
	[]string{"provider", "model"},
)

var aiCallsLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ai_calls_latency_ms",
		Help:    "Agent invocation latency distribution in milliseconds.",
		Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
	},
	[]string{"provider", "model", "success"},
)

func ObserveAgentUsage(provider, model string, tokensIn, tokensOut int, latencyMs int, success bool) {
	aiTokensIn.WithLabelValues(norm(provider), norm(model)).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(norm(provider), norm(model)).Add(float64(tokensOut))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
