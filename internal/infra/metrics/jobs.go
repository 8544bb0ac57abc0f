package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, rulesFiredTotal) }

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Total number of jobs processed, labeled by status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var rulesFiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "job_rules_fired_total",
		Help: "Rule poller firings, labeled by rule kind and outcome.",
	},
	[]string{"kind", "outcome"}, // kind: scheduled|recurring, outcome: ok|error
)

func IncJob(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func IncRuleFired(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	rulesFiredTotal.WithLabelValues(norm(kind), outcome).Inc()
}
