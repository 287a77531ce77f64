package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FlowStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_flow_steps_total",
			Help: "Total number of login wizard step submissions.",
		},
		[]string{"step", "result"},
	)

	FlowsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "login_flows_started_total",
			Help: "Total number of login flows started.",
		},
	)

	FlowsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "login_flows_completed_total",
			Help: "Total number of login flows that reached a persisted session.",
		},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of calls to the platform API.",
		},
		[]string{"op", "result"},
	)
)

// Step/upstream result label values.
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// MustRegister registers all gateway collectors with the default registry.
func MustRegister() {
	prometheus.MustRegister(
		FlowStepsTotal,
		FlowsStartedTotal,
		FlowsCompletedTotal,
		UpstreamRequestsTotal,
	)
}
