package audit

import "github.com/prometheus/client_golang/prometheus"

var decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "credbroker_decisions_total",
	Help: "Authorization decisions by action and outcome.",
}, []string{"action", "decision"})

func init() {
	prometheus.MustRegister(decisionsTotal)
}
