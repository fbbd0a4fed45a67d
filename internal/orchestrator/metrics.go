package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	turnsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frevagpt_orchestrator_turns_started_total",
		Help: "Total number of conversational turns started by the orchestrator.",
	})
	turnsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frevagpt_orchestrator_turns_ended_total",
		Help: "Total number of conversational turns ended, labeled by terminal reason.",
	}, []string{"reason"})
	toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frevagpt_orchestrator_tool_calls_total",
		Help: "Total number of tool calls executed, labeled by tool name and outcome.",
	}, []string{"tool", "outcome"})
)

func init() {
	prometheus.MustRegister(turnsStartedTotal, turnsEndedTotal, toolCallsTotal)
}
