package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudlens_investigation_runs_total",
			Help: "Investigation runs by terminal outcome",
		},
		[]string{"outcome"},
	)

	agentFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudlens_agent_failures_total",
			Help: "Agent executions that ended in failure, by domain",
		},
		[]string{"domain"},
	)

	casConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fraudlens_cas_conflicts_total",
			Help: "Optimistic concurrency conflicts observed during commits",
		},
	)
)
