package orchestrator

import "time"

// Terminal failure reasons recorded on the investigation
const (
	ReasonTimeoutExceeded       = "TIMEOUT_EXCEEDED"
	ReasonAggregationImpossible = "AGGREGATION_IMPOSSIBLE"
	ReasonInvalidConfiguration  = "INVALID_CONFIGURATION"
)

// Per-agent failure reasons
const (
	agentReasonWorkerPoolTimeout = "worker pool acquisition timed out"
)

// Defaults applied when config fields are zero
const (
	defaultMaxConcurrentAgents   = 16
	defaultAgentAcquireTimeout   = 10 * time.Second
	defaultInvestigationTimeout  = 30 * time.Minute
	defaultProgressFlushInterval = 250 * time.Millisecond
	defaultCASMaxRetries         = 5
)
