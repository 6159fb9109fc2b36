package agents

import (
	"fmt"
	"sync"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

// Registry resolves a validated tool configuration to the agent that
// executes it. Built-in kinds map to the four domain agents; custom tools
// resolve by registered name.
type Registry struct {
	mu       sync.RWMutex
	builtins map[investigation.ToolKind]Agent
	custom   map[string]Agent
}

// NewRegistry wires the four built-in agents against a single data source
func NewRegistry(source DataSource) *Registry {
	return &Registry{
		builtins: map[investigation.ToolKind]Agent{
			investigation.ToolKindDevice:   NewDeviceAgent(source),
			investigation.ToolKindLocation: NewLocationAgent(source),
			investigation.ToolKindNetwork:  NewNetworkAgent(source),
			investigation.ToolKindLogs:     NewLogAgent(source),
		},
		custom: make(map[string]Agent),
	}
}

// RegisterCustom makes an extension agent resolvable by custom tool name
func (r *Registry) RegisterCustom(name string, agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[name] = agent
}

// Resolve returns the agent for a tool configuration. An unresolvable tool
// is a configuration fault, surfaced before any agent runs.
func (r *Registry) Resolve(cfg investigation.ToolConfig) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg.Kind == investigation.ToolKindCustom {
		if cfg.Custom == nil {
			return nil, errors.NewInvalidConfigurationError("tool_configuration", "custom tool without parameters")
		}
		agent, ok := r.custom[cfg.Custom.Name]
		if !ok {
			return nil, errors.NewInvalidConfigurationError("tool_configuration",
				fmt.Sprintf("no agent registered for custom tool %q", cfg.Custom.Name))
		}
		return agent, nil
	}

	agent, ok := r.builtins[cfg.Kind]
	if !ok {
		return nil, errors.NewInvalidConfigurationError("tool_configuration",
			fmt.Sprintf("no agent for tool kind %q", cfg.Kind))
	}
	return agent, nil
}
