package investigation

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/validation"
)

// Tool domains
const (
	DomainDevice   = "device"
	DomainLocation = "location"
	DomainNetwork  = "network"
	DomainLogs     = "logs"
)

type ToolKind int

const (
	ToolKindDevice ToolKind = iota
	ToolKindLocation
	ToolKindNetwork
	ToolKindLogs
	ToolKindCustom
)

func (k ToolKind) String() string {
	switch k {
	case ToolKindDevice:
		return "device"
	case ToolKindLocation:
		return "location"
	case ToolKindNetwork:
		return "network"
	case ToolKindLogs:
		return "logs"
	case ToolKindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseToolKind maps a wire value to a ToolKind
func ParseToolKind(s string) (ToolKind, error) {
	switch s {
	case "device":
		return ToolKindDevice, nil
	case "location":
		return ToolKindLocation, nil
	case "network":
		return ToolKindNetwork, nil
	case "logs":
		return ToolKindLogs, nil
	case "custom":
		return ToolKindCustom, nil
	default:
		return 0, errors.NewInvalidConfigurationError("tool_configuration", fmt.Sprintf("unknown tool kind %q", s))
	}
}

// ToolConfig is a tagged union of known domain tool variants plus a generic
// custom variant. Exactly the parameter struct matching Kind must be set;
// each variant is validated against its schema at configuration time, not at
// execution time.
type ToolConfig struct {
	Kind     ToolKind            `json:"kind"`
	Device   *DeviceToolParams   `json:"device,omitempty"`
	Location *LocationToolParams `json:"location,omitempty"`
	Network  *NetworkToolParams  `json:"network,omitempty"`
	Logs     *LogToolParams      `json:"logs,omitempty"`
	Custom   *CustomToolParams   `json:"custom,omitempty"`

	// Weight is the aggregation weight for this tool's domain.
	// Zero means equal weighting across configured domains.
	Weight float64 `json:"weight,omitempty"`
}

// DeviceToolParams configures device fingerprint analysis
type DeviceToolParams struct {
	FingerprintDepth int  `json:"fingerprint_depth" validate:"gte=1,lte=10"`
	EmulatorChecks   bool `json:"emulator_checks"`
}

// LocationToolParams configures location pattern analysis
type LocationToolParams struct {
	MaxLocations       int     `json:"max_locations" validate:"gte=1,lte=10000"`
	ImpossibleSpeedKmh float64 `json:"impossible_speed_kmh" validate:"gt=0"`
}

// NetworkToolParams configures network indicator analysis
type NetworkToolParams struct {
	ProxyDetection bool `json:"proxy_detection"`
	ASNLookups     bool `json:"asn_lookups"`
	MaxHops        int  `json:"max_hops" validate:"gte=1,lte=64"`
}

// LogToolParams configures activity log analysis
type LogToolParams struct {
	MaxRecords int      `json:"max_records" validate:"gte=1,lte=1000000"`
	Levels     []string `json:"levels" validate:"omitempty,dive,oneof=debug info warn error"`
}

// CustomToolParams carries an opaque parameter bag for extension tools.
// The named domain must not collide with a built-in one.
type CustomToolParams struct {
	Name   string                 `json:"name" validate:"required,max=100"`
	Domain string                 `json:"domain" validate:"required,max=100"`
	Params map[string]interface{} `json:"params,omitempty"`
}

var toolValidator = validator.New(validator.WithRequiredStructEnabled())

// Domain returns the risk-analysis domain this tool feeds
func (tc *ToolConfig) Domain() string {
	switch tc.Kind {
	case ToolKindDevice:
		return DomainDevice
	case ToolKindLocation:
		return DomainLocation
	case ToolKindNetwork:
		return DomainNetwork
	case ToolKindLogs:
		return DomainLogs
	case ToolKindCustom:
		if tc.Custom != nil {
			return tc.Custom.Domain
		}
		return "custom"
	default:
		return "unknown"
	}
}

// Validate checks the variant payload against its schema
func (tc *ToolConfig) Validate() error {
	var params interface{}
	switch tc.Kind {
	case ToolKindDevice:
		params = tc.Device
	case ToolKindLocation:
		params = tc.Location
	case ToolKindNetwork:
		params = tc.Network
	case ToolKindLogs:
		params = tc.Logs
	case ToolKindCustom:
		params = tc.Custom
	default:
		return errors.NewInvalidConfigurationError("tool_configuration", fmt.Sprintf("unknown tool kind %d", tc.Kind))
	}

	if isNilParams(tc) {
		return errors.NewInvalidConfigurationError("tool_configuration",
			fmt.Sprintf("%s tool requires matching parameters", tc.Kind))
	}

	if err := toolValidator.Struct(params); err != nil {
		return errors.NewInvalidConfigurationError("tool_configuration",
			fmt.Sprintf("%s tool parameters invalid", tc.Kind)).WithCause(err)
	}

	if tc.Kind == ToolKindCustom {
		switch tc.Custom.Domain {
		case DomainDevice, DomainLocation, DomainNetwork, DomainLogs:
			return errors.NewInvalidConfigurationError("tool_configuration",
				fmt.Sprintf("custom tool domain %q collides with a built-in domain", tc.Custom.Domain))
		}
	}

	if tc.Weight != 0 {
		if err := validation.ValidateWeight(tc.Weight, tc.Domain()); err != nil {
			return errors.NewInvalidConfigurationError("tool_configuration", err.Error())
		}
	}

	return nil
}

func isNilParams(tc *ToolConfig) bool {
	switch tc.Kind {
	case ToolKindDevice:
		return tc.Device == nil
	case ToolKindLocation:
		return tc.Location == nil
	case ToolKindNetwork:
		return tc.Network == nil
	case ToolKindLogs:
		return tc.Logs == nil
	case ToolKindCustom:
		return tc.Custom == nil
	}
	return true
}
