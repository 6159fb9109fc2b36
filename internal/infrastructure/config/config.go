package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Redis        RedisConfig        `koanf:"redis"`
	Signals      SignalsConfig      `koanf:"signals"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Polling      PollingConfig      `koanf:"polling"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	MetricsPort     int           `koanf:"metrics_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinConns        int           `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	SnapshotTTL  time.Duration `koanf:"snapshot_ttl"`
	Enabled      bool          `koanf:"enabled"`
}

// SignalsConfig points at the upstream fraud-signal API the agents query
type SignalsConfig struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxRetries  int           `koanf:"max_retries"`
	RecordLimit int           `koanf:"record_limit"`
}

type OrchestratorConfig struct {
	// MaxConcurrentAgents bounds the worker pool shared across investigations
	MaxConcurrentAgents int `koanf:"max_concurrent_agents"`

	// AgentAcquireTimeout bounds the wait for a pool slot before the agent
	// fails with resource exhaustion
	AgentAcquireTimeout time.Duration `koanf:"agent_acquire_timeout"`

	// InvestigationTimeout is the maximum end-to-end duration before a
	// system-enforced termination
	InvestigationTimeout time.Duration `koanf:"investigation_timeout"`

	// ProgressFlushInterval is the coalescing window for non-terminal
	// progress updates
	ProgressFlushInterval time.Duration `koanf:"progress_flush_interval"`

	// CASMaxRetries bounds compare-and-swap retries on version conflicts
	CASMaxRetries int `koanf:"cas_max_retries"`
}

type PollingConfig struct {
	Interval    time.Duration `koanf:"interval"`
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffCap  time.Duration `koanf:"backoff_cap"`
	MaxAttempts int           `koanf:"max_attempts"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults
	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinConns:        5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			SnapshotTTL:  24 * time.Hour,
		},
		Signals: SignalsConfig{
			Timeout:     10 * time.Second,
			MaxRetries:  3,
			RecordLimit: 1000,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentAgents:   16,
			AgentAcquireTimeout:   10 * time.Second,
			InvestigationTimeout:  30 * time.Minute,
			ProgressFlushInterval: 250 * time.Millisecond,
			CASMaxRetries:         5,
		},
		Polling: PollingConfig{
			Interval:    2 * time.Second,
			BackoffBase: 2 * time.Second,
			BackoffCap:  16 * time.Second,
			MaxAttempts: 5,
		},
		Telemetry: TelemetryConfig{
			SamplingRate:  0.1,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Load from config file if present
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Config file is optional
	}

	// Override with environment variables
	if err := k.Load(env.Provider("FRAUDLENS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FRAUDLENS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
