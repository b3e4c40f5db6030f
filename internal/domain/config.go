package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NodeID    string          `yaml:"node_id"`
	DataDir   string          `yaml:"data_dir"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Load      LoadConfig      `yaml:"load"`
}

type EngineConfig struct {
	LockTTL            time.Duration `yaml:"lock_ttl"`
	LockRetries        int           `yaml:"lock_retries"`
	LockRetryDelay     time.Duration `yaml:"lock_retry_delay"`
	WorkflowTimeout    time.Duration `yaml:"workflow_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	CompensationBudget int           `yaml:"compensation_budget"`
}

type SchedulerConfig struct {
	DefaultBatchSize int           `yaml:"default_batch_size"`
	DefaultInterval  time.Duration `yaml:"default_interval"`
	MaxBatchSize     int           `yaml:"max_batch_size"`
	MinBatchSize     int           `yaml:"min_batch_size"`
	ImmediateAge     time.Duration `yaml:"immediate_age"`
	PendingLimit     int           `yaml:"pending_limit"`
	JanitorInterval  time.Duration `yaml:"janitor_interval"`
}

type LoadConfig struct {
	TargetUtilization  float64       `yaml:"target_utilization"`
	CriticalThreshold  float64       `yaml:"critical_threshold"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	SpreadThreshold    float64       `yaml:"spread_threshold"`
	SampleInterval     time.Duration `yaml:"sample_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Load:      DefaultLoadConfig(),
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LockTTL:            30 * time.Second,
		LockRetries:        3,
		LockRetryDelay:     50 * time.Millisecond,
		WorkflowTimeout:    5 * time.Minute,
		MaxRetries:         3,
		CompensationBudget: 3,
	}
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DefaultBatchSize: 10,
		DefaultInterval:  time.Second,
		MaxBatchSize:     50,
		MinBatchSize:     1,
		ImmediateAge:     time.Minute,
		PendingLimit:     500,
		JanitorInterval:  30 * time.Second,
	}
}

func DefaultLoadConfig() LoadConfig {
	return LoadConfig{
		TargetUtilization:  DefaultTargetUtilization,
		CriticalThreshold:  DefaultCriticalThreshold,
		ErrorRateThreshold: DefaultErrorRateThreshold,
		SpreadThreshold:    30.0,
		SampleInterval:     10 * time.Second,
	}
}

// LoadConfigFile reads a YAML config, layering it over the defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
