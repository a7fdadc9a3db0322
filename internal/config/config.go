// Package config loads executive configuration from YAML, environment, and
// flags through viper. Defaults describe a competition-ready robot; every
// value can be overridden per field.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root of the executive's configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Executive  ExecutiveConfig  `mapstructure:"executive" yaml:"executive"`
	Queue      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	FSM        FSMConfig        `mapstructure:"fsm" yaml:"fsm"`
	Sim        SimConfig        `mapstructure:"sim" yaml:"sim"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ExecutiveConfig tunes the control cycle.
type ExecutiveConfig struct {
	// CyclePeriod is the fixed cadence of the control loop.
	CyclePeriod time.Duration `mapstructure:"cycle_period" yaml:"cycle_period"`
	// MatchDuration bounds a run; zero means run until cancelled.
	MatchDuration time.Duration `mapstructure:"match_duration" yaml:"match_duration"`
	// MaxRecommendationsPerCycle caps planning input absorbed per tick.
	MaxRecommendationsPerCycle int `mapstructure:"max_recommendations_per_cycle" yaml:"max_recommendations_per_cycle"`
	// TelemetryBuffer sizes each telemetry subscriber's channel.
	TelemetryBuffer int `mapstructure:"telemetry_buffer" yaml:"telemetry_buffer"`
}

// QueueConfig bounds the action queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// DispatcherConfig tunes command delivery.
type DispatcherConfig struct {
	ResultBuffer int           `mapstructure:"result_buffer" yaml:"result_buffer"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	CancelGrace  time.Duration `mapstructure:"cancel_grace" yaml:"cancel_grace"`
	IssueRate    float64       `mapstructure:"issue_rate" yaml:"issue_rate"`
	HistorySize  int           `mapstructure:"history_size" yaml:"history_size"`
}

// FSMConfig tunes the behavioral state machine.
type FSMConfig struct {
	// Watchdog bounds time-in-state for active states.
	Watchdog time.Duration `mapstructure:"watchdog" yaml:"watchdog"`
	// CriticalResources are actuators whose fatal results fault the robot.
	CriticalResources []string `mapstructure:"critical_resources" yaml:"critical_resources"`
}

// SimConfig configures the simulated actuator used by `run --sim` and tests.
type SimConfig struct {
	BaseLatency time.Duration `mapstructure:"base_latency" yaml:"base_latency"`
	Jitter      time.Duration `mapstructure:"jitter" yaml:"jitter"`
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "executive")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// Control cycle defaults
	v.SetDefault("executive.cycle_period", "20ms")
	v.SetDefault("executive.match_duration", "2m30s")
	v.SetDefault("executive.max_recommendations_per_cycle", 4)
	v.SetDefault("executive.telemetry_buffer", 128)

	// Queue defaults
	v.SetDefault("queue.capacity", 64)

	// Dispatcher defaults
	v.SetDefault("dispatcher.result_buffer", 64)
	v.SetDefault("dispatcher.max_retries", 2)
	v.SetDefault("dispatcher.cancel_grace", "250ms")
	v.SetDefault("dispatcher.issue_rate", 200.0)
	v.SetDefault("dispatcher.history_size", 256)

	// FSM defaults
	v.SetDefault("fsm.watchdog", "10s")
	v.SetDefault("fsm.critical_resources", []string{"drive", "arm"})

	// Sim actuator defaults
	v.SetDefault("sim.base_latency", "30ms")
	v.SetDefault("sim.jitter", "10ms")
}

// NewDefaultConfig returns a Config populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	// Defaults are all well-formed; unmarshal cannot fail here.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from an optional file path plus EXEC_* env vars
// and returns the merged result. A missing file is not an error; a
// malformed one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("executive")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("EXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the executive cannot run with.
func (c *Config) Validate() error {
	if c.Executive.CyclePeriod <= 0 {
		return fmt.Errorf("executive.cycle_period must be positive, got %s", c.Executive.CyclePeriod)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Dispatcher.MaxRetries < 0 {
		return fmt.Errorf("dispatcher.max_retries cannot be negative, got %d", c.Dispatcher.MaxRetries)
	}
	if c.FSM.Watchdog < 0 {
		return fmt.Errorf("fsm.watchdog cannot be negative, got %s", c.FSM.Watchdog)
	}
	return nil
}
