package entity

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	DefaultQueueCapacity  = 10000
	DefaultMaxConnections = 100000
	DefaultLoadBalancers  = 2
	DefaultFastPathsPerLB = 2
)

// Config full pipeline configuration.
type Config struct {
	Logger   *LoggerConfig   `yaml:"Logger"`
	Runtime  *RuntimeConfig  `yaml:"Runtime"`
	Pipeline *PipelineConfig `yaml:"Pipeline"`
	Rules    *RulesConfig    `yaml:"Rules"`
	Metrics  *MetricsConfig  `yaml:"Metrics"`
	Tracing  *TracingConfig  `yaml:"Tracing"`
}

// LoggerConfig logger settings
type LoggerConfig struct {
	Level           string `yaml:"level" default:"info"`
	TimeFieldFormat string `yaml:"timeFieldFormat" default:"2006-01-02T15:04:05.000000"`
	PrettyPrint     *bool  `yaml:"prettyPrint" default:"true"`
	ErrorStack      *bool  `yaml:"errorStack" default:"false"`
	ShowCaller      *bool  `yaml:"showCaller" default:"false"`
	FileName        string `yaml:"fileName,omitempty" default:""`
}

// RuntimeConfig runtime settings
type RuntimeConfig struct {
	GoMaxProcs int `yaml:"goMaxProcs" default:"0"`
}

// PipelineConfig shard and queue sizing.
type PipelineConfig struct {
	LoadBalancers  int `yaml:"loadBalancers" default:"2"`
	FastPathsPerLB int `yaml:"fastPathsPerLB" default:"2"`
	QueueCapacity  int `yaml:"queueCapacity" default:"10000"`
	MaxConnections int `yaml:"maxConnections" default:"100000"`
	StaleTimeout   int `yaml:"staleTimeout" default:"300"`
}

// Validate checks shard and queue sizing.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LoadBalancers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.FastPathsPerLB, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.QueueCapacity, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxConnections, validation.Required, validation.Min(1)),
		validation.Field(&c.StaleTimeout, validation.Required, validation.Min(1)),
	)
}

// RulesConfig rule sources.
type RulesConfig struct {
	File  string `yaml:"file,omitempty" default:""`
	Watch *bool  `yaml:"watch" default:"false"`
}

// MetricsConfig optional Prometheus endpoint served while a capture
// is being processed.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty" default:""`
}

// TracingConfig per-packet console logging switches.
type TracingConfig struct {
	Packets  bool `yaml:"packets,omitempty"`
	Verdicts bool `yaml:"verdicts,omitempty"`
}
