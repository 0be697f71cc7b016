package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of nucleus.yaml.
type Config struct {
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Stages    []StageConfig   `json:"stages,omitempty" yaml:"stages,omitempty"`
	Inspector InspectorConfig `json:"inspector" yaml:"inspector"`
}

// EngineConfig controls the frame loop.
type EngineConfig struct {
	TargetTPS           uint16 `json:"target_tps" yaml:"target_tps"`
	MaxStageInvocations int    `json:"max_stage_invocations" yaml:"max_stage_invocations"`
	Parallel            bool   `json:"parallel" yaml:"parallel"`
	EntityCapacity      int    `json:"entity_capacity" yaml:"entity_capacity"`
}

type LogConfig struct {
	Level    string `json:"level" yaml:"level"`
	Encoding string `json:"encoding" yaml:"encoding"`
}

// StageConfig declares a stage up front. A non-zero period makes it periodic.
type StageConfig struct {
	Name   string        `json:"name" yaml:"name"`
	Period time.Duration `json:"period,omitempty" yaml:"period,omitempty"`
}

type InspectorConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

const (
	DefaultTargetTPS           = 60
	DefaultMaxStageInvocations = 1024
	DefaultEntityCapacity      = 1024
	DefaultInspectorAddr       = "127.0.0.1:7070"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			TargetTPS:           DefaultTargetTPS,
			MaxStageInvocations: DefaultMaxStageInvocations,
			EntityCapacity:      DefaultEntityCapacity,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Inspector: InspectorConfig{
			Addr: DefaultInspectorAddr,
		},
	}
}

// Load decodes YAML from r on top of Default and validates the result.
func Load(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads the config at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (c *Config) applyDefaults() {
	if c.Engine.TargetTPS == 0 {
		c.Engine.TargetTPS = DefaultTargetTPS
	}
	if c.Engine.MaxStageInvocations == 0 {
		c.Engine.MaxStageInvocations = DefaultMaxStageInvocations
	}
	if c.Engine.EntityCapacity == 0 {
		c.Engine.EntityCapacity = DefaultEntityCapacity
	}
	if c.Inspector.Addr == "" {
		c.Inspector.Addr = DefaultInspectorAddr
	}
}

// Validate checks the semantic constraints YAML decoding cannot express.
func (c *Config) Validate() error {
	if c.Engine.MaxStageInvocations < 0 {
		return fmt.Errorf("engine.max_stage_invocations must be positive, got %d", c.Engine.MaxStageInvocations)
	}
	if c.Engine.EntityCapacity < 0 {
		return fmt.Errorf("engine.entity_capacity must be positive, got %d", c.Engine.EntityCapacity)
	}
	seen := make(map[string]struct{}, len(c.Stages))
	for i, stage := range c.Stages {
		if stage.Name == "" {
			return fmt.Errorf("stage %d: name is required", i)
		}
		if stage.Period < 0 {
			return fmt.Errorf("stage %q: period must not be negative", stage.Name)
		}
		if _, dup := seen[stage.Name]; dup {
			return fmt.Errorf("stage %q declared twice", stage.Name)
		}
		seen[stage.Name] = struct{}{}
	}
	return nil
}

// TickDelta is the simulated duration of one frame at the target rate.
func (e EngineConfig) TickDelta() time.Duration {
	if e.TargetTPS == 0 {
		return time.Second / DefaultTargetTPS
	}
	return time.Second / time.Duration(e.TargetTPS)
}
