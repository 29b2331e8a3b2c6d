package backend

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind discriminates which backend variant a Config carries.
type Kind string

const (
	// KindGeneric selects GenericConfig.
	KindGeneric Kind = "Generic"
	// KindDocker selects DockerConfig.
	KindDocker Kind = "Docker"
)

// Config is a single `[[backends]]` record as produced by the external
// config loader (out of scope; see §6 of the specification this module
// implements). Kind discriminates which of Generic or Docker is populated.
type Config struct {
	Name         string
	Kind         Kind
	Generic      *GenericConfig
	Docker       *DockerConfig
	DefaultCPU   *int
	DefaultRAM   *int
	RuntimeAttrs map[string]string
}

// GenericConfig carries the shell templates and job-lifecycle knobs for a
// generic shell-template backend.
type GenericConfig struct {
	Submit           string `yaml:"submit"`
	JobIDRegex       string `yaml:"job_id_regex"`
	Monitor          string `yaml:"monitor"`
	MonitorFrequency int    `yaml:"monitor_frequency"`
	Kill             string `yaml:"kill"`
}

// DockerConfig carries the (currently empty) extra configuration for a
// container-runtime backend; its behavior is otherwise fixed.
type DockerConfig struct{}

// rawConfig mirrors Config's YAML shape prior to variant resolution. Go has
// no native tagged union, so the discriminator is decoded first and used to
// select which of the variant-specific fields get interpreted.
type rawConfig struct {
	Name         string            `yaml:"name"`
	Kind         Kind              `yaml:"kind"`
	DefaultCPU   *int              `yaml:"default-cpu"`
	DefaultRAM   *int              `yaml:"default-ram"`
	RuntimeAttrs map[string]string `yaml:"runtime_attrs"`

	Submit           string `yaml:"submit"`
	JobIDRegex       string `yaml:"job_id_regex"`
	Monitor          string `yaml:"monitor"`
	MonitorFrequency int    `yaml:"monitor_frequency"`
	Kill             string `yaml:"kill"`
}

// UnmarshalYAML decodes the shallow record first to read Kind, then
// populates exactly one of Generic or Docker based on its value.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Name = raw.Name
	c.Kind = raw.Kind
	c.DefaultCPU = raw.DefaultCPU
	c.DefaultRAM = raw.DefaultRAM
	c.RuntimeAttrs = raw.RuntimeAttrs

	switch raw.Kind {
	case KindGeneric:
		c.Generic = &GenericConfig{
			Submit:           raw.Submit,
			JobIDRegex:       raw.JobIDRegex,
			Monitor:          raw.Monitor,
			MonitorFrequency: raw.MonitorFrequency,
			Kill:             raw.Kill,
		}
	case KindDocker:
		c.Docker = &DockerConfig{}
	default:
		return fmt.Errorf("crankshaft: unrecognized backend kind %q", raw.Kind)
	}
	return nil
}

// MarshalYAML projects Config back into the flat wire shape its
// UnmarshalYAML reads, so round-tripping a loaded config preserves it.
func (c Config) MarshalYAML() (interface{}, error) {
	raw := rawConfig{
		Name:         c.Name,
		Kind:         c.Kind,
		DefaultCPU:   c.DefaultCPU,
		DefaultRAM:   c.DefaultRAM,
		RuntimeAttrs: c.RuntimeAttrs,
	}
	if c.Generic != nil {
		raw.Submit = c.Generic.Submit
		raw.JobIDRegex = c.Generic.JobIDRegex
		raw.Monitor = c.Generic.Monitor
		raw.MonitorFrequency = c.Generic.MonitorFrequency
		raw.Kill = c.Generic.Kill
	}
	return raw, nil
}
