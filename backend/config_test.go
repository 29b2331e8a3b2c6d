package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalGeneric(t *testing.T) {
	doc := `
name: lsf
kind: Generic
default-cpu: 1
default-ram: 4096
runtime_attrs:
  queue: normal
submit: "bsub -n ~{cpu} -R mem=~{memory_mb} ~{script}"
job_id_regex: "Job <(\\d+)>"
monitor: "bjobs ~{job_id}"
monitor_frequency: 10
kill: "bkill ~{job_id}"
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	assert.Equal(t, "lsf", cfg.Name)
	assert.Equal(t, KindGeneric, cfg.Kind)
	require.NotNil(t, cfg.Generic)
	assert.Nil(t, cfg.Docker)
	assert.Equal(t, "bsub -n ~{cpu} -R mem=~{memory_mb} ~{script}", cfg.Generic.Submit)
	assert.Equal(t, 10, cfg.Generic.MonitorFrequency)
	require.NotNil(t, cfg.DefaultCPU)
	assert.Equal(t, 1, *cfg.DefaultCPU)
}

func TestConfigUnmarshalDocker(t *testing.T) {
	doc := `
name: local
kind: Docker
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	assert.Equal(t, KindDocker, cfg.Kind)
	assert.NotNil(t, cfg.Docker)
	assert.Nil(t, cfg.Generic)
}

func TestConfigUnmarshalUnknownKind(t *testing.T) {
	doc := `
name: bogus
kind: Nonsense
`
	var cfg Config
	err := yaml.Unmarshal([]byte(doc), &cfg)
	require.Error(t, err)
}
