package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
engine:
  target_tps: 30
  parallel: true
log:
  level: debug
  encoding: console
stages:
  - name: fixed_update
    period: 20ms
  - name: late
inspector:
  enabled: true
  addr: ":9000"
`

func TestLoad(t *testing.T) {
	c, err := Load(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, uint16(30), c.Engine.TargetTPS)
	assert.True(t, c.Engine.Parallel)
	assert.Equal(t, DefaultMaxStageInvocations, c.Engine.MaxStageInvocations)
	assert.Equal(t, DefaultEntityCapacity, c.Engine.EntityCapacity)
	assert.Equal(t, "debug", c.Log.Level)
	require.Len(t, c.Stages, 2)
	assert.Equal(t, 20*time.Millisecond, c.Stages[0].Period)
	assert.Zero(t, c.Stages[1].Period)
	assert.Equal(t, ":9000", c.Inspector.Addr)
	assert.Equal(t, time.Second/30, c.Engine.TickDelta())
}

func TestLoadEmptyUsesDefaults(t *testing.T) {
	c, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(strings.NewReader("engine:\n  tps: 3\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := Load(strings.NewReader("stages:\n  - name: a\n  - name: a\n"))
	require.ErrorContains(t, err, "declared twice")

	_, err = Load(strings.NewReader("stages:\n  - period: 1s\n"))
	require.ErrorContains(t, err, "name is required")

	_, err = Load(strings.NewReader("engine:\n  max_stage_invocations: -2\n"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nucleus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "console", c.Log.Encoding)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
