package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/config"
	"github.com/ecmwf/multio/domain"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "multio-server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

const validDoc = `
server:
  role: server
  transport:
    transport: thread
    group: multio
  expected-clients: 2
plans:
  - name: ocean-output
    actions:
      - type: select
        match:
          category: [ocean]
      - type: aggregation
      - type: statistics
        operation: mean
        window: 4
      - type: sink
        sink: ocean
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validDoc))
	require.NoError(t, err)
	require.Equal(t, config.TransportThread, cfg.Server.Transport.Kind)
	require.Equal(t, 2, cfg.Server.Expected)
	require.Len(t, cfg.Plans, 1)
	require.Len(t, cfg.Plans[0].Actions, 4)

	plans, err := cfg.BuildPlans(domain.NewRegistry(), nil)
	require.NoError(t, err)
	require.Len(t, plans.Plans(), 1)
	require.Equal(t, "ocean-output", plans.Plans()[0].Name)
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	doc := `
server:
  transport:
    transport: carrier-pigeon
plans:
  - name: p
    actions:
      - type: Null
`
	_, err := config.Load(writeConfig(t, doc))
	require.Error(t, err)
}

func TestLoadRejectsPlanWithoutActions(t *testing.T) {
	doc := `
server:
  transport:
    transport: thread
plans:
  - name: empty
    actions: []
`
	_, err := config.Load(writeConfig(t, doc))
	require.Error(t, err)
}

func TestBuildPlansRejectsUnknownActionType(t *testing.T) {
	doc := `
server:
  transport:
    transport: thread
plans:
  - name: p
    actions:
      - type: teleport
`
	cfg, err := config.Load(writeConfig(t, doc))
	require.NoError(t, err)
	_, err = cfg.BuildPlans(domain.NewRegistry(), nil)
	require.Error(t, err)
}

func TestSelectorSugarMatchAndIgnore(t *testing.T) {
	doc := `
server:
  transport:
    transport: thread
plans:
  - name: p
    actions:
      - type: select
        match:
          category: [ocean]
        ignore:
          level: [0]
      - type: Null
`
	cfg, err := config.Load(writeConfig(t, doc))
	require.NoError(t, err)
	_, err = cfg.BuildPlans(domain.NewRegistry(), nil)
	require.NoError(t, err)
}

func TestRuntimeDefaultsAndOverrides(t *testing.T) {
	rt := config.LoadRuntime()
	require.Equal(t, config.DefaultPoolSize, rt.PoolSize)
	require.Equal(t, config.DefaultBufferSizeBytes, rt.BufferSize)
	require.Equal(t, config.DefaultMessageQueueSize, rt.QueueSize)

	t.Setenv(config.Env.MessageQueueSize, "16")
	t.Setenv(config.Env.MPIPoolSize, "4")
	t.Setenv(config.Env.ServerMPIPoolSize, "8")
	rt = config.LoadRuntime()
	require.Equal(t, 16, rt.QueueSize)
	require.Equal(t, 4, rt.PoolSize)
	require.Equal(t, 8, rt.ServerPoolSize)
	require.Equal(t, 4, rt.ClientPoolSize, "client pool falls back to the generic pool size")
}

func TestConfigPathResolution(t *testing.T) {
	t.Setenv(config.Env.ServerConfigPath, "")
	t.Setenv(config.Env.ServerPath, "")
	require.Equal(t, "fallback.yaml", config.ConfigPath("fallback.yaml"))

	t.Setenv(config.Env.ServerPath, "/etc/multio")
	require.Equal(t, "/etc/multio/multio-server.yaml", config.ConfigPath(""))

	t.Setenv(config.Env.ServerConfigPath, "/tmp/explicit.yaml")
	require.Equal(t, "/tmp/explicit.yaml", config.ConfigPath(""))
}
