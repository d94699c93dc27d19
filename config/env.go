// Package config implements spec §6 ("Configuration file", "Environment
// variables") and §9's configuration section: the YAML plan/action/
// transport document, env-var overrides, and translation into the runtime
// types (plan.Set, domain.Registry-backed actions). Transport construction
// from TransportConfig is done by the process entrypoints, not here.
// Grounded on the teacher's api/env package (named env-var constants plus
// small os.Getenv+parse helpers) and cmn/rom.go (precompute read-mostly
// fields from parsed config once at load time).
package config

import (
	"os"
	"strconv"
)

// Env names every environment variable from spec §6, mirroring the
// teacher's api/env.AIS struct-of-constants shape.
var Env = struct {
	ServerPath       string
	ServerConfigPath string
	MPIPoolSize      string
	ServerMPIPoolSize string
	ClientMPIPoolSize string
	MPIBufferSize     string
	ServerMPIBufferSize string
	ClientMPIBufferSize string
	MessageQueueSize  string
	Debug             string
}{
	ServerPath:          "MULTIO_SERVER_PATH",
	ServerConfigPath:    "MULTIO_SERVER_CONFIG_PATH",
	MPIPoolSize:         "MULTIO_MPI_POOL_SIZE",
	ServerMPIPoolSize:   "MULTIO_SERVER_MPI_POOL_SIZE",
	ClientMPIPoolSize:   "MULTIO_CLIENT_MPI_POOL_SIZE",
	MPIBufferSize:       "MULTIO_MPI_BUFFER_SIZE",
	ServerMPIBufferSize: "MULTIO_SERVER_MPI_BUFFER_SIZE",
	ClientMPIBufferSize: "MULTIO_CLIENT_MPI_BUFFER_SIZE",
	MessageQueueSize:    "MULTIO_MESSAGE_QUEUE_SIZE",
	Debug:               "MULTIO_DEBUG",
}

const (
	DefaultPoolSize        = 128
	DefaultBufferSizeBytes = 64 << 20 // 64 MiB
	DefaultMessageQueueSize = 1024
)

func getenvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(name string) bool {
	v := os.Getenv(name)
	return v != "" && v != "0" && v != "false"
}

// Runtime is the read-mostly, env-derived tuning the transport and
// listener packages consult at startup (spec §6), precomputed once the
// way cmn/rom.go snapshots ClusterConfig into process-wide read-mostly
// fields.
type Runtime struct {
	PoolSize         int
	ServerPoolSize   int
	ClientPoolSize   int
	BufferSize       int
	ServerBufferSize int
	ClientBufferSize int
	QueueSize        int
	Debug            bool
}

// LoadRuntime reads every env var from spec §6, falling back to the
// documented defaults.
func LoadRuntime() Runtime {
	pool := getenvInt(Env.MPIPoolSize, DefaultPoolSize)
	buf := getenvInt(Env.MPIBufferSize, DefaultBufferSizeBytes)
	return Runtime{
		PoolSize:         pool,
		ServerPoolSize:   getenvInt(Env.ServerMPIPoolSize, pool),
		ClientPoolSize:   getenvInt(Env.ClientMPIPoolSize, pool),
		BufferSize:       buf,
		ServerBufferSize: getenvInt(Env.ServerMPIBufferSize, buf),
		ClientBufferSize: getenvInt(Env.ClientMPIBufferSize, buf),
		QueueSize:        getenvInt(Env.MessageQueueSize, DefaultMessageQueueSize),
		Debug:            getenvBool(Env.Debug),
	}
}

// ConfigPath resolves the config file location: MULTIO_SERVER_CONFIG_PATH
// if set, else MULTIO_SERVER_PATH joined with "multio-server.yaml", else
// the provided fallback (spec §6).
func ConfigPath(fallback string) string {
	if p := os.Getenv(Env.ServerConfigPath); p != "" {
		return p
	}
	if base := os.Getenv(Env.ServerPath); base != "" {
		return base + "/multio-server.yaml"
	}
	return fallback
}
