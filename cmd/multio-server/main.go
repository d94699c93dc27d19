// Command multio-server is the server process entrypoint (SPEC_FULL §5).
// Grounded on the teacher's cmd/authn/main.go flag-parsing and config-path
// resolution shape, adapted to this module's transport/plan wiring instead
// of an HTTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecmwf/multio/config"
	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/internal/mlog"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/server"
	"github.com/ecmwf/multio/stats"
	"github.com/ecmwf/multio/transport"
	"github.com/ecmwf/multio/transport/tcp"
	"github.com/ecmwf/multio/transport/thread"
)

var (
	configPath  string
	metricsAddr string
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to the multio-server YAML configuration (spec §6)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "address to expose prometheus metrics on (empty disables)")
}

func main() {
	flag.Parse()

	rt := config.LoadRuntime()
	mlog.SetVerbose(rt.Debug)

	path := config.ConfigPath(configPath)
	if path == "" {
		fmt.Fprintln(os.Stderr, "multio-server: no configuration path given (-config or MULTIO_SERVER_CONFIG_PATH)")
		os.Exit(1)
	}

	cfg, err := config.Load(path)
	if err != nil {
		mlog.Errorf("multio-server: %v", err)
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	metrics := stats.NewMetrics(promReg)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				mlog.Errorf("multio-server: metrics endpoint: %v", err)
			}
		}()
	}

	reg := domain.NewRegistry()
	plans, err := cfg.BuildPlans(reg, metrics)
	if err != nil {
		mlog.Errorf("multio-server: %v", err)
		os.Exit(1)
	}

	trans, err := buildTransport(cfg)
	if err != nil {
		mlog.Errorf("multio-server: %v", err)
		os.Exit(1)
	}

	srv := server.New(trans, plans, rt.QueueSize, cfg.Server.Expected, nil).WithMetrics(metrics)

	if err := srv.Run(context.Background()); err != nil {
		mlog.Errorf("multio-server: %v", err)
		os.Exit(1)
	}
}

// buildTransport binds the configured transport kind (spec §6 "transport
// selection"). Only tcp and thread are built here; any other kind,
// including mpi, returns an error.
func buildTransport(cfg *config.Config) (transport.Transport, error) {
	tc := cfg.Server.Transport
	switch tc.Kind {
	case config.TransportTCP:
		if len(tc.Servers) == 0 {
			return nil, fmt.Errorf("multio-server: tcp transport requires at least one servers[] entry to bind")
		}
		self := tc.Servers[0]
		listenAddr := fmt.Sprintf("%s:%d", self.Host, firstPort(self))
		local := message.NewPeer(tc.ServerGroup, 0)
		peers := make(map[message.Peer]string, len(tc.Clients))
		for i, c := range tc.Clients {
			peers[message.NewPeer(tc.ClientGroup, uint64(i))] = fmt.Sprintf("%s:%d", c.Host, firstPort(c))
		}
		return tcp.New(tcp.Config{Local: local, ListenAddr: listenAddr, PeerAddrs: peers}), nil
	case config.TransportThread:
		hub := thread.NewHub()
		local := message.NewPeer(tc.Group, 0)
		return thread.New(hub, local, nil), nil
	default:
		return nil, fmt.Errorf("multio-server: transport kind %q is not supported by multio-server", tc.Kind)
	}
}

func firstPort(hp config.HostPorts) int {
	if len(hp.Ports) == 0 {
		return 0
	}
	return hp.Ports[0]
}
