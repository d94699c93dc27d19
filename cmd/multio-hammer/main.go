// Command multio-hammer is a client-side load generator: it opens
// connections, registers a domain partition, and streams synthetic Field
// messages at a configurable rate (SPEC_FULL §4 item 5). Grounded on
// original_source/tools/multio-hammer.cc (open/registerDomain/writeField
// loop) and the teacher's bench/tools/aisloader flag/facade conventions,
// scaled down to this module's much smaller surface.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"flag"
	"os"
	"time"

	"github.com/ecmwf/multio/client"
	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/internal/mlog"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport"
	"github.com/ecmwf/multio/transport/tcp"
	"github.com/ecmwf/multio/transport/thread"
)

var (
	serverAddr string
	group      string
	peerID     uint64
	nPeers     int
	nSteps     int
	globalSize int64
	rate       time.Duration
	precision  string
)

func init() {
	flag.StringVar(&serverAddr, "server", "", "server host:port (tcp transport); empty selects the in-process thread transport")
	flag.StringVar(&group, "group", "clients", "this client's peer group name")
	flag.Uint64Var(&peerID, "id", 0, "this client's peer id within its group")
	flag.IntVar(&nPeers, "npeers", 1, "total number of client peers contributing to the global field")
	flag.IntVar(&nSteps, "nsteps", 10, "number of simulated time steps to emit")
	flag.Int64Var(&globalSize, "global-size", 1000, "global field element count")
	flag.DurationVar(&rate, "rate", 100*time.Millisecond, "delay between steps")
	flag.StringVar(&precision, "precision", "double", "field precision: single or double")
}

func main() {
	flag.Parse()

	prec, err := message.PrecisionFromString(precision)
	if err != nil {
		mlog.Errorf("multio-hammer: %v", err)
		os.Exit(1)
	}

	local := message.NewPeer(group, peerID)
	srvPeer := message.NewPeer("servers", 0)

	var trans transport.Transport
	if serverAddr != "" {
		trans = tcp.New(tcp.Config{Local: local, PeerAddrs: map[message.Peer]string{srvPeer: serverAddr}})
	} else {
		hub := thread.NewHub()
		trans = thread.New(hub, local, []message.Peer{srvPeer})
	}

	c := client.New(trans)
	c.Servers = []message.Peer{srvPeer}

	ctx := context.Background()
	if err := c.OpenConnections(ctx); err != nil {
		mlog.Errorf("multio-hammer: open connections: %v", err)
		os.Exit(1)
	}
	defer c.CloseConnections(ctx)

	localSize := globalSize / int64(nPeers)
	definition := make([]int32, localSize)
	for i := range definition {
		definition[i] = int32(int64(peerID)*localSize + int64(i))
	}
	desc, err := domain.NewUnstructured(definition, globalSize)
	if err != nil {
		mlog.Errorf("multio-hammer: %v", err)
		os.Exit(1)
	}
	if err := c.WriteDomain(ctx, "hammer", desc, nil); err != nil {
		mlog.Errorf("multio-hammer: write domain: %v", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(peerID)))
	for step := 0; step < nSteps; step++ {
		payload := syntheticPayload(localSize, prec, rng)
		md := message.NewMetadata().
			SetString("domain", "hammer").
			SetString("precision", prec.String()).
			SetInt("param", 130).
			SetInt("level", 1).
			SetInt("step", int64(step))
		if err := c.WriteFieldBuffered(ctx, srvPeer, md, payload, globalSize); err != nil {
			mlog.Errorf("multio-hammer: step %d: write field: %v", step, err)
			os.Exit(1)
		}
		if err := c.WriteStepComplete(ctx, message.NewMetadata().SetInt("step", int64(step))); err != nil {
			mlog.Errorf("multio-hammer: step %d: step-complete: %v", step, err)
			os.Exit(1)
		}
		fmt.Printf("step %d: sent %d elements\n", step, localSize)
		time.Sleep(rate)
	}
}

func syntheticPayload(n int64, prec message.Precision, rng *rand.Rand) []byte {
	sz := prec.SizeOf()
	buf := make([]byte, n*int64(sz))
	for i := int64(0); i < n; i++ {
		encodeOne(buf[i*int64(sz):(i+1)*int64(sz)], rng.Float64(), prec)
	}
	return buf
}

func encodeOne(b []byte, v float64, prec message.Precision) {
	if prec == message.PrecisionSingle {
		u := math.Float32bits(float32(v))
		for i := 0; i < 4; i++ {
			b[i] = byte(u >> (8 * i))
		}
		return
	}
	u := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
