package server_test

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ecmwf/multio/action"
	"github.com/ecmwf/multio/client"
	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/plan"
	"github.com/ecmwf/multio/server"
	"github.com/ecmwf/multio/transport/thread"
)

func float64Payload(vals ...float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// end-to-end coverage of spec §8 scenario 1 and the liveness property: two
// clients register an unstructured domain, send one partial each, a server
// aggregates them into one global field and reaches the sink, and the
// server exits once both clients close.
var _ = Describe("Server end-to-end", func() {
	It("aggregates two client partials into one global field and terminates on close", func() {
		hub := thread.NewHub()
		serverPeer := message.NewPeer("server", 0)
		c0Peer := message.NewPeer("clients", 0)
		c1Peer := message.NewPeer("clients", 1)

		reg := domain.NewRegistry()
		agg := action.NewAggregation(reg)
		sink := &action.MemoryWriter{NameStr: "global"}
		action.Chain(agg, action.NewSink(sink))
		plans := plan.NewSet(plan.New("output", agg))

		serverTrans := thread.New(hub, serverPeer, []message.Peer{c0Peer, c1Peer})
		srv := server.New(serverTrans, plans, 16, 2, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// register the server's inbox before any client sends; Run re-opens
		// idempotently.
		Expect(serverTrans.OpenConnections(ctx)).To(Succeed())

		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx) }()

		c0Trans := thread.New(hub, c0Peer, []message.Peer{serverPeer})
		c1Trans := thread.New(hub, c1Peer, []message.Peer{serverPeer})
		c0 := client.New(c0Trans)
		c1 := client.New(c1Trans)
		Expect(c0.OpenConnections(ctx)).To(Succeed())
		Expect(c1.OpenConnections(ctx)).To(Succeed())

		globalMD := message.NewMetadata().SetInt("globalSize", 8)
		desc0, err := domain.NewUnstructured([]int32{0, 2, 4, 6}, 8)
		Expect(err).NotTo(HaveOccurred())
		desc1, err := domain.NewUnstructured([]int32{1, 3, 5, 7}, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(c0.WriteDomain(ctx, "D", desc0, globalMD)).To(Succeed())
		Expect(c1.WriteDomain(ctx, "D", desc1, globalMD)).To(Succeed())

		fieldMD := message.NewMetadata().SetString("domain", "D").SetString("precision", "double").
			SetInt("param", 130).SetInt("level", 1).SetInt("step", 0)
		Expect(c0.WriteField(ctx, serverPeer, fieldMD.Clone(), float64Payload(0, 2, 4, 6), 8)).To(Succeed())
		Expect(c1.WriteField(ctx, serverPeer, fieldMD.Clone(), float64Payload(1, 3, 5, 7), 8)).To(Succeed())

		Eventually(func() int { return len(sink.Messages) }, "2s", "10ms").Should(Equal(1))
		got := decodeFloat64s(sink.Messages[0].Payload)
		Expect(got).To(Equal([]float64{0, 1, 2, 3, 4, 5, 6, 7}))

		Expect(c0.CloseConnections(ctx)).To(Succeed())
		Expect(c1.CloseConnections(ctx)).To(Succeed())

		Eventually(done, "2s", "10ms").Should(Receive(BeNil()))
	})
})

func decodeFloat64s(buf []byte) []float64 {
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return out
}
