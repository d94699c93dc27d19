package listener_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ecmwf/multio/listener"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport/thread"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	got []message.Message
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg message.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, msg)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

var _ = Describe("Listener", func() {
	var (
		hub    *thread.Hub
		server *thread.Transport
		client *thread.Transport
		disp   *recordingDispatcher
	)

	BeforeEach(func() {
		hub = thread.NewHub()
		server = thread.New(hub, message.NewPeer("server", 0), nil)
		client = thread.New(hub, message.NewPeer("client", 0), []message.Peer{message.NewPeer("server", 0)})
		Expect(server.OpenConnections(context.Background())).To(Succeed())
		Expect(client.OpenConnections(context.Background())).To(Succeed())
		disp = &recordingDispatcher{}
	})

	It("transitions a peer from unknown to open on its first message, then to closed on Close", func() {
		l := listener.New(server, disp, 2, 1)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- l.Listen(ctx) }()

		md := message.NewMetadata().SetString("param", "130")
		open := message.New(message.TagOpen, message.NewPeer("client", 0), message.NewPeer("server", 0), md.Clone(), nil, 0)
		Expect(client.Send(context.Background(), message.NewPeer("server", 0), open)).To(Succeed())

		Eventually(func() int { return disp.count() }).Should(Equal(1))
		st, ok := l.StateOf(message.NewPeer("client", 0))
		Expect(ok).To(BeTrue())
		Expect(st.String()).To(Equal("open"))

		closeMsg := message.New(message.TagClose, message.NewPeer("client", 0), message.NewPeer("server", 0), message.NewMetadata(), nil, 0)
		Expect(client.Send(context.Background(), message.NewPeer("server", 0), closeMsg)).To(Succeed())

		Eventually(func() error { return <-done }).Should(Succeed())
		st, _ = l.StateOf(message.NewPeer("client", 0))
		Expect(st.String()).To(Equal("closed"))
	})

	It("refuses to forget a peer that has not reached closed", func() {
		l := listener.New(server, disp, 1, 0)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go l.Listen(ctx)

		open := message.New(message.TagOpen, message.NewPeer("client", 0), message.NewPeer("server", 0), message.NewMetadata(), nil, 0)
		Expect(client.Send(context.Background(), message.NewPeer("server", 0), open)).To(Succeed())
		Eventually(func() int { return disp.count() }).Should(Equal(1))

		Expect(l.Forget(message.NewPeer("client", 0))).To(HaveOccurred())
	})
})
