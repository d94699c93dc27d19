// Package tcp implements transport.Transport over persistent TCP
// connections, the backend used by the standalone multio-server deployment
// (spec §4.1). One net.Conn per remote peer; each carries the same wire
// codec as message.Encode/Decode. The accept loop and per-connection
// dispatch goroutine follow the teacher's stream handler shape
// (transport/api.go's HandleObjStream/handler), adapted from per-bucket
// object streams to per-peer message streams.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ecmwf/multio/internal/mlog"
	"github.com/ecmwf/multio/internal/xerrors"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport"
	"github.com/ecmwf/multio/transport/bufpool"
)

// Config describes one peer's address, keyed by the same message.Peer
// identity used throughout the rest of the module.
type Config struct {
	Local        message.Peer
	ListenAddr   string // non-empty: this side accepts connections (server role)
	PeerAddrs    map[message.Peer]string
}

type conn struct {
	peer message.Peer
	nc   net.Conn
	bw   *bufio.Writer
	mu   sync.Mutex // guards bw and writes to nc
}

// Transport is the TCP-backed transport.Transport.
type Transport struct {
	cfg   Config
	pool  *bufpool.Pool
	ln    net.Listener

	mu      sync.Mutex
	conns   map[message.Peer]*conn
	buf     map[message.Peer][]message.Message
	closed  bool

	in    chan message.Message
	errs  chan error
	stats transport.Stats
	wg    sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config) *Transport {
	return &Transport{
		cfg:   cfg,
		pool:  bufpool.New(),
		conns: make(map[message.Peer]*conn),
		buf:   make(map[message.Peer][]message.Message),
		in:    make(chan message.Message, transport.DefaultInboundBurst),
		errs:  make(chan error, 16),
	}
}

func (t *Transport) OpenConnections(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.mu.Unlock()

	if t.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", t.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("tcp transport: listen %s: %w", t.cfg.ListenAddr, err)
		}
		t.ln = ln
		t.wg.Add(1)
		go t.acceptLoop()
	}

	var dialErr error
	for peer, addr := range t.cfg.PeerAddrs {
		if err := t.dial(ctx, peer, addr); err != nil {
			dialErr = errors.Join(dialErr, err)
		}
	}
	return dialErr
}

func (t *Transport) dial(ctx context.Context, peer message.Peer, addr string) error {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return xerrors.NewPeerUnreachable(err, peer)
	}
	c := t.registerConn(peer, nc)
	t.wg.Add(1)
	go t.recvLoop(c)
	return nil
}

func (t *Transport) registerConn(peer message.Peer, nc net.Conn) *conn {
	c := &conn{peer: peer, nc: nc, bw: bufio.NewWriter(nc)}
	t.mu.Lock()
	t.conns[peer] = c
	t.mu.Unlock()
	return c
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		nc, err := t.ln.Accept()
		if err != nil {
			return // listener closed
		}
		// The first frame from a freshly accepted connection identifies the
		// peer (its source Peer); until then we can't key it in t.conns.
		go t.identifyAndRegister(nc)
	}
}

func (t *Transport) identifyAndRegister(nc net.Conn) {
	dec := message.NewDecoder(nc)
	msg, err := dec.Next()
	if err != nil {
		nc.Close()
		return
	}
	t.registerConn(msg.Source, nc)
	t.wg.Add(1)
	defer t.wg.Done()
	t.dispatch(msg)
	t.recvLoopFrom(dec, msg.Source)
}

func (t *Transport) recvLoop(c *conn) {
	defer t.wg.Done()
	dec := message.NewDecoder(c.nc)
	t.recvLoopFrom(dec, c.peer)
}

func (t *Transport) recvLoopFrom(dec *message.Decoder, peer message.Peer) {
	for {
		msg, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.raise(fmt.Errorf("tcp transport: reading from %s: %w", peer, err))
			}
			return
		}
		t.dispatch(msg)
	}
}

func (t *Transport) dispatch(msg message.Message) {
	t.stats.Record(int64(len(msg.Payload)))
	select {
	case t.in <- msg:
	default:
		mlog.Warningf("tcp transport: inbound queue full, blocking on %s from %s", msg.Tag, msg.Source)
		t.in <- msg
	}
}

func (t *Transport) raise(err error) {
	select {
	case t.errs <- err:
	default:
	}
}

func (t *Transport) connFor(dst message.Peer) (*conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	c, ok := t.conns[dst]
	if !ok {
		return nil, fmt.Errorf("tcp transport: no connection to peer %s", dst)
	}
	return c, nil
}

func (t *Transport) writeNow(c *conn, msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := message.Encode(c.bw, msg); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (t *Transport) Send(_ context.Context, dst message.Peer, msg message.Message) error {
	c, err := t.connFor(dst)
	if err != nil {
		return err
	}
	return t.writeNow(c, msg)
}

func (t *Transport) BufferedSend(ctx context.Context, dst message.Peer, msg message.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.buf[dst] = append(t.buf[dst], msg)
	full := len(t.buf[dst]) >= transport.BufferHighWater
	t.mu.Unlock()
	if full {
		return t.Flush(ctx, dst)
	}
	return nil
}

func (t *Transport) Flush(_ context.Context, dst message.Peer) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	var targets []message.Peer
	if dst.IsZero() {
		for p := range t.buf {
			targets = append(targets, p)
		}
	} else {
		targets = []message.Peer{dst}
	}
	pending := make(map[message.Peer][]message.Message, len(targets))
	for _, p := range targets {
		pending[p] = t.buf[p]
		delete(t.buf, p)
	}
	t.mu.Unlock()

	var flushErr error
	for p, msgs := range pending {
		if len(msgs) == 0 {
			continue
		}
		c, err := t.connFor(p)
		if err != nil {
			flushErr = errors.Join(flushErr, err)
			continue
		}
		// pack the whole batch into one pooled frame so the destination
		// receives it as a single write (spec §4.1 "multiple messages may be
		// packed back-to-back within a single transport frame").
		est := 0
		for _, m := range msgs {
			est += len(m.Payload) + 512
		}
		fb := &frameBuffer{b: t.pool.Get(est)}
		for _, m := range msgs {
			if err := message.Encode(fb, m); err != nil {
				flushErr = errors.Join(flushErr, err)
				break
			}
		}
		c.mu.Lock()
		_, err = c.nc.Write(fb.b)
		c.mu.Unlock()
		t.pool.Put(fb.b)
		if err != nil {
			flushErr = errors.Join(flushErr, err)
		}
	}
	return flushErr
}

// frameBuffer grows a pooled byte slice as an io.Writer for batch encoding.
type frameBuffer struct{ b []byte }

func (f *frameBuffer) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}

func (t *Transport) Abort(err error) {
	t.raise(err)
	_ = t.CloseConnections()
}

func (t *Transport) CloseConnections() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[message.Peer]*conn)
	ln := t.ln
	t.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.nc.Close()
	}
	t.wg.Wait()
	return nil
}

// ListenAddr returns the address the server side actually bound to, useful
// when Config.ListenAddr uses the ":0" ephemeral-port convention.
func (t *Transport) ListenAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

func (t *Transport) LocalPeer() message.Peer { return t.cfg.Local }

func (t *Transport) ClientPeers() []message.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]message.Peer, 0, len(t.conns))
	for p := range t.conns {
		out = append(out, p)
	}
	return out
}

func (t *Transport) ServerPeers() []message.Peer { return t.ClientPeers() }

func (t *Transport) Inbound() <-chan message.Message { return t.in }
func (t *Transport) Errors() <-chan error            { return t.errs }
