// Package mpi implements transport.Transport over MPI point-to-point
// messaging, the backend used when multio runs coupled inside an existing
// MPI application (spec §4.1, §6 "coupled deployment"). It is grounded on
// original_source/src/multio/transport/MpiTransport.cc: a "group"
// communicator is split into a client sub-group and a server sub-group
// (MpiCommSetup), and every Message's Peer carries (group, rank) exactly as
// MpiPeer does there. The actual point-to-point send/recv is delegated to
// cgo bindings against the host MPI implementation (build tag "mpi"); this
// file holds the transport.Transport plumbing that is independent of which
// MPI build is linked in.
package mpi

import (
	"context"
	"fmt"
	"sync"

	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport"
)

// Comm is the minimal surface this package needs from an MPI communicator,
// implemented by the cgo binding in comm_mpi.go (build tag "mpi") and by a
// loopback fake in comm_nompi.go for builds without an MPI toolchain.
type Comm interface {
	Rank() int
	Size() int
	// Send blocks until data has been handed to the MPI runtime for rank dst.
	Send(dst int, data []byte) error
	// Recv blocks until a message has arrived from any rank, returning its
	// source rank alongside the payload.
	Recv() (src int, data []byte, err error)
	Close() error
}

// Transport adapts an MPI Comm (one rank per process, one communicator
// shared by every peer in the group) to transport.Transport. Every Message
// is serialized with message.Encode/Decode into the byte payload MPI moves;
// MPI itself supplies reliable, ordered delivery, so there is no per-peer
// connection state to track beyond the rank table.
type Transport struct {
	comm  Comm
	group string
	ranks map[message.Peer]int // peer -> MPI rank within comm

	mu     sync.Mutex
	buf    map[message.Peer][]message.Message
	closed bool

	in   chan message.Message
	errs chan error
	wg   sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

func New(comm Comm, group string, ranks map[message.Peer]int) *Transport {
	return &Transport{
		comm:  comm,
		group: group,
		ranks: ranks,
		buf:   make(map[message.Peer][]message.Message),
		in:    make(chan message.Message, transport.DefaultInboundBurst),
		errs:  make(chan error, 16),
	}
}

func (t *Transport) OpenConnections(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	t.wg.Add(1)
	go t.recvLoop()
	return nil
}

func (t *Transport) recvLoop() {
	defer t.wg.Done()
	for {
		_, data, err := t.comm.Recv()
		if err != nil {
			return // comm closed
		}
		msgs, err := message.DecodeAll(data)
		if err != nil {
			select {
			case t.errs <- fmt.Errorf("mpi transport: decode: %w", err):
			default:
			}
			continue
		}
		for _, m := range msgs {
			select {
			case t.in <- m:
			default:
				t.in <- m
			}
		}
	}
}

func (t *Transport) rankFor(dst message.Peer) (int, error) {
	r, ok := t.ranks[dst]
	if !ok {
		return 0, fmt.Errorf("mpi transport: peer %s has no known rank in group %q", dst, t.group)
	}
	return r, nil
}

func (t *Transport) Send(_ context.Context, dst message.Peer, msg message.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	rank, err := t.rankFor(dst)
	if err != nil {
		return err
	}
	var buf encodeBuffer
	if err := message.Encode(&buf, msg); err != nil {
		return err
	}
	return t.comm.Send(rank, buf.Bytes())
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

// Flush encodes every buffered message for dst (or all destinations) into
// one packed frame and issues a single MPI Send per destination, the same
// batching MpiTransport.cc's bufferedSend/flush pair performs to amortize
// message-passing overhead across a timestep.
func (t *Transport) Flush(_ context.Context, dst message.Peer) error {
	t.mu.Lock()
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
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	for p, msgs := range pending {
		if len(msgs) == 0 {
			continue
		}
		rank, err := t.rankFor(p)
		if err != nil {
			return err
		}
		var buf encodeBuffer
		for _, m := range msgs {
			if err := message.Encode(&buf, m); err != nil {
				return err
			}
		}
		if err := t.comm.Send(rank, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Abort(err error) {
	select {
	case t.errs <- err:
	default:
	}
	_ = t.CloseConnections()
}

func (t *Transport) CloseConnections() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	err := t.comm.Close()
	t.wg.Wait()
	return err
}

func (t *Transport) LocalPeer() message.Peer {
	return message.NewPeer(t.group, uint64(t.comm.Rank()))
}

func (t *Transport) ClientPeers() []message.Peer { return t.peersExcludingSelf() }
func (t *Transport) ServerPeers() []message.Peer { return t.peersExcludingSelf() }

func (t *Transport) peersExcludingSelf() []message.Peer {
	self := t.LocalPeer()
	out := make([]message.Peer, 0, len(t.ranks))
	for p := range t.ranks {
		if !p.Equal(self) {
			out = append(out, p)
		}
	}
	return out
}

func (t *Transport) Inbound() <-chan message.Message { return t.in }
func (t *Transport) Errors() <-chan error            { return t.errs }

// encodeBuffer is a minimal growable byte sink so Flush can pack several
// Messages before handing the whole frame to comm.Send, without depending
// on bytes.Buffer's io.Reader half (mpi.Comm only ever writes).
type encodeBuffer struct{ b []byte }

func (e *encodeBuffer) Write(p []byte) (int, error) {
	e.b = append(e.b, p...)
	return len(p), nil
}

func (e *encodeBuffer) Bytes() []byte { return e.b }
