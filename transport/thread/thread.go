// Package thread implements transport.Transport for the single-process
// deployment (spec §4.1's "thread" backend): every peer lives in the same
// process and messages move over Go channels instead of a wire codec. It is
// the transport used by the load-generator and by every other package's
// unit tests. Modeled on the teacher's stream send-queue/completion-queue
// split (transport/api.go's workCh/cmplCh), minus the network plumbing.
package thread

import (
	"context"
	"sync"

	"github.com/ecmwf/multio/internal/mlog"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport"
)

// Hub is the process-wide switchboard: peers register an inbox with OpenConnections,
// and Transport.Send looks the destination's inbox up here. Tests typically
// create one Hub and open a Transport per logical peer against it.
type Hub struct {
	mu     sync.RWMutex
	inbox  map[message.Peer]chan message.Message
}

func NewHub() *Hub {
	return &Hub{inbox: make(map[message.Peer]chan message.Message)}
}

func (h *Hub) register(p message.Peer, burst int) chan message.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan message.Message, burst)
	h.inbox[p] = ch
	return ch
}

func (h *Hub) unregister(p message.Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inbox, p)
}

func (h *Hub) lookup(p message.Peer) (chan message.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.inbox[p]
	return ch, ok
}

// Transport binds one local Peer to a Hub.
type Transport struct {
	hub   *Hub
	local message.Peer
	peers []message.Peer // configured counterparties (clients, for a server; servers, for a client)

	mu      sync.Mutex
	buf     map[message.Peer][]message.Message
	closed  bool
	in      chan message.Message
	errs    chan error
	stats   transport.Stats
}

var _ transport.Transport = (*Transport)(nil)

// New creates a thread Transport for local, reachable via hub, with peers
// as its initial counterparty list (spec §4.1 expects this to be supplied
// by the Plan/config at construction time).
func New(hub *Hub, local message.Peer, peers []message.Peer) *Transport {
	return &Transport{
		hub:   hub,
		local: local,
		peers: peers,
		buf:   make(map[message.Peer][]message.Message),
		errs:  make(chan error, 16),
	}
}

func (t *Transport) OpenConnections(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.in != nil {
		return nil // already open, idempotent
	}
	t.in = t.hub.register(t.local, transport.DefaultInboundBurst)
	return nil
}

func (t *Transport) CloseConnections() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.hub.unregister(t.local)
	return nil
}

func (t *Transport) Abort(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.hub.unregister(t.local)
	}
	select {
	case t.errs <- err:
	default:
	}
}

func (t *Transport) deliverLocked(dst message.Peer, msg message.Message) error {
	if t.closed {
		return transport.ErrClosed
	}
	ch, ok := t.hub.lookup(dst)
	if !ok {
		mlog.Warningf("thread transport %s: destination %s has no open inbox, dropping %s", t.local, dst, msg.Tag)
		return nil
	}
	select {
	case ch <- msg:
		t.stats.Num.Inc()
	default:
		// inbox full: deliver synchronously-blocking rather than drop, since
		// thread transport has no backpressure signal of its own.
		ch <- msg
	}
	return nil
}

func (t *Transport) Send(_ context.Context, dst message.Peer, msg message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deliverLocked(dst, msg)
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
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if dst.IsZero() {
		for p, pending := range t.buf {
			for _, m := range pending {
				if err := t.deliverLocked(p, m); err != nil {
					return err
				}
			}
			delete(t.buf, p)
		}
		return nil
	}
	pending := t.buf[dst]
	for _, m := range pending {
		if err := t.deliverLocked(dst, m); err != nil {
			return err
		}
	}
	delete(t.buf, dst)
	return nil
}

func (t *Transport) LocalPeer() message.Peer    { return t.local }
func (t *Transport) ClientPeers() []message.Peer { return t.peers }
func (t *Transport) ServerPeers() []message.Peer { return t.peers }

func (t *Transport) Inbound() <-chan message.Message { return t.in }
func (t *Transport) Errors() <-chan error            { return t.errs }
