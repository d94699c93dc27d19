// Package transport defines the peer-to-peer message transport abstraction
// from spec §4.1 ("Transport") and its three concrete backends: mpi/ (MPI
// ranks, for the coupled-model deployment), tcp/ (standalone server), and
// thread/ (single-process, for testing and the degenerate single-rank
// case). The send-queue/completion-queue split, idle-tick bookkeeping, and
// the streamer/gc split are adapted from the teacher's transport package
// (transport/api.go, transport/sendmsg.go, transport/bundle/stream_bundle.go).
package transport

import (
	"context"
	"fmt"

	"github.com/ecmwf/multio/internal/xatomic"
	"github.com/ecmwf/multio/message"
)

// Transport is the peer-facing surface a client or server binds to a Plan
// (spec §4.1, §4.6). Implementations own zero or more logical connections to
// remote peers and a local receive queue fed by a background dispatch loop.
type Transport interface {
	// OpenConnections establishes (or re-uses) connections to every peer this
	// side needs to talk to; idempotent.
	OpenConnections(ctx context.Context) error
	// CloseConnections tears down all open connections and stops background
	// loops. After Close, Send/BufferedSend return ErrClosed.
	CloseConnections() error

	// Send transmits msg to dst immediately (no local buffering).
	Send(ctx context.Context, dst message.Peer, msg message.Message) error
	// BufferedSend appends msg to the per-destination send buffer; it is
	// flushed opportunistically when the buffer fills and explicitly by
	// Flush (spec §4.1 "bufferedSend").
	BufferedSend(ctx context.Context, dst message.Peer, msg message.Message) error
	// Flush forces all buffered sends to dst (or every destination, if dst
	// is the zero Peer) onto the wire.
	Flush(ctx context.Context, dst message.Peer) error
	// Abort tears the transport down immediately, discarding any buffered
	// or in-flight data, and records err as the termination cause.
	Abort(err error)

	// LocalPeer identifies this process among its peer group.
	LocalPeer() message.Peer
	// ClientPeers lists the peers this side sends to (servers: the clients
	// that have connected to it; clients: their configured servers).
	ClientPeers() []message.Peer
	ServerPeers() []message.Peer

	// Inbound is the stream of messages received from any peer, decoded and
	// ready for dispatch to the listener (spec §4.2).
	Inbound() <-chan message.Message
	// Errors surfaces asynchronous failures (peer unreachable, malformed
	// frame) that were not raised synchronously by Send/Flush.
	Errors() <-chan error
}

// ErrClosed is returned by Send/BufferedSend/Flush once CloseConnections (or
// Abort) has run.
var ErrClosed = fmt.Errorf("transport: closed")

// Stats mirrors the teacher's per-session transport.Stats (api.go): message
// and byte counters, readable without locking via xatomic wrappers.
type Stats struct {
	Num  xatomic.Int64
	Size xatomic.Int64
}

func (s *Stats) Record(n int64) {
	s.Num.Inc()
	s.Size.Add(n)
}

// DefaultInboundBurst is the inbound channel capacity used by every backend
// unless the caller's config overrides it (spec §5, bounded-queue
// requirement); mirrors the teacher's stream burst sizing off config.
const DefaultInboundBurst = 256

// BufferHighWater is the per-destination buffered-send depth at which a
// backend flushes on its own rather than waiting for an explicit Flush
// (spec §4.1 "flushed when the buffer reaches its high-water mark").
const BufferHighWater = 128
