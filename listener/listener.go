// Package listener implements the server-side message loop from spec §4.2
// ("Listener"): it drains a Transport's inbound channel, tracks each client
// peer's connection state, and dispatches every Message to a Plan from a
// single dispatcher goroutine fed by a bounded queue. Grounded on
// original_source/src/multio/server/Listener.h (connections_ list,
// msgQueue_, dispatcher) and on the teacher's transport.StreamCollector /
// gc goroutine for the "drain until every connection is gone" shutdown
// discipline.
package listener

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ecmwf/multio/internal/mlog"
	"github.com/ecmwf/multio/internal/xerrors"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport"
)

// connState is a client peer's lifecycle as seen by the Listener (spec
// §4.2): Unknown until its first message arrives, Open once it has sent
// Open, Streaming once data messages are flowing, Closed on Close, and
// finally forgotten (removed from the tracking table via Forget).
type connState int

const (
	StateUnknown connState = iota
	StateOpen
	StateStreaming
	StateClosed
)

func (s connState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "open'"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Dispatcher is whatever the Listener hands each message to once it has
// been classified — in practice a plan.Set, kept as an interface here so
// listener doesn't import plan.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg message.Message) error
}

// Listener owns one Transport's inbound side: a receiver goroutine drains
// the transport and tracks connection state per client peer, a single
// dispatcher goroutine pulls from the bounded queue and invokes the
// Dispatcher. Dispatch is deliberately single-threaded (spec §5: actions
// may assume single-threaded access to their own state, and per-client
// send order must be preserved through the pipeline).
type Listener struct {
	trans      transport.Transport
	dispatcher Dispatcher
	queueSize  int

	// OnQueueDepth, if set, is called with the queue's occupancy after
	// every enqueue/dequeue; the server process points it at a gauge.
	OnQueueDepth func(int)

	mu          sync.Mutex
	conns       map[message.Peer]connState
	nbClosed    int
	expectedTot int // total distinct client peers expected; 0 = unknown, never auto-terminate
}

// New creates a Listener bound to trans, dispatching to d through a bounded
// queue of queueSize messages (spec §6 MULTIO_MESSAGE_QUEUE_SIZE). expected,
// if non-zero, is the number of distinct client peers the Listener should
// wait to hear Close from before Listen returns on its own; zero means
// Listen only returns when ctx is cancelled or the inbound channel closes.
func New(trans transport.Transport, d Dispatcher, queueSize, expected int) *Listener {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Listener{
		trans:       trans,
		dispatcher:  d,
		queueSize:   queueSize,
		conns:       make(map[message.Peer]connState),
		expectedTot: expected,
	}
}

// Listen runs the receive/dispatch loops until ctx is cancelled, the
// transport's inbound channel closes, or (when expected > 0) every expected
// peer has reached StateClosed. Once the receiver stops it closes the queue
// and the dispatcher drains whatever is still enqueued before returning
// (spec §4.2 "the listener drains msgQueue and returns"). Returns the first
// dispatch error encountered.
func (l *Listener) Listen(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan message.Message, l.queueSize)

	g.Go(func() error {
		defer close(queue)
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-l.trans.Inbound():
				if !ok {
					return nil
				}
				l.transition(msg)
				select {
				case queue <- msg:
					l.reportDepth(len(queue))
				case <-ctx.Done():
					return nil
				}
				if l.done() {
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		for msg := range queue {
			l.reportDepth(len(queue))
			if err := l.dispatcher.Dispatch(ctx, msg); err != nil {
				mlog.Errorf("listener: dispatch %s from %s failed: %v", msg.Tag, msg.Source, err)
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (l *Listener) reportDepth(n int) {
	if l.OnQueueDepth != nil {
		l.OnQueueDepth(n)
	}
}

// transition advances the sending peer's connection state per spec §4.2:
// Unknown -> Open on Open, -> Streaming once data flows, -> Closed on
// Close. A duplicate Open is ignored with a warning; a Close from a peer
// that was never seen is an error (logged, but still counted so a
// misbehaving client cannot wedge termination).
func (l *Listener) transition(msg message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, known := l.conns[msg.Source]

	switch msg.Tag {
	case message.TagOpen:
		if known && cur != StateClosed {
			mlog.Warningf("listener: duplicate Open from %s, ignored", msg.Source)
			return
		}
		cur = StateOpen
	case message.TagClose:
		if !known {
			mlog.Errorf("listener: Close from unknown peer %s", msg.Source)
		}
		if cur != StateClosed {
			cur = StateClosed
			l.nbClosed++
		}
	default:
		if !known || cur == StateOpen {
			cur = StateStreaming
		}
	}
	l.conns[msg.Source] = cur
}

func (l *Listener) done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expectedTot == 0 {
		return false
	}
	return l.nbClosed >= l.expectedTot
}

// ConnectionCount reports how many client peers are still tracked (i.e.
// have not yet reached StateClosed and been forgotten).
func (l *Listener) ConnectionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, st := range l.conns {
		if st != StateClosed {
			n++
		}
	}
	return n
}

// StateOf reports the tracked connection state for peer, and whether it is
// known at all (an unknown peer is reported as StateUnknown, false).
func (l *Listener) StateOf(peer message.Peer) (connState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.conns[peer]
	return st, ok
}

// Forget drops peer from the tracking table once its Closed state has been
// observed and handled by the caller (e.g. after its partition has been
// removed from a domain.Registry), matching Listener.h's "forgotten" phase.
func (l *Listener) Forget(peer message.Peer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.conns[peer]
	if !ok {
		return xerrors.NewProtocolViolation("listener: cannot forget unknown peer %s", peer)
	}
	if st != StateClosed {
		return xerrors.NewProtocolViolation("listener: peer %s is %s, not closed", peer, st)
	}
	delete(l.conns, peer)
	return nil
}
