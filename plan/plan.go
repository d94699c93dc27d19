// Package plan implements spec §4.6: a named pipeline (head action) that
// every dispatched message is offered to, under a timing scope. Grounded on
// original_source/src/multio/action/Plan.cc (name + root Action, process()
// delegates entirely to the chain, no branching of its own) and the
// teacher's xact package's per-operation timing-counter idiom
// (xact/xs timing via cmn/mono, adapted here as a plain duration counter
// since this module has no xaction registry to report into).
package plan

import (
	"context"
	"sync"
	"time"

	"github.com/ecmwf/multio/action"
	"github.com/ecmwf/multio/internal/xatomic"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/stats"
)

// Plan owns one action chain's head and a name; Process is the only
// operation (spec §4.6: "No branching; all routing lives in actions").
type Plan struct {
	Name string
	Head action.Action

	processed xatomic.Int64
	nanos     xatomic.Int64
}

func New(name string, head action.Action) *Plan {
	return &Plan{Name: name, Head: head}
}

// Process runs msg through the action chain under a timing scope, matching
// spec §4.6's "invokes head.execute(message) under a timing scope".
func (p *Plan) Process(ctx context.Context, msg message.Message) error {
	start := time.Now()
	defer func() {
		p.processed.Inc()
		p.nanos.Add(time.Since(start).Nanoseconds())
	}()
	if p.Head == nil {
		return nil
	}
	return action.Forward(ctx, p.Head, msg)
}

// Stats reports how many messages this plan has processed and the total
// time spent doing so.
func (p *Plan) Stats() (processed int64, total time.Duration) {
	return p.processed.Load(), time.Duration(p.nanos.Load())
}

// Set is an ordered list of Plans a Server runs; every incoming message is
// offered to each plan in order (spec §4.6).
type Set struct {
	mu      sync.RWMutex
	plans   []*Plan
	metrics *stats.Metrics
}

func NewSet(plans ...*Plan) *Set {
	return &Set{plans: plans}
}

// WithMetrics attaches per-tag receive counters and the per-plan dispatch
// histogram; the server process passes its stats.Metrics here.
func (s *Set) WithMetrics(m *stats.Metrics) *Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	return s
}

// Dispatch satisfies listener.Dispatcher: it offers msg to every plan in
// order, collecting (not short-circuiting on) the first error so that one
// plan's failure does not stop the others from seeing the message — mirrors
// the teacher's Errs-collector pattern used by batched multi-target ops.
func (s *Set) Dispatch(ctx context.Context, msg message.Message) error {
	s.mu.RLock()
	plans := s.plans
	metrics := s.metrics
	s.mu.RUnlock()

	if metrics != nil {
		metrics.MessagesReceived.WithLabelValues(msg.Tag.String()).Inc()
	}

	var firstErr error
	for _, p := range plans {
		start := time.Now()
		err := p.Process(ctx, msg)
		if metrics != nil {
			metrics.PlanDispatchSeconds.WithLabelValues(stats.SanitizeLabel(p.Name)).Observe(time.Since(start).Seconds())
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Set) Plans() []*Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Plan, len(s.plans))
	copy(out, s.plans)
	return out
}
