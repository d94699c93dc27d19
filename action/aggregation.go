package action

import (
	"context"
	"sync"

	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/internal/mlog"
	"github.com/ecmwf/multio/internal/xdebug"
	"github.com/ecmwf/multio/internal/xerrors"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/stats"
)

// fieldState is the per-fieldId aggregation accumulator from spec §4.4: a
// global-sized buffer of the declared precision plus the set of client
// peers that have already contributed.
type fieldState struct {
	global []byte
	prec   message.Precision
	parts  map[message.Peer]struct{}
	domain string
	sample message.Message // first partial, used as the header template for the emitted global message
}

// Aggregation assembles partial Field messages into one global Field once
// every expected client peer has contributed (spec §4.4), and registers
// Domain-tagged messages into the shared Registry on the way. Grounded on
// original_source/src/multio/action/Aggregation.cc (msgMap_/processedParts_/
// flushes_ layout, scatter-then-count-then-emit flow), original_source/src/
// multio/domain/Mappings.cc (domain messages feed the registry), and
// SPEC_FULL §4 items 3-4 (levelCount metadata, configurable flush-key
// scope).
type Aggregation struct {
	Base
	Registry *domain.Registry
	FlushKey string         // metadata key naming the flush scope; "" = single global scope (SPEC_FULL §4 item 4)
	Strict   bool           // return UnknownDomain and UnexpectedLatePart as errors instead of logging and dropping; DuplicatePart is always only logged
	Metrics  *stats.Metrics // optional aggregation-outcome counters

	mu      sync.Mutex
	fields  map[string]*fieldState
	done    map[string]struct{} // fieldIds already emitted, to detect UnexpectedLatePart
	flushes map[string]int
}

func NewAggregation(reg *domain.Registry) *Aggregation {
	return &Aggregation{
		Registry: reg,
		fields:   make(map[string]*fieldState),
		done:     make(map[string]struct{}),
		flushes:  make(map[string]int),
	}
}

func (a *Aggregation) String() string { return "Aggregation" }

func (a *Aggregation) flushScope(msg message.Message) string {
	if a.FlushKey == "" {
		return "*"
	}
	return msg.Metadata.GetStringDefault(a.FlushKey, "*")
}

func (a *Aggregation) Execute(ctx context.Context, msg message.Message) ([]message.Message, error) {
	switch msg.Tag {
	case message.TagFlush, message.TagStepComplete:
		return a.executeFlush(msg)
	case message.TagField:
		return a.executeField(msg)
	case message.TagDomain:
		return a.executeDomain(msg)
	default:
		return []message.Message{msg}, nil
	}
}

// executeDomain feeds a client's partition descriptor into the shared
// registry; domain messages are consumed, not forwarded.
func (a *Aggregation) executeDomain(msg message.Message) ([]message.Message, error) {
	name := msg.Metadata.GetStringDefault("domain", "")
	if name == "" {
		return nil, xerrors.NewMalformedDomain("domain message from %s carries no domain name", msg.Source)
	}
	if err := a.Registry.Add(name, msg.Source, msg.Metadata, msg.Payload); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *Aggregation) executeField(msg message.Message) ([]message.Message, error) {
	fieldID := msg.FieldID()
	domainName := msg.Metadata.GetStringDefault("domain", "")

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, emitted := a.done[fieldID]; emitted {
		err := xerrors.NewUnexpectedLatePart(fieldID, msg.Source)
		mlog.Warningf("aggregation: %v", err)
		if a.Metrics != nil {
			a.Metrics.LatePartsDropped.Inc()
		}
		if a.Strict {
			return nil, err
		}
		return nil, nil
	}

	desc, ok := a.Registry.Lookup(domainName)
	var partDesc domain.Descriptor
	if ok {
		partDesc, ok = desc.Get(msg.Source)
	}
	if !ok {
		err := xerrors.NewUnknownDomain(domainName, msg.Source)
		if a.Strict {
			return nil, err
		}
		mlog.Warningf("aggregation: %v", err)
		return nil, nil
	}
	a.Registry.WarnOnceIfInconsistent(domainName)

	levelCount := msg.Metadata.GetIntDefault("levelCount", 1)
	st, ok := a.fields[fieldID]
	if !ok {
		prec, err := msg.Precision()
		if err != nil {
			return nil, err
		}
		global := make([]byte, partDesc.GlobalSize()*levelCount*int64(prec.SizeOf()))
		st = &fieldState{
			global: global,
			prec:   prec,
			parts:  make(map[message.Peer]struct{}),
			domain: domainName,
			sample: msg,
		}
		a.fields[fieldID] = st
	}

	if _, dup := st.parts[msg.Source]; dup {
		mlog.Warningf("aggregation: %v", xerrors.NewDuplicatePart(fieldID, msg.Source))
		if a.Metrics != nil {
			a.Metrics.DuplicateParts.Inc()
		}
		return nil, nil
	}

	if err := partDesc.ToGlobal(msg.Payload, st.prec, levelCount, st.global); err != nil {
		return nil, err
	}
	st.parts[msg.Source] = struct{}{}

	expected := a.Registry.ExpectedPeerCount(domainName)
	if expected == 0 || len(st.parts) < expected {
		return nil, nil
	}

	out := a.buildGlobal(st)
	delete(a.fields, fieldID)
	a.done[fieldID] = struct{}{}
	if a.Metrics != nil {
		a.Metrics.FieldsAggregated.Inc()
	}
	return []message.Message{out}, nil
}

func (a *Aggregation) buildGlobal(st *fieldState) message.Message {
	xdebug.Assertf(len(st.global)%st.prec.SizeOf() == 0,
		"global buffer %d bytes not a multiple of precision size %d", len(st.global), st.prec.SizeOf())
	md := st.sample.Metadata.Clone()
	globalSize := int64(len(st.global)) / int64(st.prec.SizeOf())
	levelCount := md.GetIntDefault("levelCount", 1)
	if levelCount > 1 {
		globalSize /= levelCount
	}
	md.SetInt("globalSize", globalSize)
	server := st.sample.Destination
	return message.New(message.TagField, server, st.sample.Destination, md, st.global, globalSize)
}

// executeFlush counts StepComplete/Flush messages per scope and forwards
// exactly one downstream once every expected client peer has delivered its
// barrier (spec §4.4 "On Flush", §8 flush-semantics property). On a
// completed barrier, any field still pending in scope is reported as
// IncompleteAggregation and discarded (spec §4.3).
func (a *Aggregation) executeFlush(msg message.Message) ([]message.Message, error) {
	scope := a.flushScope(msg)

	a.mu.Lock()
	expected := 0
	if name := msg.Metadata.GetStringDefault("domain", ""); name != "" {
		expected = a.Registry.ExpectedPeerCount(name)
	}
	if expected == 0 {
		expected = a.Registry.ExpectedClientCount()
	}
	if expected == 0 {
		expected = 1 // no domains registered yet: nothing to barrier on
	}

	a.flushes[scope]++
	reached := a.flushes[scope] >= expected
	if reached {
		a.flushes[scope] = 0
		for fieldID, st := range a.fields {
			if !sameScope(a.FlushKey, st.sample, scope) {
				continue
			}
			want := a.Registry.ExpectedPeerCount(st.domain)
			mlog.Warningf("aggregation: %v", xerrors.NewIncompleteAggregation(fieldID, len(st.parts), want))
			if a.Metrics != nil {
				a.Metrics.IncompleteFlushes.Inc()
			}
			delete(a.fields, fieldID)
		}
	}
	a.mu.Unlock()

	if !reached {
		return nil, nil
	}
	return []message.Message{msg}, nil
}

func sameScope(flushKey string, sample message.Message, scope string) bool {
	if flushKey == "" {
		return true
	}
	return sample.Metadata.GetStringDefault(flushKey, "*") == scope
}
