package action

import (
	"context"

	"github.com/ecmwf/multio/message"
)

// Reduce is the boolean combinator for MatchReduce nodes (spec §4.7).
type Reduce int

const (
	ReduceAnd Reduce = iota
	ReduceOr
)

// Matcher is the boolean expression over metadata from spec §4.7: leaf
// MatchKeys nodes and internal MatchReduce nodes, each optionally negated.
// An empty Matcher (nil) matches everything.
type Matcher interface {
	matches(md message.Metadata) bool
}

// MatchKeys is a leaf: key -> set of allowed values, with optional negation
// (the configuration sugar "ignore:" negates a "match:" block).
type MatchKeys struct {
	Keys   map[string][]message.Value
	Negate bool
}

func (k *MatchKeys) matches(md message.Metadata) bool {
	ok := true
	for key, allowed := range k.Keys {
		v, err := md.Get(key)
		if err != nil {
			ok = false
			break
		}
		found := false
		for _, a := range allowed {
			if v.Equal(a) {
				found = true
				break
			}
		}
		if !found {
			ok = false
			break
		}
	}
	if k.Negate {
		return !ok
	}
	return ok
}

// MatchReduce is an internal node combining children with And/Or, with
// optional negation ("not:").
type MatchReduce struct {
	Op       Reduce
	Negate   bool
	Children []Matcher
}

func (r *MatchReduce) matches(md message.Metadata) bool {
	var ok bool
	switch r.Op {
	case ReduceOr:
		ok = false
		for _, c := range r.Children {
			if c.matches(md) {
				ok = true
				break
			}
		}
	default: // ReduceAnd
		ok = true
		for _, c := range r.Children {
			if !c.matches(md) {
				ok = false
				break
			}
		}
	}
	if r.Negate {
		return !ok
	}
	return ok
}

// Select is the metadata-matcher action from spec §4.3: forwards msg if
// Matcher.matches(msg.Metadata), drops it otherwise. Grounded on
// original_source/src/multio/action/Select.cc and
// original_source/src/multio/action/MatchReduce.h for the match/ignore/
// any/all/not construction sugar. Carries the implicit
// isMessageSelectable gate from SPEC_FULL §4 item 2: StepComplete and
// Flush always pass regardless of the configured matcher.
type Select struct {
	Base
	Matcher Matcher // nil matches everything (spec §4.7)
}

func NewSelect(m Matcher) *Select { return &Select{Matcher: m} }

func (s *Select) String() string { return "Select" }

// Matches reports whether msg would be forwarded, without side effects
// (spec §4.7 "selectors are pure"). Only data messages are selectable;
// control and lifecycle messages (StepComplete, Flush, Domain, Open,
// Close, ...) always pass so downstream actions keep seeing their
// barriers and registrations.
func (s *Select) Matches(msg message.Message) bool {
	switch msg.Tag {
	case message.TagField, message.TagGrib, message.TagStatistics:
	default:
		return true
	}
	if s.Matcher == nil {
		return true
	}
	return s.Matcher.matches(msg.Metadata)
}

func (s *Select) Execute(ctx context.Context, msg message.Message) ([]message.Message, error) {
	if !s.Matches(msg) {
		return nil, nil
	}
	return []message.Message{msg}, nil
}
