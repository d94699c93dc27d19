// Package action implements the action-pipeline execution model from spec
// §4.3: a chain of Action nodes, each consuming a Message and optionally
// producing zero or more downstream Messages, terminated by a sink or a
// debug/print node. Grounded on
// original_source/src/multio/action/Plan.cc (createActionList's
// reverse-then-link chain construction) and
// original_source/src/multio/action/ChainedAction.h (the execute/executeImpl
// split, generalized here into an explicit Next field instead of virtual
// dispatch).
package action

import (
	"context"

	"github.com/ecmwf/multio/message"
)

// Action is one node in a plan's action chain (spec §4.3). Execute may
// return a replacement set of messages to continue the chain with (e.g.
// Aggregation replacing N partial Field messages with one global Field
// message once complete, or zero messages while a field is still
// incomplete); returning the input msg unchanged is the default pass-
// through behavior of stateless actions like Select and Print.
type Action interface {
	Execute(ctx context.Context, msg message.Message) ([]message.Message, error)
	// Next is the downstream action this one forwards its output to, or nil
	// if this is a terminal action (a sink).
	Next() Action
	// String names the action for logging/debugging (spec §4.3's print()).
	String() string
}

// Base holds the link to the next action in the chain that Chain builds,
// each one's Next() returning the following one — the same shape
// createActionList builds by reversing a parsed action list and calling
// set("next", current) on each predecessor. Concrete Actions embed Base to
// avoid re-implementing Next().
type Base struct {
	next Action
}

func (b *Base) Next() Action     { return b.next }
func (b *Base) SetNext(n Action) { b.next = n }

// Chain builds a chain out of actions in the given (head-first) order and
// returns the head. Each non-terminal action must embed *Base and expose a
// SetNext method (see individual action types); Chain wires next pointers
// front-to-back, the Go equivalent of Plan.cc's reverse-iterate-and-link.
func Chain(actions ...Linkable) Action {
	if len(actions) == 0 {
		return nil
	}
	for i := 0; i < len(actions)-1; i++ {
		actions[i].SetNext(actions[i+1])
	}
	return actions[0]
}

// Linkable is implemented by every concrete action so Chain can wire next
// pointers without each action's constructor needing to know its successor
// up front (actions are normally built bottom-up from config, then linked).
type Linkable interface {
	Action
	SetNext(Action)
}

// Forward runs msg through action and then, for every message it produces,
// recurses into action.Next() — the shared "pass everything downstream"
// behavior every non-terminal action uses after doing its own work.
func Forward(ctx context.Context, a Action, msg message.Message) error {
	out, err := a.Execute(ctx, msg)
	if err != nil {
		return err
	}
	next := a.Next()
	if next == nil {
		return nil
	}
	for _, m := range out {
		if err := Forward(ctx, next, m); err != nil {
			return err
		}
	}
	return nil
}
