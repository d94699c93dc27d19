package action

import (
	"context"

	"github.com/ecmwf/multio/message"
)

// Convert re-encodes a Field payload into the target precision and rewrites
// the "precision" metadata key accordingly; a message already at the target
// precision passes through untouched. Single-to-double widening is exact;
// double-to-single narrows to the nearest representable float32.
type Convert struct {
	Base
	Target message.Precision
}

func NewConvert(target message.Precision) *Convert { return &Convert{Target: target} }

func (c *Convert) String() string { return "Convert" }

func (c *Convert) Execute(ctx context.Context, msg message.Message) ([]message.Message, error) {
	if msg.Tag != message.TagField {
		return []message.Message{msg}, nil
	}
	prec, err := msg.Precision()
	if err != nil {
		return nil, err
	}
	if prec == c.Target {
		return []message.Message{msg}, nil
	}
	vals := decodeValues(msg.Payload, prec)
	out := msg
	out.Metadata = msg.Metadata.Clone()
	out.Metadata.SetString("precision", c.Target.String())
	out.Payload = encodeValues(vals, c.Target)
	return []message.Message{out}, nil
}
