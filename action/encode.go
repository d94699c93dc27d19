package action

import (
	"context"

	"github.com/ecmwf/multio/message"
)

// Codec converts an in-memory Field message's payload into a wire format
// (e.g. GRIB). Concrete codecs are an external collaborator per spec §1
// Non-goals ("concrete codec libraries used by the ... encode transforms");
// this package ships only Passthrough for testability.
type Codec interface {
	Encode(msg message.Message) ([]byte, error)
}

// PassthroughCodec is a trivial identity codec (it returns the payload
// unchanged, with no framing) used where
// tests need an Encode stage without a real GRIB dependency.
type PassthroughCodec struct{}

func (PassthroughCodec) Encode(msg message.Message) ([]byte, error) {
	return msg.Payload, nil
}

// Encode invokes an injected Codec to convert a Field message into its wire
// representation and forwards the re-encoded message, tagged Grib (spec
// §4.3). Grounded on original_source/src/multio/action/Encode.cc (delegates
// to an external encoder, forwards the result unchanged otherwise).
type Encode struct {
	Base
	Codec Codec
}

func NewEncode(codec Codec) *Encode {
	if codec == nil {
		codec = PassthroughCodec{}
	}
	return &Encode{Codec: codec}
}

func (e *Encode) String() string { return "Encode" }

func (e *Encode) Execute(ctx context.Context, msg message.Message) ([]message.Message, error) {
	if msg.Tag != message.TagField {
		return []message.Message{msg}, nil
	}
	encoded, err := e.Codec.Encode(msg)
	if err != nil {
		return nil, err
	}
	out := msg
	out.Tag = message.TagGrib
	out.Payload = encoded
	return []message.Message{out}, nil
}
