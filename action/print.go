package action

import (
	"context"

	"github.com/ecmwf/multio/internal/mlog"
	"github.com/ecmwf/multio/message"
)

// Print (spec §4.3 "Print/Debug") logs every message that passes through
// and forwards it unchanged. Grounded on original_source/src/multio/
// action/Print.cc.
type Print struct {
	Base
	Prefix string
}

func NewPrint(prefix string) *Print { return &Print{Prefix: prefix} }

func (p *Print) String() string { return "Print" }

func (p *Print) Execute(ctx context.Context, msg message.Message) ([]message.Message, error) {
	mlog.Infof("%s%s", p.Prefix, msg)
	return []message.Message{msg}, nil
}

// Null (spec §4.3 "SingleFieldSink / Null") is a terminal action that
// discards every message it receives, used to cap a pipeline branch whose
// only purpose was a side effect earlier in the chain (e.g. Print or Sink).
type Null struct {
	Base
}

func (n *Null) SetNext(Action) {}

func (n *Null) String() string { return "Null" }

func (n *Null) Execute(ctx context.Context, msg message.Message) ([]message.Message, error) {
	return nil, nil
}
