package action

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/ecmwf/multio/internal/xerrors"
	"github.com/ecmwf/multio/message"
)

// Writer is the sink-side contract: a named destination for a Field
// message's payload. Concrete object-store sinks are an external
// collaborator per spec §1 Non-goals; this package ships an in-memory
// Writer used by tests and by configured sinks that name no path, and a
// plain file Writer.
type Writer interface {
	Write(msg message.Message) error
	Name() string
}

// MemoryWriter is a Writer that keeps every written message in memory,
// used by tests asserting on sink contents (spec §8 scenarios 2-3).
type MemoryWriter struct {
	NameStr  string
	Messages []message.Message
}

func (w *MemoryWriter) Name() string { return w.NameStr }
func (w *MemoryWriter) Write(msg message.Message) error {
	w.Messages = append(w.Messages, msg)
	return nil
}

// FileWriter writes each message's payload under Dir, one file per
// fieldId, optionally gzip-compressed with klauspost/compress (the same
// family the teacher uses for its on-the-wire compression). The fieldId is
// sanitized into a filesystem-safe name.
type FileWriter struct {
	Dir      string
	Compress bool
}

func (w *FileWriter) Name() string { return w.Dir }

func (w *FileWriter) Write(msg message.Message) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	name := sanitizeFileName(msg.FieldID())
	if name == "" {
		name = msg.Tag.String()
	}
	if !w.Compress {
		return os.WriteFile(filepath.Join(w.Dir, name+".bin"), msg.Payload, 0o644)
	}
	f, err := os.Create(filepath.Join(w.Dir, name+".bin.gz"))
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(msg.Payload); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

// Sink is the terminal action from spec §4.3: writes data payloads (Field,
// Grib, Statistics) to a named sink and does not forward; control and
// lifecycle messages are ignored. Grounded on original_source/src/multio/
// action/Sink.cc (dispatch-to-configured-writer, no downstream forward)
// and the teacher's ais/tgts3.go / tgtec.go sink-selection-by-name
// pattern, generalized here into the Writer interface.
type Sink struct {
	Base
	Target Writer
}

func NewSink(target Writer) *Sink { return &Sink{Target: target} }

func (s *Sink) SetNext(Action) {} // terminal

func (s *Sink) String() string { return "Sink" }

func (s *Sink) Execute(ctx context.Context, msg message.Message) ([]message.Message, error) {
	switch msg.Tag {
	case message.TagField, message.TagGrib, message.TagStatistics:
	default:
		return nil, nil
	}
	if err := s.Target.Write(msg); err != nil {
		return nil, xerrors.NewSinkError(err, s.Target.Name())
	}
	return nil, nil
}
