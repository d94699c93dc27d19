// Package message implements the envelope, metadata, and peer identity types
// from spec §3, plus the wire codec from spec §4.1.
package message

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ecmwf/multio/internal/xerrors"
)

// Tag enumerates the message kinds from spec §3.
type Tag uint8

const (
	TagField Tag = iota
	TagMapping
	TagStepComplete
	TagFlush
	TagOpen
	TagClose
	TagDomain
	TagGrib
	TagStatistics
	TagNotification
)

func (t Tag) String() string {
	switch t {
	case TagField:
		return "Field"
	case TagMapping:
		return "Mapping"
	case TagStepComplete:
		return "StepComplete"
	case TagFlush:
		return "Flush"
	case TagOpen:
		return "Open"
	case TagClose:
		return "Close"
	case TagDomain:
		return "Domain"
	case TagGrib:
		return "Grib"
	case TagStatistics:
		return "Statistics"
	case TagNotification:
		return "Notification"
	default:
		return "Unknown"
	}
}

// IsControl reports whether the tag is one that every non-terminal action
// must forward regardless of its own filtering logic (spec §4.3).
func (t Tag) IsControl() bool { return t == TagStepComplete || t == TagFlush }

// Precision is the element precision of a Field payload.
type Precision int

const (
	PrecisionSingle Precision = iota
	PrecisionDouble
)

func (p Precision) String() string {
	if p == PrecisionSingle {
		return "single"
	}
	return "double"
}

func (p Precision) SizeOf() int {
	if p == PrecisionSingle {
		return 4
	}
	return 8
}

func PrecisionFromString(s string) (Precision, error) {
	switch s {
	case "single":
		return PrecisionSingle, nil
	case "double":
		return PrecisionDouble, nil
	default:
		return 0, fmt.Errorf("unknown precision %q", s)
	}
}

// IdentifyingKeys is the canonical subset of metadata keys used to derive a
// Field message's fieldId (spec §3 invariant: two messages with the same
// fieldId must describe the same global field). Adapted from the original
// multio's "param,level,step" convention (original_source message/Message.cc
// family) and left overridable for the level-count supplement (SPEC_FULL §4.3).
var IdentifyingKeys = []string{"param", "level", "step", "levtype", "domain"}

// Message is the immutable envelope carried through transport and the action
// pipeline (spec §3). Construction derives fieldId; callers never set it
// directly. GlobalSize is not a distinct wire field: it travels inside
// Metadata (key "globalSize"), always in element count, never bytes (spec §9
// open question resolved in favor of element count).
type Message struct {
	Tag         Tag
	Source      Peer
	Destination Peer
	Metadata    Metadata
	Payload     []byte
}

// New constructs a Message and derives its fieldId-bearing metadata state.
// Validation of Field-specific invariants happens in Validate, not here,
// because control messages (Open/Close/StepComplete/...) carry no payload.
func New(tag Tag, src, dst Peer, md Metadata, payload []byte, globalSize int64) Message {
	if md == nil {
		md = NewMetadata()
	}
	if tag == TagField {
		md.SetInt("globalSize", globalSize)
	}
	return Message{
		Tag:         tag,
		Source:      src,
		Destination: dst,
		Metadata:    md,
		Payload:     payload,
	}
}

// GlobalSize returns the declared element count of the global field (spec
// §3); only meaningful for Field messages.
func (m Message) GlobalSize() int64 {
	return m.Metadata.GetIntDefault("globalSize", 0)
}

// FieldID deterministically derives the aggregation key from the canonical
// identifying metadata keys, skipping any that are absent.
func (m Message) FieldID() string {
	var b strings.Builder
	first := true
	for _, k := range IdentifyingKeys {
		v, ok := m.Metadata[k]
		if !ok {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		fmt.Fprintf(&b, "%s=%s", k, v.String())
	}
	return b.String()
}

// Precision reads the "precision" metadata key (spec §3); Field messages
// must carry it.
func (m Message) Precision() (Precision, error) {
	s, err := m.Metadata.GetString("precision")
	if err != nil {
		return 0, err
	}
	return PrecisionFromString(s)
}

// Validate enforces the per-tag invariants from spec §3.
func (m Message) Validate() error {
	if m.Tag != TagField {
		return nil
	}
	prec, err := m.Precision()
	if err != nil {
		return err
	}
	sz := prec.SizeOf()
	if len(m.Payload)%sz != 0 {
		return xerrors.NewProtocolViolation(
			"payload size %d is not a multiple of precision size %d", len(m.Payload), sz)
	}
	return nil
}

func (m Message) String() string {
	return fmt.Sprintf("%s[%s->%s field=%q bytes=%d]", m.Tag, m.Source, m.Destination, m.FieldID(), len(m.Payload))
}

// SortedMetadataKeys exposes deterministic iteration for tests & codecs.
func SortedMetadataKeys(m Metadata) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
