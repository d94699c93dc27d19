package message

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ecmwf/multio/internal/xerrors"
)

// Wire framing (spec §4.1):
//
//	tag(u8) | src.group(string) | src.id(u64) | dst.group(string) | dst.id(u64) |
//	fieldId(string) | metadata(string, YAML-like) | payloadLen(u64) | payload(bytes)
//
// Strings are length-prefixed with a u32 byte count. Multiple messages may be
// packed back-to-back within a single transport frame ("stream"); Decoder
// consumes messages until the underlying reader is exhausted.

const maxStringLen = 64 << 20  // 64 MiB, guards against corrupt length prefixes
const maxPayloadLen = 1 << 34 // generous cap, guards against corrupt length prefixes

func putString(w *bufio.Writer, s string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxStringLen {
		return "", xerrors.NewFrameTooLarge(int(n), maxStringLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Encode serializes one Message onto w using the wire framing above.
func Encode(w io.Writer, m Message) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(byte(m.Tag)); err != nil {
		return err
	}
	if err := putString(bw, m.Source.Group); err != nil {
		return err
	}
	if err := writeU64(bw, m.Source.ID); err != nil {
		return err
	}
	if err := putString(bw, m.Destination.Group); err != nil {
		return err
	}
	if err := writeU64(bw, m.Destination.ID); err != nil {
		return err
	}
	if err := putString(bw, m.FieldID()); err != nil {
		return err
	}
	mdText, err := m.Metadata.EncodeText()
	if err != nil {
		return err
	}
	if err := putString(bw, mdText); err != nil {
		return err
	}
	if err := writeU64(bw, uint64(len(m.Payload))); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := bw.Write(m.Payload); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeU64(w *bufio.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// Decode reads exactly one Message from r. Returns io.EOF (unwrapped) when r
// is cleanly exhausted between messages, so a Decoder can loop until EOF.
func Decode(r io.Reader) (Message, error) {
	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return Message{}, err // propagate io.EOF as-is
	}
	tag := Tag(tagByte[0])

	srcGroup, err := readString(r)
	if err != nil {
		return Message{}, unexpectedEOF(err)
	}
	srcID, err := readU64(r)
	if err != nil {
		return Message{}, unexpectedEOF(err)
	}
	dstGroup, err := readString(r)
	if err != nil {
		return Message{}, unexpectedEOF(err)
	}
	dstID, err := readU64(r)
	if err != nil {
		return Message{}, unexpectedEOF(err)
	}
	if _, err := readString(r); err != nil { // fieldId: re-derived from metadata, not stored
		return Message{}, unexpectedEOF(err)
	}
	mdText, err := readString(r)
	if err != nil {
		return Message{}, unexpectedEOF(err)
	}
	md, err := DecodeText(mdText)
	if err != nil {
		return Message{}, xerrors.NewProtocolViolation("malformed metadata: %v", err)
	}
	payloadLen, err := readU64(r)
	if err != nil {
		return Message{}, unexpectedEOF(err)
	}
	if payloadLen > maxPayloadLen {
		return Message{}, xerrors.NewFrameTooLarge(int(payloadLen), maxPayloadLen)
	}
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, unexpectedEOF(err)
		}
	}

	return Message{
		Tag:         tag,
		Source:      Peer{Group: srcGroup, ID: srcID},
		Destination: Peer{Group: dstGroup, ID: dstID},
		Metadata:    md,
		Payload:     payload,
	}, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Decoder consumes a transport frame (a "stream" of packed messages per
// spec §4.1) until it is exhausted.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: bufio.NewReader(r)} }

// Next returns the next Message, or io.EOF when the frame is exhausted
// cleanly between messages.
func (d *Decoder) Next() (Message, error) {
	return Decode(d.r)
}

// DecodeAll drains every message packed into a single in-memory frame.
func DecodeAll(data []byte) ([]Message, error) {
	dec := NewDecoder(byteReader(data))
	var out []Message
	for {
		m, err := dec.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode frame: %w", err)
		}
		out = append(out, m)
	}
}

func byteReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	pos int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.pos:])
	s.pos += n
	return n, nil
}
