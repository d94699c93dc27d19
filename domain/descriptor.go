// Package domain implements partition descriptors and the per-process
// DomainMap/Registry from spec §3 ("Domain descriptor", "DomainMap") and
// §4.5 ("Domain registry"). Scatter math (ToGlobal) is grounded on
// original_source/src/multio/domain/Domain.cc.
package domain

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ecmwf/multio/internal/xdebug"
	"github.com/ecmwf/multio/internal/xerrors"
	"github.com/ecmwf/multio/message"
)

// Kind enumerates the descriptor variants from spec §3.
type Kind int

const (
	KindUnstructured Kind = iota
	KindStructured
	KindSpectral
)

func (k Kind) String() string {
	switch k {
	case KindUnstructured:
		return "unstructured"
	case KindStructured:
		return "structured"
	case KindSpectral:
		return "spectral"
	default:
		return "unknown"
	}
}

// Descriptor maps one peer's local partition into the global field.
type Descriptor interface {
	Kind() Kind
	// GlobalSize is the total element count of the field this partition
	// contributes to (per level).
	GlobalSize() int64
	// LocalSize is the element count of one level of this partition.
	LocalSize() int64
	// ToGlobal scatters one peer's local payload into global, which must
	// already be sized GlobalSize()*levelCount*precision.SizeOf() and
	// zero-initialized by the caller (the Aggregation action).
	ToGlobal(local []byte, prec message.Precision, levelCount int64, global []byte) error
	// Bytes is the descriptor's raw wire encoding, used both to re-transmit
	// it and to compare two registrations for byte-equality (idempotent
	// re-registration, spec §4.5 / §8).
	Bytes() []byte
}

//
// Unstructured
//

type Unstructured struct {
	Definition []int32 // one global index per local element; duplicates disallowed
	global     int64
}

func NewUnstructured(definition []int32, globalSize int64) (*Unstructured, error) {
	seen := make(map[int32]struct{}, len(definition))
	for _, idx := range definition {
		if idx < 0 || int64(idx) >= globalSize {
			return nil, xerrors.NewMalformedDomain("unstructured index %d out of range [0,%d)", idx, globalSize)
		}
		if _, dup := seen[idx]; dup {
			return nil, xerrors.NewMalformedDomain("unstructured domain has duplicate index %d within one partition", idx)
		}
		seen[idx] = struct{}{}
	}
	return &Unstructured{Definition: definition, global: globalSize}, nil
}

func (u *Unstructured) Kind() Kind        { return KindUnstructured }
func (u *Unstructured) GlobalSize() int64 { return u.global }
func (u *Unstructured) LocalSize() int64  { return int64(len(u.Definition)) }

func (u *Unstructured) ToGlobal(local []byte, prec message.Precision, levelCount int64, global []byte) error {
	sz := int64(prec.SizeOf())
	localSize := u.LocalSize()
	if int64(len(local)) != localSize*levelCount*sz {
		return xerrors.NewMalformedDomain(
			"local payload is %d bytes, expected %d (localSize=%d levels=%d precision=%d)",
			len(local), localSize*levelCount*sz, localSize, levelCount, sz)
	}
	xdebug.Assertf(int64(len(global)) == u.global*levelCount*sz,
		"global buffer %d bytes, want %d", len(global), u.global*levelCount*sz)
	for lev := int64(0); lev < levelCount; lev++ {
		for k, id := range u.Definition {
			srcOff := (int64(k) + lev*localSize) * sz
			dstOff := (int64(id) + lev*u.global) * sz
			copy(global[dstOff:dstOff+sz], local[srcOff:srcOff+sz])
		}
	}
	return nil
}

func (u *Unstructured) Bytes() []byte {
	buf := make([]byte, 4*len(u.Definition))
	for i, v := range u.Definition {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

//
// Structured
//

// Structured is the 11-integer box description with halos from spec §3:
// (ni_global, nj_global, ibegin, ni, jbegin, nj, data_dim, data_ibegin,
// data_ni, data_jbegin, data_nj).
type Structured struct {
	NiGlobal, NjGlobal           int32
	IBegin, Ni, JBegin, Nj       int32
	DataDim                      int32
	DataIBegin, DataNi           int32
	DataJBegin, DataNj           int32
}

func NewStructured(def [11]int32) (*Structured, error) {
	s := &Structured{
		NiGlobal: def[0], NjGlobal: def[1],
		IBegin: def[2], Ni: def[3], JBegin: def[4], Nj: def[5],
		DataDim:    def[6],
		DataIBegin: def[7], DataNi: def[8], DataJBegin: def[9], DataNj: def[10],
	}
	if s.NiGlobal <= 0 || s.NjGlobal <= 0 || s.DataNi <= 0 || s.DataNj <= 0 {
		return nil, xerrors.NewMalformedDomain("structured domain has non-positive dimension: %+v", def)
	}
	return s, nil
}

func (s *Structured) Kind() Kind        { return KindStructured }
func (s *Structured) GlobalSize() int64 { return int64(s.NiGlobal) * int64(s.NjGlobal) }
func (s *Structured) LocalSize() int64  { return int64(s.DataNi) * int64(s.DataNj) }

func inRange(v, low, upp int32) bool { return low <= v && v < upp }

func (s *Structured) ToGlobal(local []byte, prec message.Precision, levelCount int64, global []byte) error {
	sz := int64(prec.SizeOf())
	localSize := s.LocalSize()
	if int64(len(local)) != localSize*levelCount*sz {
		return xerrors.NewMalformedDomain(
			"local payload is %d bytes, expected %d (dataNi*dataNj=%d levels=%d precision=%d)",
			len(local), localSize*levelCount*sz, localSize, levelCount, sz)
	}
	globalSize := s.GlobalSize()
	xdebug.Assertf(int64(len(global)) == globalSize*levelCount*sz,
		"global buffer %d bytes, want %d", len(global), globalSize*levelCount*sz)
	for lev := int64(0); lev < levelCount; lev++ {
		levOff := lev * globalSize
		srcBase := lev * localSize
		k := int64(0)
		for j := s.DataJBegin; j != s.DataJBegin+s.DataNj; j++ {
			for i := s.DataIBegin; i != s.DataIBegin+s.DataNi; i++ {
				if inRange(i, 0, s.Ni) && inRange(j, 0, s.Nj) {
					gidx := levOff + int64(s.JBegin+j)*int64(s.NiGlobal) + int64(s.IBegin+i)
					srcOff := (srcBase + k) * sz
					dstOff := gidx * sz
					copy(global[dstOff:dstOff+sz], local[srcOff:srcOff+sz])
				}
				k++
			}
		}
	}
	return nil
}

func (s *Structured) Bytes() []byte {
	vals := [11]int32{
		s.NiGlobal, s.NjGlobal, s.IBegin, s.Ni, s.JBegin, s.Nj,
		s.DataDim, s.DataIBegin, s.DataNi, s.DataJBegin, s.DataNj,
	}
	buf := make([]byte, 44)
	for i, v := range vals {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

//
// Spectral (supplemented feature: SPEC_FULL §4 item 1)
//
// The original multio defines a third domain kind whose to_local/to_global
// are left unimplemented (NOTIMP). Carried here so a configuration naming
// it fails with a clear error instead of silently mismatching a different
// domain kind.

type Spectral struct {
	Raw []int32
}

func (s *Spectral) Kind() Kind        { return KindSpectral }
func (s *Spectral) GlobalSize() int64 { return 0 }
func (s *Spectral) LocalSize() int64  { return 0 }

func (s *Spectral) ToGlobal([]byte, message.Precision, int64, []byte) error {
	return fmt.Errorf("domain: spectral representation is not implemented")
}

func (s *Spectral) Bytes() []byte {
	buf := make([]byte, 4*len(s.Raw))
	for i, v := range s.Raw {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

// Equal reports byte-equality of two descriptors, used by the registry's
// idempotent-registration check (spec §4.5 / §8).
func Equal(a, b Descriptor) bool {
	return a.Kind() == b.Kind() && bytes.Equal(a.Bytes(), b.Bytes())
}

// Parse decodes a Domain message's payload into a Descriptor. The
// "representation" metadata key selects the variant; "globalSize" is
// required for unstructured domains.
func Parse(md message.Metadata, payload []byte) (Descriptor, error) {
	rep := md.GetStringDefault("representation", "unstructured")
	switch rep {
	case "unstructured":
		if len(payload)%4 != 0 {
			return nil, xerrors.NewMalformedDomain("unstructured payload length %d is not a multiple of 4", len(payload))
		}
		n := len(payload) / 4
		def := make([]int32, n)
		for i := 0; i < n; i++ {
			def[i] = int32(binary.BigEndian.Uint32(payload[i*4:]))
		}
		globalSize, err := md.GetInt("globalSize")
		if err != nil {
			return nil, xerrors.NewMalformedDomain("unstructured domain requires metadata key globalSize: %v", err)
		}
		return NewUnstructured(def, globalSize)
	case "structured":
		if len(payload) != 44 {
			return nil, xerrors.NewMalformedDomain("structured payload must be exactly 11 int32s (44 bytes), got %d", len(payload))
		}
		var def [11]int32
		for i := 0; i < 11; i++ {
			def[i] = int32(binary.BigEndian.Uint32(payload[i*4:]))
		}
		return NewStructured(def)
	case "spectral":
		n := len(payload) / 4
		raw := make([]int32, n)
		for i := 0; i < n; i++ {
			raw[i] = int32(binary.BigEndian.Uint32(payload[i*4:]))
		}
		return &Spectral{Raw: raw}, nil
	default:
		return nil, xerrors.NewMalformedDomain("unknown domain representation %q", rep)
	}
}
