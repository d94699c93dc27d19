package message

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ecmwf/multio/internal/xerrors"
)

// Kind enumerates the metadata value variants from spec §3: bool, signed
// 64-bit integer, double, string, and homogeneous lists of any of those.
// Nested maps are deliberately unsupported (design notes §9).
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a closed sum type over the metadata variants.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
	L    []Value
}

func BoolValue(b bool) Value        { return Value{Kind: KindBool, B: b} }
func IntValue(i int64) Value        { return Value{Kind: KindInt, I: i} }
func FloatValue(f float64) Value    { return Value{Kind: KindFloat, F: f} }
func StringValue(s string) Value    { return Value{Kind: KindString, S: s} }
func ListValue(vs ...Value) Value   { return Value{Kind: KindList, L: vs} }

func (v Value) Any() any {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I
	case KindFloat:
		return v.F
	case KindString:
		return v.S
	case KindList:
		out := make([]any, len(v.L))
		for i, e := range v.L {
			out[i] = e.Any()
		}
		return out
	}
	return nil
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.B == o.B
	case KindInt:
		return v.I == o.I
	case KindFloat:
		return v.F == o.F
	case KindString:
		return v.S == o.S
	case KindList:
		if len(v.L) != len(o.L) {
			return false
		}
		for i := range v.L {
			if !v.L[i].Equal(o.L[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%g", v.F)
	case KindString:
		return v.S
	case KindList:
		return fmt.Sprintf("%v", v.L)
	}
	return "<invalid>"
}

// valueFromAny converts a generically-decoded YAML scalar/sequence into a
// Value, rejecting nested maps per spec §9.
func valueFromAny(a any) (Value, error) {
	switch t := a.(type) {
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case float64:
		return FloatValue(t), nil
	case string:
		return StringValue(t), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			v, err := valueFromAny(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return ListValue(out...), nil
	default:
		return Value{}, fmt.Errorf("metadata: unsupported value type %T (nested maps are not allowed)", a)
	}
}

// Metadata is a string-keyed mapping of tagged values (spec §3).
type Metadata map[string]Value

func NewMetadata() Metadata { return make(Metadata) }

func (m Metadata) Set(key string, v Value) Metadata {
	m[key] = v
	return m
}

func (m Metadata) SetBool(key string, v bool) Metadata     { return m.Set(key, BoolValue(v)) }
func (m Metadata) SetInt(key string, v int64) Metadata     { return m.Set(key, IntValue(v)) }
func (m Metadata) SetFloat(key string, v float64) Metadata { return m.Set(key, FloatValue(v)) }
func (m Metadata) SetString(key string, v string) Metadata { return m.Set(key, StringValue(v)) }

func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func (m Metadata) Get(key string) (Value, error) {
	v, ok := m[key]
	if !ok {
		return Value{}, xerrors.NewKeyNotFound(key)
	}
	return v, nil
}

func (m Metadata) GetBool(key string) (bool, error) {
	v, err := m.Get(key)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, xerrors.NewTypeMismatch(key, "bool", v.Kind.String())
	}
	return v.B, nil
}

func (m Metadata) GetInt(key string) (int64, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindInt {
		return 0, xerrors.NewTypeMismatch(key, "int", v.Kind.String())
	}
	return v.I, nil
}

func (m Metadata) GetIntDefault(key string, def int64) int64 {
	v, err := m.GetInt(key)
	if err != nil {
		return def
	}
	return v
}

func (m Metadata) GetFloat(key string) (float64, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindFloat {
		return 0, xerrors.NewTypeMismatch(key, "float", v.Kind.String())
	}
	return v.F, nil
}

func (m Metadata) GetString(key string) (string, error) {
	v, err := m.Get(key)
	if err != nil {
		return "", err
	}
	if v.Kind != KindString {
		return "", xerrors.NewTypeMismatch(key, "string", v.Kind.String())
	}
	return v.S, nil
}

func (m Metadata) GetStringDefault(key, def string) string {
	v, err := m.GetString(key)
	if err != nil {
		return def
	}
	return v
}

func (m Metadata) GetList(key string) ([]Value, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindList {
		return nil, xerrors.NewTypeMismatch(key, "list", v.Kind.String())
	}
	return v.L, nil
}

// Clone returns a deep copy, used when an action needs to fan out a message
// without aliasing the original's metadata (spec §3 ownership note).
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v // Value is an immutable value type, safe to share
	}
	return out
}

// Equal compares two Metadata maps key-by-key.
func (m Metadata) Equal(o Metadata) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Keys returns the metadata's keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

//
// textual (YAML-like) round-trip, spec §3
//

func (m Metadata) MarshalYAML() (any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out, nil
}

func (m *Metadata) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out := make(Metadata, len(raw))
	for k, a := range raw {
		v, err := valueFromAny(a)
		if err != nil {
			return fmt.Errorf("metadata[%q]: %w", k, err)
		}
		out[k] = v
	}
	*m = out
	return nil
}

// EncodeText renders Metadata into its YAML-like textual form (spec §3,
// round-trip property in §8).
func (m Metadata) EncodeText() (string, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeText parses the textual form produced by EncodeText.
func DecodeText(s string) (Metadata, error) {
	var m Metadata
	if err := yaml.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = NewMetadata()
	}
	return m, nil
}
