// Package value implements StrataDB's canonical eight-variant tagged value:
// the one type every primitive stores, logs, and snapshots.
package value

import (
	"fmt"
	"math"
	"sort"
)

// Kind discriminates the eight Value variants. It never changes meaning or
// numbering once assigned; the WAL and snapshot formats persist it.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a closed sum type over Null, Bool, Int, Float, String, Bytes,
// Array, and Object. It is never represented as a bare Go interface{}: the
// explicit Kind tag means Null, Bool(false), and "no value at all" are
// always distinguishable, and Equal/Hash never need a type switch that could
// silently fall through.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	arr   []Value
	obj   map[string]Value
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value        { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }
func Array(vs ...Value) Value     { return Value{kind: KindArray, arr: vs} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) TypeName() string { return v.kind.String() }
func (v Value) IsNull() bool   { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Equal implements the frozen equality rules: no coercion across kinds,
// IEEE-754 float semantics (NaN != NaN, +0.0 == -0.0 for equality purposes
// even though the sign bit survives storage), order-insensitive objects,
// order-sensitive arrays.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f // Go's == already gives NaN!=NaN and -0.0==0.0
	case KindString:
		return v.s == other.s
	case KindBytes:
		return string(v.bytes) == string(other.bytes)
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, vv := range v.obj {
			ov, ok := other.obj[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SpecialFloatKind classifies the non-ordinary floats whose bit pattern
// matters for exact round-tripping.
type SpecialFloatKind int

const (
	NotSpecial SpecialFloatKind = iota
	NaN
	PositiveInf
	NegativeInf
	NegativeZero
)

// IsSpecialFloat reports whether v is a Float holding a NaN, an infinity, or
// negative zero — the four cases that need marker encoding on the wire
// instead of a plain JSON number.
func IsSpecialFloat(v Value) bool {
	return SpecialFloat(v) != NotSpecial
}

// SpecialFloat classifies v, returning NotSpecial for any non-Float value or
// any ordinary finite float.
func SpecialFloat(v Value) SpecialFloatKind {
	if v.kind != KindFloat {
		return NotSpecial
	}
	return classifyFloat(v.f)
}

func classifyFloat(f float64) SpecialFloatKind {
	switch {
	case math.IsNaN(f):
		return NaN
	case math.IsInf(f, 1):
		return PositiveInf
	case math.IsInf(f, -1):
		return NegativeInf
	case f == 0 && math.Signbit(f):
		return NegativeZero
	default:
		return NotSpecial
	}
}

// Hash is consistent with Equal: equal values always hash equal. It is not
// required to distinguish unequal values (NaN never equals another NaN, so
// its hash is unconstrained by that half of the contract).
func (v Value) Hash() uint64 {
	h := uint64(fnvOffset)
	h = hashByte(h, byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindBool:
		b := byte(0)
		if v.b {
			b = 1
		}
		h = hashByte(h, b)
	case KindInt:
		h = hashUint64(h, uint64(v.i))
	case KindFloat:
		bits := math.Float64bits(v.f)
		if v.f == 0 {
			bits = 0 // normalize +0.0 and -0.0 (equal values) to one pattern
		}
		h = hashUint64(h, bits)
	case KindString:
		h = hashBytes(h, []byte(v.s))
	case KindBytes:
		h = hashBytes(h, v.bytes)
	case KindArray:
		for _, e := range v.arr {
			h = hashUint64(h, e.Hash())
		}
	case KindObject:
		keys := sortedKeys(v.obj)
		for _, k := range keys {
			h = hashBytes(h, []byte(k))
			h = hashUint64(h, v.obj[k].Hash())
		}
	}
	return h
}

const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

func hashByte(h uint64, b byte) uint64 {
	h ^= uint64(b)
	h *= fnvPrime
	return h
}

func hashBytes(h uint64, bs []byte) uint64 {
	for _, b := range bs {
		h = hashByte(h, b)
	}
	return h
}

func hashUint64(h uint64, v uint64) uint64 {
	for i := 0; i < 8; i++ {
		h = hashByte(h, byte(v>>(8*i)))
	}
	return h
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%v", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.bytes))
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.arr))
	case KindObject:
		return fmt.Sprintf("object(%d)", len(v.obj))
	default:
		return "?"
	}
}
