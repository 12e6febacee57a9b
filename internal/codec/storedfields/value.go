// Package storedfields stores the verbatim field values of each document,
// separate from the inverted index, with random access by local doc id.
// Documents are grouped into chunks that are compressed as a unit.
package storedfields

import (
	"bytes"
	"encoding/base64"
	"math"
	"strconv"
)

// Kind is the type of a stored value. Numbers keep their exact width.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindBinary
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	default:
		return "invalid"
	}
}

func (k Kind) valid() bool {
	return k >= KindString && k <= KindFloat64
}

// Value is one stored value. The zero Value is invalid.
type Value struct {
	kind Kind
	str  string
	bin  []byte
	bits uint64
}

func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// BinaryValue copies b.
func BinaryValue(b []byte) Value {
	return Value{kind: KindBinary, bin: append([]byte{}, b...)}
}

func Int32Value(v int32) Value     { return Value{kind: KindInt32, bits: uint64(uint32(v))} }
func Int64Value(v int64) Value     { return Value{kind: KindInt64, bits: uint64(v)} }
func Float32Value(v float32) Value { return Value{kind: KindFloat32, bits: uint64(math.Float32bits(v))} }
func Float64Value(v float64) Value { return Value{kind: KindFloat64, bits: math.Float64bits(v)} }

func (v Value) Kind() Kind { return v.kind }

// Text returns a string value; empty for other kinds.
func (v Value) Text() string { return v.str }

// Binary returns a binary value. The slice must not be modified.
func (v Value) Binary() []byte { return v.bin }

func (v Value) Int32() int32     { return int32(uint32(v.bits)) }
func (v Value) Int64() int64     { return int64(v.bits) }
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) Float64() float64 { return math.Float64frombits(v.bits) }

// Any returns the value as its natural Go type.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBinary:
		return v.bin
	case KindInt32:
		return v.Int32()
	case KindInt64:
		return v.Int64()
	case KindFloat32:
		return v.Float32()
	case KindFloat64:
		return v.Float64()
	default:
		return nil
	}
}

// Equal compares kind and exact contents; floats compare by bit pattern.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.str == o.str && bytes.Equal(v.bin, o.bin) && v.bits == o.bits
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBinary:
		return base64.StdEncoding.EncodeToString(v.bin)
	case KindInt32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case KindFloat32:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	default:
		return "<invalid>"
	}
}

// Flags describe how a field was handled at index time. They are stored
// with the value so documents can be re-indexed from stored fields.
type Flags uint8

const (
	Stored Flags = 1 << iota
	Indexed
	Tokenized
)

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// Field is one named value of a document. A document may repeat a name;
// order is preserved.
type Field struct {
	Name  string
	Value Value
	Flags Flags
}

func (f Field) Equal(o Field) bool {
	return f.Name == o.Name && f.Flags == o.Flags && f.Value.Equal(o.Value)
}
