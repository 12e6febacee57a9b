// Package term defines the canonical key types of the index: BytesRef, an
// immutable view over a byte range, and Term, a (field, bytes) pair. Terms
// are totally ordered by field name and then by the code-point order of their
// UTF-8 bytes; every dictionary, view and merge in the module relies on this
// order for seek correctness.
package term

import (
	"bytes"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// BytesRef is an immutable view over buf[offset:offset+length]. Comparison
// and hashing only ever look at the viewed range.
type BytesRef struct {
	buf    []byte
	offset int
	length int
}

// NewBytesRef copies b into a new BytesRef.
func NewBytesRef(b []byte) BytesRef {
	owned := make([]byte, len(b))
	copy(owned, b)
	return BytesRef{buf: owned, length: len(owned)}
}

// BytesRefOf returns a view over buf without copying. The caller must not
// modify the viewed range afterwards.
func BytesRefOf(buf []byte, offset, length int) BytesRef {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		panic("term: BytesRef range out of bounds")
	}
	return BytesRef{buf: buf, offset: offset, length: length}
}

// BytesRefFromString returns the UTF-8 bytes of s as a BytesRef.
func BytesRefFromString(s string) BytesRef {
	return BytesRef{buf: []byte(s), length: len(s)}
}

// Bytes returns the viewed range. The slice has its capacity clipped so an
// append by the caller can never write into the owning buffer.
func (b BytesRef) Bytes() []byte {
	return b.buf[b.offset : b.offset+b.length : b.offset+b.length]
}

func (b BytesRef) Len() int {
	return b.length
}

// Clone returns a deep copy that owns its buffer.
func (b BytesRef) Clone() BytesRef {
	return NewBytesRef(b.Bytes())
}

// Compare orders by unsigned bytes, which for valid UTF-8 is Unicode
// code-point order.
func (b BytesRef) Compare(other BytesRef) int {
	return bytes.Compare(b.Bytes(), other.Bytes())
}

func (b BytesRef) Equal(other BytesRef) bool {
	return bytes.Equal(b.Bytes(), other.Bytes())
}

func (b BytesRef) HasPrefix(prefix BytesRef) bool {
	return bytes.HasPrefix(b.Bytes(), prefix.Bytes())
}

// Hash returns the xxhash64 of the viewed range.
func (b BytesRef) Hash() uint64 {
	return xxhash.Sum64(b.Bytes())
}

// String decodes the bytes as UTF-8.
func (b BytesRef) String() string {
	return string(b.Bytes())
}

func (b BytesRef) HexString() string {
	return hex.EncodeToString(b.Bytes())
}

// CompareUTF16 orders two byte sequences as their UTF-16 code units would
// sort. It differs from Compare only when a supplementary character (4-byte
// UTF-8, lead 0xF0..0xF4) meets a character in U+E000..U+FFFF (lead 0xEE or
// 0xEF): UTF-16 puts the surrogate pair first. Kept for pre-sorted legacy
// term lists; never used for seeking.
func CompareUTF16(a, b BytesRef) int {
	ab, bb := a.Bytes(), b.Bytes()
	n := min(len(ab), len(bb))
	for i := 0; i < n; i++ {
		ac, bc := ab[i], bb[i]
		if ac == bc {
			continue
		}
		if ac >= 0xee && bc >= 0xee {
			if ac&0xfe == 0xee {
				ac += 0xe
			}
			if bc&0xfe == 0xee {
				bc += 0xe
			}
		}
		if ac < bc {
			return -1
		}
		return 1
	}
	switch {
	case len(ab) < len(bb):
		return -1
	case len(ab) > len(bb):
		return 1
	default:
		return 0
	}
}
