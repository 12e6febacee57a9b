// Package encoding holds the binary primitives shared by every codec stream:
// varint buffers, a bounds-checked reader with a sticky corruption error, and
// the header/footer framing that makes each stream self-describing and
// checksummed.
package encoding

import (
	"encoding/binary"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// Buffer accumulates encoded bytes.
type Buffer struct {
	buf []byte
}

func (b *Buffer) Uvarint(v uint64) {
	b.buf = binary.AppendUvarint(b.buf, v)
}

func (b *Buffer) Varint(v int64) {
	b.buf = binary.AppendVarint(b.buf, v)
}

func (b *Buffer) Byte(v byte) {
	b.buf = append(b.buf, v)
}

// LengthPrefixed writes len(p) as a uvarint followed by p.
func (b *Buffer) LengthPrefixed(p []byte) {
	b.Uvarint(uint64(len(p)))
	b.buf = append(b.buf, p...)
}

func (b *Buffer) Raw(p []byte) {
	b.buf = append(b.buf, p...)
}

func (b *Buffer) Uint32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

func (b *Buffer) Uint64(v uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
}

func (b *Buffer) Float32(v float32) {
	b.Uint32(math.Float32bits(v))
}

func (b *Buffer) Float64(v float64) {
	b.Uint64(math.Float64bits(v))
}

func (b *Buffer) Len() int {
	return len(b.buf)
}

// Bytes returns the encoded data. It is only valid until the next write.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
}

// Reader decodes from a byte slice. The first malformed or truncated read
// records an ErrCorruptData error; later reads return zero values, so callers
// check Err once after a group of reads.
type Reader struct {
	data []byte
	pos  int
	err  error
	what string
}

// NewReader returns a Reader over data; what names the structure for error
// messages.
func NewReader(data []byte, what string) *Reader {
	return &Reader{data: data, what: what}
}

func (r *Reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = apperrors.Newf(apperrors.ErrCorruptData, "%s at offset %d: "+format,
			append([]any{r.what, r.pos}, args...)...)
	}
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Pos() int {
	return r.pos
}

func (r *Reader) Len() int {
	return len(r.data)
}

func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) EOF() bool {
	return r.pos >= len(r.data)
}

// Seek moves to an absolute position inside the data.
func (r *Reader) Seek(pos int) {
	if pos < 0 || pos > len(r.data) {
		r.fail("seek to %d beyond %d bytes", pos, len(r.data))
		return
	}
	r.pos = pos
}

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		r.fail("malformed uvarint")
		return 0
	}
	r.pos += n
	return v
}

func (r *Reader) Varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.data[r.pos:])
	if n <= 0 {
		r.fail("malformed varint")
		return 0
	}
	r.pos += n
	return v
}

// Int32 reads a uvarint that must fit a non-negative int32.
func (r *Reader) Int32() int32 {
	v := r.Uvarint()
	if v > math.MaxInt32 {
		r.fail("value %d overflows int32", v)
		return 0
	}
	return int32(v)
}

// Int reads a uvarint that must not exceed limit.
func (r *Reader) Int(limit int) int {
	v := r.Uvarint()
	if v > uint64(limit) {
		r.fail("value %d exceeds limit %d", v, limit)
		return 0
	}
	return int(v)
}

func (r *Reader) Byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.data) {
		r.fail("unexpected end of data")
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

// Raw returns the next n bytes without copying.
func (r *Reader) Raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.data)-r.pos {
		r.fail("need %d bytes, have %d", n, len(r.data)-r.pos)
		return nil
	}
	p := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return p
}

// LengthPrefixed returns a uvarint-length-prefixed byte slice without copying.
func (r *Reader) LengthPrefixed() []byte {
	n := r.Uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.data)-r.pos) {
		r.fail("length %d exceeds remaining %d bytes", n, len(r.data)-r.pos)
		return nil
	}
	return r.Raw(int(n))
}

func (r *Reader) Uint32() uint32 {
	p := r.Raw(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) Uint64() uint64 {
	p := r.Raw(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

func (r *Reader) Float64() float64 {
	return math.Float64frombits(r.Uint64())
}
