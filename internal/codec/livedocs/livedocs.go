// Package livedocs holds the per-segment deletion overlay: one bit per local
// doc id, set while the document is live. A LiveDocs value is an immutable
// snapshot; deleting produces a new snapshot that callers swap in atomically.
package livedocs

import (
	"bytes"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

const (
	streamMagic   = 0x54494C56 // "TILV"
	streamVersion = 1
)

type LiveDocs struct {
	bits    *bitset.BitSet
	maxDoc  int32
	numLive int32
}

// All returns a snapshot with every document of a maxDoc-sized segment live.
func All(maxDoc int32) *LiveDocs {
	bits := bitset.New(uint(maxDoc))
	if maxDoc > 0 {
		bits.FlipRange(0, uint(maxDoc))
	}
	return &LiveDocs{bits: bits, maxDoc: maxDoc, numLive: maxDoc}
}

func (l *LiveDocs) MaxDoc() int32 {
	return l.maxDoc
}

// IsLive reports whether doc exists and is not deleted.
func (l *LiveDocs) IsLive(doc int32) bool {
	return doc >= 0 && doc < l.maxDoc && l.bits.Test(uint(doc))
}

func (l *LiveDocs) NumLive() int32 {
	return l.numLive
}

func (l *LiveDocs) DelCount() int32 {
	return l.maxDoc - l.numLive
}

func (l *LiveDocs) HasDeletions() bool {
	return l.numLive < l.maxDoc
}

// WithDeleted returns a snapshot with ids deleted and the number of
// documents that were live before. The receiver is never modified; when
// nothing changes it is returned as is.
func (l *LiveDocs) WithDeleted(ids ...int32) (*LiveDocs, int, error) {
	for _, id := range ids {
		if id < 0 || id >= l.maxDoc {
			return nil, 0, apperrors.Newf(apperrors.ErrOutOfRange, "doc %d outside [0,%d)", id, l.maxDoc)
		}
	}
	var next *bitset.BitSet
	changed := 0
	for _, id := range ids {
		src := l.bits
		if next != nil {
			src = next
		}
		if !src.Test(uint(id)) {
			continue
		}
		if next == nil {
			next = l.bits.Clone()
		}
		next.Clear(uint(id))
		changed++
	}
	if changed == 0 {
		return l, 0, nil
	}
	return &LiveDocs{bits: next, maxDoc: l.maxDoc, numLive: l.numLive - int32(changed)}, changed, nil
}

// NextLive returns the first live doc >= from, or -1.
func (l *LiveDocs) NextLive(from int32) int32 {
	if from < 0 {
		from = 0
	}
	if from >= l.maxDoc {
		return -1
	}
	i, ok := l.bits.NextSet(uint(from))
	if !ok || i >= uint(l.maxDoc) {
		return -1
	}
	return int32(i)
}

// Deleted lists the deleted doc ids in ascending order.
func (l *LiveDocs) Deleted() []int32 {
	if !l.HasDeletions() {
		return nil
	}
	out := make([]int32, 0, l.DelCount())
	for doc := int32(0); doc < l.maxDoc; doc++ {
		if !l.bits.Test(uint(doc)) {
			out = append(out, doc)
		}
	}
	return out
}

// Encode serializes the snapshot as a checksummed stream.
func (l *LiveDocs) Encode() ([]byte, error) {
	var out bytes.Buffer
	sw, err := encoding.NewStreamWriter(&out, streamMagic, streamVersion)
	if err != nil {
		return nil, err
	}
	words, err := l.bits.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding live docs: %w", err)
	}
	var buf encoding.Buffer
	buf.Uvarint(uint64(l.maxDoc))
	buf.Uvarint(uint64(l.numLive))
	buf.LengthPrefixed(words)
	if _, err := sw.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	if err := sw.Finish(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Decode parses a stream produced by Encode and checks it against the
// expected segment size.
func Decode(data []byte, maxDoc int32) (*LiveDocs, error) {
	body, err := encoding.Verify(data, streamMagic, "live docs")
	if err != nil {
		return nil, err
	}
	r := encoding.NewReader(body, "live docs")
	gotMax := r.Int32()
	numLive := r.Int32()
	words := r.LengthPrefixed()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if gotMax != maxDoc {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "live docs for %d docs, segment has %d", gotMax, maxDoc)
	}
	bits := &bitset.BitSet{}
	if err := bits.UnmarshalBinary(words); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "live docs: %v", err)
	}
	if bits.Len() < uint(maxDoc) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "live docs bitset of %d bits for %d docs", bits.Len(), maxDoc)
	}
	if c := bits.Count(); c != uint(numLive) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "live docs: %d bits set, header says %d", c, numLive)
	}
	return &LiveDocs{bits: bits, maxDoc: maxDoc, numLive: numLive}, nil
}
