// Package termdict implements the sorted, seekable term dictionary of a
// segment. Terms are grouped per field into prefix-compressed blocks; a small
// index of block first keys lets seeks binary search instead of scanning.
//
// Stream layout (after the shared stream header):
//
//	block*    numTerms, numTerms x (prefixLen, suffix, docFreq,
//	          totalTermFreq-docFreq, postings offset delta, postings length)
//	index     numFields, per field: name, level, termCount, sumDocFreq,
//	          sumTotalTermFreq, numBlocks, numBlocks x (firstKey, offset)
//	indexPtr  uint64 offset of index
//	footer
package termdict

import (
	"bytes"
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

const (
	streamMagic   = 0x54494449 // "TIDI"
	streamVersion = 1

	DefaultTermsPerBlock = 32
)

// FieldInfo summarises one field of a dictionary.
type FieldInfo struct {
	Name             string
	Level            postings.FeatureLevel
	TermCount        int64
	SumDocFreq       int64
	SumTotalTermFreq int64
}

type Options struct {
	TermsPerBlock int
}

type blockRef struct {
	first  []byte
	offset int64
}

type fieldState struct {
	info   FieldInfo
	blocks []blockRef
}

type pendingTerm struct {
	bytes []byte
	meta  postings.Meta
}

// Writer builds a dictionary from terms added in strictly increasing
// term.Compare order.
type Writer struct {
	sw            *encoding.StreamWriter
	termsPerBlock int
	fields        []*fieldState
	cur           *fieldState
	pending       []pendingTerm
	last          term.Term
	hasLast       bool
	buf           encoding.Buffer
}

func NewWriter(w io.Writer, opts Options) (*Writer, error) {
	if opts.TermsPerBlock <= 0 {
		opts.TermsPerBlock = DefaultTermsPerBlock
	}
	sw, err := encoding.NewStreamWriter(w, streamMagic, streamVersion)
	if err != nil {
		return nil, err
	}
	return &Writer{sw: sw, termsPerBlock: opts.TermsPerBlock}, nil
}

// Add records t with the location of its postings. All terms of a field
// share one feature level.
func (w *Writer) Add(t term.Term, level postings.FeatureLevel, meta postings.Meta) error {
	if w.hasLast && term.Compare(w.last, t) >= 0 {
		return apperrors.Newf(apperrors.ErrOutOfOrder, "term %s added after %s", t, w.last)
	}
	if meta.DocFreq <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "term %s has no postings", t)
	}
	if w.cur == nil || w.cur.info.Name != t.Field {
		if err := w.finishField(); err != nil {
			return err
		}
		w.cur = &fieldState{info: FieldInfo{Name: t.Field, Level: level}}
	} else if w.cur.info.Level != level {
		return apperrors.Newf(apperrors.ErrInvalidInput, "field %s: level %s, already written at %s",
			t.Field, level, w.cur.info.Level)
	}
	w.last = t.Clone()
	w.hasLast = true

	info := &w.cur.info
	info.TermCount++
	info.SumDocFreq += int64(meta.DocFreq)
	info.SumTotalTermFreq += meta.TotalTermFreq
	w.pending = append(w.pending, pendingTerm{bytes: bytes.Clone(t.Bytes.Bytes()), meta: meta})
	if len(w.pending) >= w.termsPerBlock {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.pending) == 0 {
		return nil
	}
	w.buf.Reset()
	w.buf.Uvarint(uint64(len(w.pending)))
	var prev []byte
	var prevOffset int64
	for _, p := range w.pending {
		shared := commonPrefix(prev, p.bytes)
		w.buf.Uvarint(uint64(shared))
		w.buf.LengthPrefixed(p.bytes[shared:])
		w.buf.Uvarint(uint64(p.meta.DocFreq))
		w.buf.Uvarint(uint64(p.meta.TotalTermFreq - int64(p.meta.DocFreq)))
		w.buf.Varint(p.meta.Offset - prevOffset)
		w.buf.Uvarint(uint64(p.meta.Length))
		prev, prevOffset = p.bytes, p.meta.Offset
	}
	w.cur.blocks = append(w.cur.blocks, blockRef{first: w.pending[0].bytes, offset: w.sw.Offset()})
	w.pending = w.pending[:0]
	if _, err := w.sw.Write(w.buf.Bytes()); err != nil {
		return fmt.Errorf("writing term block: %w", err)
	}
	return nil
}

func (w *Writer) finishField() error {
	if w.cur == nil {
		return nil
	}
	if err := w.flushBlock(); err != nil {
		return err
	}
	w.fields = append(w.fields, w.cur)
	w.cur = nil
	return nil
}

// Finish writes the field index and footer.
func (w *Writer) Finish() error {
	if err := w.finishField(); err != nil {
		return err
	}
	indexOffset := w.sw.Offset()
	w.buf.Reset()
	w.buf.Uvarint(uint64(len(w.fields)))
	for _, f := range w.fields {
		w.buf.LengthPrefixed([]byte(f.info.Name))
		w.buf.Byte(byte(f.info.Level))
		w.buf.Uvarint(uint64(f.info.TermCount))
		w.buf.Uvarint(uint64(f.info.SumDocFreq))
		w.buf.Uvarint(uint64(f.info.SumTotalTermFreq))
		w.buf.Uvarint(uint64(len(f.blocks)))
		for _, b := range f.blocks {
			w.buf.LengthPrefixed(b.first)
			w.buf.Uvarint(uint64(b.offset))
		}
	}
	w.buf.Uint64(uint64(indexOffset))
	if _, err := w.sw.Write(w.buf.Bytes()); err != nil {
		return fmt.Errorf("writing term index: %w", err)
	}
	return w.sw.Finish()
}

// NumTerms is the number of terms added so far.
func (w *Writer) NumTerms() int64 {
	var n int64
	for _, f := range w.fields {
		n += f.info.TermCount
	}
	if w.cur != nil {
		n += w.cur.info.TermCount
	}
	return n
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
