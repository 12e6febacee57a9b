package postings

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// bitmapFormat stores docs-only lists as a serialized roaring bitmap. Dense
// lists (stop words, single-valued keyword fields) shrink to run containers.
type bitmapFormat struct{}

func (bitmapFormat) Name() string           { return BitmapFormatName }
func (bitmapFormat) ID() byte               { return 2 }
func (bitmapFormat) MaxLevel() FeatureLevel { return DocsOnly }

func (bitmapFormat) Encode(buf *encoding.Buffer, _ FeatureLevel, entries []Entry, _ EncodeOptions) error {
	rb := roaring.New()
	for _, e := range entries {
		rb.Add(uint32(e.DocID))
	}
	rb.RunOptimize()
	data, err := rb.ToBytes()
	if err != nil {
		return fmt.Errorf("serializing bitmap postings: %w", err)
	}
	buf.LengthPrefixed(data)
	return nil
}

func (bitmapFormat) Open(data []byte, level FeatureLevel, docFreq int32, _ int64) (c Cursor, err error) {
	r := encoding.NewReader(data, "bitmap postings")
	payload := r.LengthPrefixed()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if !r.EOF() {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "bitmap postings: %d trailing bytes", r.Remaining())
	}
	defer func() {
		if p := recover(); p != nil {
			c, err = nil, apperrors.Newf(apperrors.ErrCorruptData, "bitmap postings: %v", p)
		}
	}()
	rb := roaring.New()
	if err := rb.UnmarshalBinary(payload); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "bitmap postings: %v", err)
	}
	if rb.GetCardinality() != uint64(docFreq) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "bitmap postings: %d docs, header says %d", rb.GetCardinality(), docFreq)
	}
	if !rb.IsEmpty() && rb.Maximum() >= uint32(NoMoreDocs) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "bitmap postings: doc %d out of range", rb.Maximum())
	}
	bc := &bitmapCursor{it: rb.Iterator()}
	bc.reset(level, docFreq)
	return bc, nil
}

type bitmapCursor struct {
	cursorBase
	it roaring.IntPeekable
}

func (c *bitmapCursor) NextDoc() (int32, error) {
	if c.state == Exhausted {
		return NoMoreDocs, nil
	}
	if !c.it.HasNext() {
		return c.exhaust(), nil
	}
	c.doc = int32(c.it.Next())
	c.freq = 1
	c.state = Positioned
	return c.doc, nil
}

func (c *bitmapCursor) Advance(target int32) (int32, error) {
	if c.state == Exhausted {
		return NoMoreDocs, nil
	}
	if c.state == Positioned && target <= c.doc {
		return c.NextDoc()
	}
	if target > 0 {
		c.it.AdvanceIfNeeded(uint32(target))
	}
	return c.NextDoc()
}
