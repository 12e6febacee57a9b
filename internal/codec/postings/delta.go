package postings

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// deltaFormat encodes every level as varint deltas with a single-level skip
// table.
//
// Body layout:
//
//	skipInterval, numSkips, numSkips x (lastDoc delta, body offset delta),
//	len(docs), docs
//
// Each doc is docDelta (DocsOnly) or docDelta<<1|freq==1 followed by freq
// when it is not 1. With positions every position is posDelta, or
// posDelta<<1|lenChanged plus the new payload length when payloads are on,
// then startDelta and length when offsets are on, then the payload bytes.
// Position, offset and payload length state resets at each document, so a
// skip entry can land on any document boundary.
type deltaFormat struct{}

func (deltaFormat) Name() string           { return DeltaFormatName }
func (deltaFormat) ID() byte               { return 1 }
func (deltaFormat) MaxLevel() FeatureLevel { return MaxLevel }

type skipEntry struct {
	lastDoc int32
	offset  int
}

func (deltaFormat) Encode(buf *encoding.Buffer, level FeatureLevel, entries []Entry, opts EncodeOptions) error {
	interval := opts.SkipInterval
	if interval <= 0 {
		interval = DefaultSkipInterval
	}
	var body encoding.Buffer
	var skips []skipEntry
	prevDoc := int32(0)
	for i, e := range entries {
		if i > 0 && i%interval == 0 {
			skips = append(skips, skipEntry{lastDoc: prevDoc, offset: body.Len()})
		}
		delta := uint64(e.DocID - prevDoc)
		prevDoc = e.DocID
		if !level.HasFreqs() {
			body.Uvarint(delta)
			continue
		}
		if e.Freq == 1 {
			body.Uvarint(delta<<1 | 1)
		} else {
			body.Uvarint(delta << 1)
			body.Uvarint(uint64(e.Freq))
		}
		if level.HasPositions() {
			encodePositions(&body, level, e.Positions)
		}
	}

	buf.Uvarint(uint64(interval))
	buf.Uvarint(uint64(len(skips)))
	var prevLast int32
	prevOffset := 0
	for _, s := range skips {
		buf.Uvarint(uint64(s.lastDoc - prevLast))
		buf.Uvarint(uint64(s.offset - prevOffset))
		prevLast, prevOffset = s.lastDoc, s.offset
	}
	buf.LengthPrefixed(body.Bytes())
	return nil
}

func encodePositions(body *encoding.Buffer, level FeatureLevel, positions []Position) {
	prevPos := int32(0)
	prevStart := int32(0)
	prevPayloadLen := 0
	for _, p := range positions {
		delta := uint64(p.Position - prevPos)
		prevPos = p.Position
		payloadLen := len(p.Payload)
		if level.HasPayloads() {
			if payloadLen != prevPayloadLen {
				body.Uvarint(delta<<1 | 1)
				body.Uvarint(uint64(payloadLen))
				prevPayloadLen = payloadLen
			} else {
				body.Uvarint(delta << 1)
			}
		} else {
			body.Uvarint(delta)
		}
		if level.HasOffsets() {
			body.Uvarint(uint64(p.StartOffset - prevStart))
			body.Uvarint(uint64(p.EndOffset - p.StartOffset))
			prevStart = p.StartOffset
		}
		if level.HasPayloads() && payloadLen > 0 {
			body.Raw(p.Payload)
		}
	}
}

func (deltaFormat) Open(data []byte, level FeatureLevel, docFreq int32, totalTermFreq int64) (Cursor, error) {
	r := encoding.NewReader(data, "delta postings")
	interval := r.Int(1 << 24)
	numSkips := r.Int(int(docFreq))
	if r.Err() == nil && interval == 0 {
		return nil, apperrors.New(apperrors.ErrCorruptData, "delta postings: zero skip interval")
	}
	if r.Err() == nil && numSkips > 0 && numSkips > int(docFreq-1)/interval {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "delta postings: %d skips for %d docs", numSkips, docFreq)
	}
	skips := make([]skipEntry, 0, numSkips)
	var last int64
	offset := 0
	for i := 0; i < numSkips && r.Err() == nil; i++ {
		last += int64(r.Uvarint())
		offset += r.Int(len(data))
		if r.Err() != nil {
			break
		}
		if last >= int64(NoMoreDocs) {
			return nil, apperrors.Newf(apperrors.ErrCorruptData, "delta postings: skip doc %d out of range", last)
		}
		if i > 0 && (int32(last) <= skips[i-1].lastDoc || offset <= skips[i-1].offset) {
			return nil, apperrors.New(apperrors.ErrCorruptData, "delta postings: skip table not ascending")
		}
		skips = append(skips, skipEntry{lastDoc: int32(last), offset: offset})
	}
	body := r.LengthPrefixed()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if !r.EOF() {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "delta postings: %d trailing bytes", r.Remaining())
	}
	if len(skips) > 0 && skips[len(skips)-1].offset >= len(body) {
		return nil, apperrors.New(apperrors.ErrCorruptData, "delta postings: skip offset past body")
	}
	c := &deltaCursor{
		r:        encoding.NewReader(body, "delta postings body"),
		skips:    skips,
		interval: interval,
	}
	c.reset(level, docFreq)
	return c, nil
}

type deltaCursor struct {
	cursorBase
	r        *encoding.Reader
	skips    []skipEntry
	interval int
	read     int32
	prevDoc  int32
	err      error
}

func (c *deltaCursor) NextDoc() (int32, error) {
	if c.err != nil {
		return NoMoreDocs, c.err
	}
	if c.state == Exhausted {
		return NoMoreDocs, nil
	}
	if c.read >= c.docFreq {
		if !c.r.EOF() {
			return c.fail(apperrors.Newf(apperrors.ErrCorruptData, "delta postings: %d bytes after last doc", c.r.Remaining()))
		}
		return c.exhaust(), nil
	}
	if err := c.decodeDoc(); err != nil {
		return c.fail(err)
	}
	c.state = Positioned
	return c.doc, nil
}

func (c *deltaCursor) fail(err error) (int32, error) {
	c.err = err
	c.exhaust()
	return NoMoreDocs, err
}

func (c *deltaCursor) Advance(target int32) (int32, error) {
	if c.err != nil {
		return NoMoreDocs, c.err
	}
	if c.state == Exhausted {
		return NoMoreDocs, nil
	}
	if c.state == Positioned && target <= c.doc {
		return c.NextDoc()
	}
	// Jump to the last skip entry whose preceding doc is still below target,
	// unless the cursor is already past it.
	i := sort.Search(len(c.skips), func(i int) bool { return c.skips[i].lastDoc >= target }) - 1
	if i >= 0 && int64(i+1)*int64(c.interval) > int64(c.read) {
		c.r.Seek(c.skips[i].offset)
		if err := c.r.Err(); err != nil {
			return c.fail(err)
		}
		c.read = int32((i + 1) * c.interval)
		c.prevDoc = c.skips[i].lastDoc
	}
	for {
		doc, err := c.NextDoc()
		if err != nil || doc >= target {
			return doc, err
		}
	}
}

func (c *deltaCursor) decodeDoc() error {
	r := c.r
	v := r.Uvarint()
	delta := v
	freq := int32(1)
	if c.level.HasFreqs() {
		delta = v >> 1
		if v&1 == 0 {
			freq = r.Int32()
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	if c.read > 0 && delta == 0 {
		return apperrors.Newf(apperrors.ErrCorruptData, "delta postings: repeated doc %d", c.prevDoc)
	}
	doc := int64(c.prevDoc) + int64(delta)
	if doc >= int64(NoMoreDocs) {
		return apperrors.Newf(apperrors.ErrCorruptData, "delta postings: doc %d out of range", doc)
	}
	if freq < 1 {
		return apperrors.Newf(apperrors.ErrCorruptData, "delta postings: doc %d has freq %d", doc, freq)
	}
	c.doc = int32(doc)
	c.prevDoc = c.doc
	c.freq = freq
	c.read++
	c.pos = c.pos[:0]
	c.posIdx = 0
	if !c.level.HasPositions() {
		return nil
	}
	if int(freq) > r.Remaining() {
		return apperrors.Newf(apperrors.ErrCorruptData, "delta postings: doc %d claims %d positions in %d bytes", doc, freq, r.Remaining())
	}
	return c.decodePositions()
}

func (c *deltaCursor) decodePositions() error {
	r := c.r
	prevPos := int64(0)
	prevStart := int64(0)
	payloadLen := 0
	for j := int32(0); j < c.freq; j++ {
		v := r.Uvarint()
		delta := v
		if c.level.HasPayloads() {
			delta = v >> 1
			if v&1 == 1 {
				payloadLen = r.Int(r.Remaining())
			}
		}
		var p Position
		pos := prevPos + int64(delta)
		if j > 0 && delta == 0 || pos >= int64(NoMorePositions) {
			return apperrors.Newf(apperrors.ErrCorruptData, "delta postings: doc %d bad position delta %d", c.doc, delta)
		}
		p.Position = int32(pos)
		prevPos = pos
		if c.level.HasOffsets() {
			start := prevStart + int64(r.Uvarint())
			end := start + int64(r.Uvarint())
			if end > int64(NoMorePositions) {
				return apperrors.Newf(apperrors.ErrCorruptData, "delta postings: doc %d offset overflow", c.doc)
			}
			p.StartOffset, p.EndOffset = int32(start), int32(end)
			prevStart = start
		}
		if c.level.HasPayloads() && payloadLen > 0 {
			p.Payload = r.Raw(payloadLen)
		}
		if err := r.Err(); err != nil {
			return err
		}
		c.pos = append(c.pos, p)
	}
	return nil
}
