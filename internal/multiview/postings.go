package multiview

import (
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/livedocs"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// multiCursor concatenates per-segment postings in segment order, adds each
// segment's base and skips documents that are not live in the snapshot
// taken when the cursor was created.
type multiCursor struct {
	view   *View
	slices []Slice
	lives  []*livedocs.LiveDocs
	level  postings.FeatureLevel
	cost   int64
	idx    int
	doc    int32
	state  postings.CursorState
}

var _ postings.Cursor = (*multiCursor)(nil)

func newMultiCursor(v *View, slices []Slice, lives []*livedocs.LiveDocs) *multiCursor {
	c := &multiCursor{
		view:   v,
		slices: slices,
		lives:  lives,
		level:  postings.MaxLevel,
		doc:    -1,
		state:  postings.Unpositioned,
	}
	for _, s := range slices {
		c.level = postings.MinLevel(c.level, s.Level)
		c.cost += s.Cursor.Cost()
	}
	return c
}

func (c *multiCursor) wrap(err error) error {
	return apperrors.InSegment(c.view.segments[c.slices[c.idx].Segment].Name(), err)
}

func (c *multiCursor) exhaust() (int32, error) {
	c.state = postings.Exhausted
	c.doc = postings.NoMoreDocs
	return postings.NoMoreDocs, nil
}

// settle moves forward from the local doc the current slice returned until
// a live document or the end of all slices.
func (c *multiCursor) settle(local int32) (int32, error) {
	for {
		if local != postings.NoMoreDocs {
			if c.lives[c.idx].IsLive(local) {
				c.doc = c.slices[c.idx].Base + local
				c.state = postings.Positioned
				return c.doc, nil
			}
		} else {
			c.idx++
			if c.idx >= len(c.slices) {
				return c.exhaust()
			}
		}
		var err error
		if local, err = c.slices[c.idx].Cursor.NextDoc(); err != nil {
			return 0, c.wrap(err)
		}
	}
}

func (c *multiCursor) NextDoc() (int32, error) {
	if c.state == postings.Exhausted {
		return postings.NoMoreDocs, nil
	}
	if len(c.slices) == 0 {
		return c.exhaust()
	}
	local, err := c.slices[c.idx].Cursor.NextDoc()
	if err != nil {
		return 0, c.wrap(err)
	}
	return c.settle(local)
}

// Advance moves to the first live doc >= target. A target at or before the
// current doc behaves like NextDoc.
func (c *multiCursor) Advance(target int32) (int32, error) {
	if c.state == postings.Exhausted {
		return postings.NoMoreDocs, nil
	}
	if c.state == postings.Positioned && target <= c.doc {
		return c.NextDoc()
	}
	for c.idx < len(c.slices) {
		s := c.slices[c.idx]
		if target >= s.Base+s.MaxDoc {
			c.idx++
			continue
		}
		local, err := s.Cursor.Advance(max(target-s.Base, 0))
		if err != nil {
			return 0, c.wrap(err)
		}
		return c.settle(local)
	}
	return c.exhaust()
}

func (c *multiCursor) DocID() int32 {
	return c.doc
}

func (c *multiCursor) Level() postings.FeatureLevel {
	return c.level
}

func (c *multiCursor) State() postings.CursorState {
	return c.state
}

func (c *multiCursor) Cost() int64 {
	return c.cost
}

func (c *multiCursor) check(op string, need bool) error {
	if !need {
		return apperrors.Newf(apperrors.ErrUnsupportedFeature, "%s not available at level %s", op, c.level)
	}
	if c.state != postings.Positioned {
		return apperrors.Newf(apperrors.ErrNotPositioned, "%s on %s postings cursor", op, c.state)
	}
	return nil
}

func (c *multiCursor) Freq() (int32, error) {
	if err := c.check("Freq", c.level.HasFreqs()); err != nil {
		return 0, err
	}
	v, err := c.slices[c.idx].Cursor.Freq()
	if err != nil {
		return 0, c.wrap(err)
	}
	return v, nil
}

func (c *multiCursor) NextPosition() (int32, error) {
	if err := c.check("NextPosition", c.level.HasPositions()); err != nil {
		return 0, err
	}
	v, err := c.slices[c.idx].Cursor.NextPosition()
	if err != nil {
		return 0, c.wrap(err)
	}
	return v, nil
}

func (c *multiCursor) StartOffset() (int32, error) {
	if err := c.check("StartOffset", c.level.HasOffsets()); err != nil {
		return 0, err
	}
	v, err := c.slices[c.idx].Cursor.StartOffset()
	if err != nil {
		return 0, c.wrap(err)
	}
	return v, nil
}

func (c *multiCursor) EndOffset() (int32, error) {
	if err := c.check("EndOffset", c.level.HasOffsets()); err != nil {
		return 0, err
	}
	v, err := c.slices[c.idx].Cursor.EndOffset()
	if err != nil {
		return 0, c.wrap(err)
	}
	return v, nil
}

func (c *multiCursor) Payload() ([]byte, error) {
	if err := c.check("Payload", c.level.HasPayloads()); err != nil {
		return nil, err
	}
	v, err := c.slices[c.idx].Cursor.Payload()
	if err != nil {
		return nil, c.wrap(err)
	}
	return v, nil
}
