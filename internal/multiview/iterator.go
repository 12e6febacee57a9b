package multiview

import (
	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/livedocs"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/termdict"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

type sub struct {
	seg int
	it  termdict.Iterator
	cur term.Term
}

// subOrder sorts by term, then by segment so equal terms surface in
// segment order.
func subOrder(a, b interface{}) int {
	x, y := a.(*sub), b.(*sub)
	if c := term.Compare(x.cur, y.cur); c != 0 {
		return c
	}
	switch {
	case x.seg < y.seg:
		return -1
	case x.seg > y.seg:
		return 1
	}
	return 0
}

// Iterator merges the term cursors of every segment in a view. It
// satisfies termdict.Iterator: a term present in several segments appears
// once and its statistics are summed.
type Iterator struct {
	view  *View
	open  func(seg int) termdict.Iterator
	subs  []*sub
	heap  *binaryheap.Heap
	top   []*sub
	state termdict.State
}

var _ termdict.Iterator = (*Iterator)(nil)

func newIterator(v *View, open func(seg int) termdict.Iterator) *Iterator {
	it := &Iterator{
		view:  v,
		open:  open,
		subs:  make([]*sub, len(v.segments)),
		heap:  binaryheap.NewWith(subOrder),
		state: termdict.Unpositioned,
	}
	for i := range it.subs {
		it.subs[i] = &sub{seg: i, it: open(i)}
	}
	return it
}

func (it *Iterator) State() termdict.State {
	return it.state
}

func (it *Iterator) wrap(s *sub, err error) error {
	return apperrors.InSegment(it.view.segments[s.seg].Name(), err)
}

func (it *Iterator) unposition() {
	it.heap.Clear()
	it.top = it.top[:0]
	it.state = termdict.Unpositioned
}

// pull moves every sub cursor sharing the smallest term into top.
func (it *Iterator) pull() bool {
	it.top = it.top[:0]
	first, ok := it.heap.Pop()
	if !ok {
		it.state = termdict.Exhausted
		return false
	}
	it.top = append(it.top, first.(*sub))
	for {
		next, ok := it.heap.Peek()
		if !ok || !next.(*sub).cur.Equal(it.top[0].cur) {
			break
		}
		it.heap.Pop()
		it.top = append(it.top, next.(*sub))
	}
	it.state = termdict.Positioned
	return true
}

// advance steps s and re-queues it unless it is exhausted.
func (it *Iterator) advance(s *sub) error {
	t, ok, err := s.it.Next()
	if err != nil {
		return it.wrap(s, err)
	}
	if ok {
		s.cur = t
		it.heap.Push(s)
	}
	return nil
}

func (it *Iterator) Next() (term.Term, bool, error) {
	switch it.state {
	case termdict.Exhausted:
		return term.Term{}, false, nil
	case termdict.Unpositioned:
		// Sub cursors may still sit where an earlier seek left them.
		it.heap.Clear()
		for _, s := range it.subs {
			s.it = it.open(s.seg)
			if err := it.advance(s); err != nil {
				it.unposition()
				return term.Term{}, false, err
			}
		}
	default:
		for _, s := range it.top {
			if err := it.advance(s); err != nil {
				it.unposition()
				return term.Term{}, false, err
			}
		}
	}
	if !it.pull() {
		return term.Term{}, false, nil
	}
	return it.top[0].cur, true, nil
}

func (it *Iterator) SeekCeiling(t term.Term) (termdict.SeekStatus, error) {
	it.heap.Clear()
	for _, s := range it.subs {
		status, err := s.it.SeekCeiling(t)
		if err != nil {
			it.unposition()
			return termdict.End, it.wrap(s, err)
		}
		if status == termdict.End {
			continue
		}
		if s.cur, err = s.it.Term(); err != nil {
			it.unposition()
			return termdict.End, it.wrap(s, err)
		}
		it.heap.Push(s)
	}
	if !it.pull() {
		return termdict.End, nil
	}
	if it.top[0].cur.Equal(t) {
		return termdict.Found, nil
	}
	return termdict.NotFound, nil
}

// SeekExact positions on t when any segment has it. On a miss the cursor
// is left unpositioned.
func (it *Iterator) SeekExact(t term.Term) (bool, error) {
	status, err := it.SeekCeiling(t)
	if err != nil {
		return false, err
	}
	if status != termdict.Found {
		it.unposition()
		return false, nil
	}
	return true, nil
}

func (it *Iterator) positioned(op string) error {
	if it.state != termdict.Positioned {
		return apperrors.Newf(apperrors.ErrNotPositioned, "%s on %s term cursor", op, it.state)
	}
	return nil
}

func (it *Iterator) Term() (term.Term, error) {
	if err := it.positioned("Term"); err != nil {
		return term.Term{}, err
	}
	return it.top[0].cur, nil
}

// DocFreq sums over the segments holding the term. Deleted documents are
// counted.
func (it *Iterator) DocFreq() (int32, error) {
	if err := it.positioned("DocFreq"); err != nil {
		return 0, err
	}
	var n int32
	for _, s := range it.top {
		df, err := s.it.DocFreq()
		if err != nil {
			return 0, it.wrap(s, err)
		}
		n += df
	}
	return n, nil
}

func (it *Iterator) TotalTermFreq() (int64, error) {
	if err := it.positioned("TotalTermFreq"); err != nil {
		return 0, err
	}
	var n int64
	for _, s := range it.top {
		ttf, err := s.it.TotalTermFreq()
		if err != nil {
			return 0, it.wrap(s, err)
		}
		n += ttf
	}
	return n, nil
}

// Slice is the postings of the current term in one segment, unfiltered and
// in local doc ids.
type Slice struct {
	Segment int
	Base    int32
	MaxDoc  int32
	Level   postings.FeatureLevel
	Cursor  postings.Cursor
}

// Slices opens the raw per-segment postings of the current term, in
// segment order. The heap yields equal terms by segment, so top is already
// sorted.
func (it *Iterator) Slices() ([]Slice, error) {
	if err := it.positioned("Slices"); err != nil {
		return nil, err
	}
	slices := make([]Slice, 0, len(it.top))
	for _, s := range it.top {
		c, err := s.it.Postings()
		if err != nil {
			return nil, it.wrap(s, err)
		}
		seg := it.view.segments[s.seg]
		slices = append(slices, Slice{
			Segment: s.seg,
			Base:    it.view.bases[s.seg],
			MaxDoc:  seg.MaxDoc(),
			Level:   c.Level(),
			Cursor:  c,
		})
	}
	return slices, nil
}

// Postings returns a cursor over the current term in global doc ids that
// skips documents deleted as of this call.
func (it *Iterator) Postings() (postings.Cursor, error) {
	slices, err := it.Slices()
	if err != nil {
		return nil, err
	}
	lives := make([]*livedocs.LiveDocs, len(slices))
	for i, s := range slices {
		lives[i] = it.view.segments[s.Segment].LiveDocs()
	}
	return newMultiCursor(it.view, slices, lives), nil
}
