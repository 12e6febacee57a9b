package termdict

import (
	"bytes"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// SeekStatus is the outcome of SeekCeiling.
type SeekStatus uint8

const (
	// Found means the cursor is on the target term.
	Found SeekStatus = iota
	// NotFound means the target is absent and the cursor is on the smallest
	// greater term, possibly in a later field.
	NotFound
	// End means no term >= target exists; the cursor is exhausted.
	End
)

func (s SeekStatus) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// State is the position of a term cursor.
type State = postings.CursorState

const (
	Unpositioned = postings.Unpositioned
	Positioned   = postings.Positioned
	Exhausted    = postings.Exhausted
)

// Iterator is a term cursor. Seeks may be issued in any state and in any
// direction. Next on an unpositioned cursor starts from the first term.
// Accessors other than State fail with ErrNotPositioned unless the cursor is
// positioned. Not safe for concurrent use.
type Iterator interface {
	SeekExact(t term.Term) (bool, error)
	SeekCeiling(t term.Term) (SeekStatus, error)
	// Next advances and returns the new term; ok is false at the end.
	Next() (t term.Term, ok bool, err error)
	Term() (term.Term, error)
	DocFreq() (int32, error)
	TotalTermFreq() (int64, error)
	Postings() (postings.Cursor, error)
	State() State
}

type iterator struct {
	rd     *Reader
	lo, hi int
	state  State
	field  int
	block  int
	idx    int
	terms  []blockTerm
}

func newIterator(rd *Reader, lo, hi int) *iterator {
	return &iterator{rd: rd, lo: lo, hi: hi, state: Unpositioned}
}

func (it *iterator) State() State {
	return it.state
}

func (it *iterator) load(field, block int) error {
	if it.terms != nil && it.field == field && it.block == block {
		return nil
	}
	terms, err := it.rd.decodeBlock(field, block)
	if err != nil {
		it.unposition()
		return err
	}
	it.field, it.block, it.terms = field, block, terms
	return nil
}

func (it *iterator) unposition() {
	it.state = Unpositioned
	it.terms = nil
}

func (it *iterator) exhaust() {
	it.state = Exhausted
	it.terms = nil
}

// first positions on the first term of the first field at or after field.
func (it *iterator) first(field int) (bool, error) {
	if field >= it.hi {
		it.exhaust()
		return false, nil
	}
	if err := it.load(field, 0); err != nil {
		return false, err
	}
	it.idx = 0
	it.state = Positioned
	return true, nil
}

func (it *iterator) Next() (term.Term, bool, error) {
	switch it.state {
	case Exhausted:
		return term.Term{}, false, nil
	case Unpositioned:
		ok, err := it.first(it.lo)
		if !ok || err != nil {
			return term.Term{}, false, err
		}
		return it.current(), true, nil
	}
	it.idx++
	if it.idx >= len(it.terms) {
		if it.block+1 < len(it.rd.fields[it.field].blocks) {
			if err := it.load(it.field, it.block+1); err != nil {
				return term.Term{}, false, err
			}
			it.idx = 0
		} else {
			ok, err := it.first(it.field + 1)
			if !ok || err != nil {
				return term.Term{}, false, err
			}
		}
	}
	return it.current(), true, nil
}

func (it *iterator) SeekCeiling(t term.Term) (SeekStatus, error) {
	fi := it.lo + sort.Search(it.hi-it.lo, func(i int) bool {
		return it.rd.fields[it.lo+i].info.Name >= t.Field
	})
	if fi >= it.hi {
		it.exhaust()
		return End, nil
	}
	f := &it.rd.fields[fi]
	if f.info.Name != t.Field {
		if _, err := it.first(fi); err != nil {
			return End, err
		}
		return NotFound, nil
	}
	target := t.Bytes.Bytes()
	// Last block whose first key is <= target.
	b := sort.Search(len(f.blocks), func(i int) bool { return bytes.Compare(f.blocks[i].first, target) > 0 }) - 1
	if b < 0 {
		if _, err := it.first(fi); err != nil {
			return End, err
		}
		return NotFound, nil
	}
	if err := it.load(fi, b); err != nil {
		return End, err
	}
	i := sort.Search(len(it.terms), func(i int) bool { return bytes.Compare(it.terms[i].bytes, target) >= 0 })
	if i < len(it.terms) {
		it.idx = i
		it.state = Positioned
		if bytes.Equal(it.terms[i].bytes, target) {
			return Found, nil
		}
		return NotFound, nil
	}
	// Every term of block b is smaller; the ceiling is the next block's first
	// term, or the first term of the next field.
	if b+1 < len(f.blocks) {
		if err := it.load(fi, b+1); err != nil {
			return End, err
		}
		it.idx = 0
		it.state = Positioned
		return NotFound, nil
	}
	ok, err := it.first(fi + 1)
	if err != nil {
		return End, err
	}
	if !ok {
		return End, nil
	}
	return NotFound, nil
}

func (it *iterator) SeekExact(t term.Term) (bool, error) {
	if i, ok := it.rd.findField(t.Field); !ok || i < it.lo || i >= it.hi {
		it.unposition()
		return false, nil
	}
	status, err := it.SeekCeiling(t)
	if err != nil {
		return false, err
	}
	if status != Found {
		it.unposition()
		return false, nil
	}
	return true, nil
}

func (it *iterator) current() term.Term {
	bt := &it.terms[it.idx]
	return term.Term{Field: it.rd.fields[it.field].info.Name, Bytes: term.BytesRefOf(bt.bytes, 0, len(bt.bytes))}
}

func (it *iterator) positioned(op string) (*blockTerm, error) {
	if it.state != Positioned {
		return nil, apperrors.Newf(apperrors.ErrNotPositioned, "%s on %s term cursor", op, it.state)
	}
	return &it.terms[it.idx], nil
}

// Term returns the current term. Its bytes are shared with the cursor's
// decoded block and must not be modified.
func (it *iterator) Term() (term.Term, error) {
	if _, err := it.positioned("Term"); err != nil {
		return term.Term{}, err
	}
	return it.current(), nil
}

func (it *iterator) DocFreq() (int32, error) {
	bt, err := it.positioned("DocFreq")
	if err != nil {
		return 0, err
	}
	return bt.meta.DocFreq, nil
}

func (it *iterator) TotalTermFreq() (int64, error) {
	bt, err := it.positioned("TotalTermFreq")
	if err != nil {
		return 0, err
	}
	return bt.meta.TotalTermFreq, nil
}

// Meta returns the postings location of the current term.
func (it *iterator) Meta() (postings.Meta, error) {
	bt, err := it.positioned("Meta")
	if err != nil {
		return postings.Meta{}, err
	}
	return bt.meta, nil
}

// Level returns the feature level of the current term's field.
func (it *iterator) Level() (postings.FeatureLevel, error) {
	if _, err := it.positioned("Level"); err != nil {
		return 0, err
	}
	return it.rd.fields[it.field].info.Level, nil
}

func (it *iterator) Postings() (postings.Cursor, error) {
	bt, err := it.positioned("Postings")
	if err != nil {
		return nil, err
	}
	return it.rd.openPostings(bt.meta)
}
