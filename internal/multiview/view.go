// Package multiview presents an ordered set of segments as one index: doc
// ids are remapped by per-segment bases, term cursors are merged across
// segments and deleted documents are filtered out of postings.
package multiview

import (
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/multierr"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/termdict"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// View is an immutable ordered list of segments. Global doc ids are
// base(i)+local where base(i) is the sum of MaxDoc over earlier segments.
// Deletions are read from each segment's current live docs snapshot.
type View struct {
	segments []*segment.Reader
	bases    []int32
	maxDoc   int32
	acquired bool
	released atomic.Bool
}

// New builds a view without taking references on the segments.
func New(segments []*segment.Reader) *View {
	v := &View{
		segments: append([]*segment.Reader(nil), segments...),
		bases:    make([]int32, len(segments)),
	}
	for i, s := range segments {
		v.bases[i] = v.maxDoc
		v.maxDoc += s.MaxDoc()
	}
	return v
}

// Acquire builds a view holding one reference on every segment. Release
// must be called exactly once when the view is no longer used.
func Acquire(segments []*segment.Reader) (*View, error) {
	for i, s := range segments {
		if err := s.IncRef(); err != nil {
			for _, taken := range segments[:i] {
				err = multierr.Append(err, taken.DecRef())
			}
			return nil, err
		}
	}
	v := New(segments)
	v.acquired = true
	return v, nil
}

// Release drops the references taken by Acquire. It is a no-op for views
// built with New and after the first call.
func (v *View) Release() error {
	if !v.acquired || !v.released.CompareAndSwap(false, true) {
		return nil
	}
	var errs error
	for _, s := range v.segments {
		errs = multierr.Append(errs, s.DecRef())
	}
	return errs
}

func (v *View) Segments() []*segment.Reader {
	return v.segments
}

// Base returns the first global doc id of segment i.
func (v *View) Base(i int) int32 {
	return v.bases[i]
}

func (v *View) MaxDoc() int32 {
	return v.maxDoc
}

func (v *View) NumDocs() int32 {
	var n int32
	for _, s := range v.segments {
		n += s.NumDocs()
	}
	return n
}

// Locate maps a global doc id to its segment index and local id.
func (v *View) Locate(doc int32) (int, int32, error) {
	if doc < 0 || doc >= v.maxDoc {
		return 0, 0, apperrors.Newf(apperrors.ErrOutOfRange, "doc %d outside [0,%d)", doc, v.maxDoc)
	}
	// Empty segments share their base with the next one, so the last
	// segment whose base is <= doc is never empty.
	i := sort.Search(len(v.bases), func(i int) bool { return v.bases[i] > doc }) - 1
	return i, doc - v.bases[i], nil
}

func (v *View) IsLive(doc int32) bool {
	i, local, err := v.Locate(doc)
	if err != nil {
		return false
	}
	return v.segments[i].LiveDocs().IsLive(local)
}

// Document reads the stored fields of a global doc id.
func (v *View) Document(doc int32) ([]storedfields.Field, error) {
	i, local, err := v.Locate(doc)
	if err != nil {
		return nil, err
	}
	seg := v.segments[i]
	fields, err := seg.Document(local)
	if err != nil {
		return nil, apperrors.InSegment(seg.Name(), err)
	}
	return fields, nil
}

// LiveDocIDs returns the global ids of every live document.
func (v *View) LiveDocIDs() *roaring.Bitmap {
	bm := roaring.New()
	for i, s := range v.segments {
		live := s.LiveDocs()
		if !live.HasDeletions() {
			if live.MaxDoc() > 0 {
				bm.AddRange(uint64(v.bases[i]), uint64(v.bases[i])+uint64(live.MaxDoc()))
			}
			continue
		}
		for doc := live.NextLive(0); doc >= 0; doc = live.NextLive(doc + 1) {
			bm.Add(uint32(v.bases[i] + doc))
		}
	}
	bm.RunOptimize()
	return bm
}

// Fields lists the indexed field names of every segment, sorted.
func (v *View) Fields() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, s := range v.segments {
		for _, f := range s.Info().Fields {
			if _, ok := seen[f.Name]; !ok {
				seen[f.Name] = struct{}{}
				names = append(names, f.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// FieldLevel returns the lowest level a field is indexed with across the
// view, which is the level merged postings can serve.
func (v *View) FieldLevel(field string) (postings.FeatureLevel, bool) {
	level, found := postings.MaxLevel, false
	for _, s := range v.segments {
		if f, ok := s.FieldInfo(field); ok {
			level = postings.MinLevel(level, f.Level)
			found = true
		}
	}
	return level, found
}

// Iterator returns a cursor over every term of every segment.
func (v *View) Iterator() *Iterator {
	return newIterator(v, func(i int) termdict.Iterator { return v.segments[i].Iterator() })
}

// Terms returns a cursor bounded to one field.
func (v *View) Terms(field string) *Iterator {
	return newIterator(v, func(i int) termdict.Iterator { return v.segments[i].Terms(field) })
}

// Postings returns the merged postings of t, or false when no segment has
// the term.
func (v *View) Postings(t term.Term) (postings.Cursor, bool, error) {
	it := v.Terms(t.Field)
	found, err := it.SeekExact(t)
	if err != nil || !found {
		return nil, false, err
	}
	c, err := it.Postings()
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// DocFreq sums the document frequency of t over all segments, deleted
// documents included.
func (v *View) DocFreq(t term.Term) (int32, error) {
	it := v.Terms(t.Field)
	found, err := it.SeekExact(t)
	if err != nil || !found {
		return 0, err
	}
	return it.DocFreq()
}
