package multiview

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/termdict"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment/segmenttest"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

var positional = segmenttest.Schema{"f": postings.DocsFreqsPositions}

func TestSeekCeilingAcrossSegments(t *testing.T) {
	dir := storage.NewMemoryDirectory()
	a := segmenttest.Build(t, dir, "seg_a", positional, []segmenttest.Doc{{"f": "apple"}})
	b := segmenttest.Build(t, dir, "seg_b", positional, []segmenttest.Doc{{"f": "banana"}})
	v := New([]*segment.Reader{a, b})
	it := v.Terms("f")

	status, err := it.SeekCeiling(term.NewTerm("f", "banana"))
	require.NoError(t, err)
	assert.Equal(t, termdict.Found, status)

	status, err = it.SeekCeiling(term.NewTerm("f", "avocado"))
	require.NoError(t, err)
	assert.Equal(t, termdict.NotFound, status)
	got, err := it.Term()
	require.NoError(t, err)
	assert.Equal(t, "banana", got.Text())

	cur, err := it.Postings()
	require.NoError(t, err)
	doc, err := cur.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, int32(1), doc)
	pos, err := cur.NextPosition()
	require.NoError(t, err)
	assert.Equal(t, int32(0), pos)

	status, err = it.SeekCeiling(term.NewTerm("f", "cherry"))
	require.NoError(t, err)
	assert.Equal(t, termdict.End, status)
	assert.Equal(t, termdict.Exhausted, it.State())
	_, err = it.Term()
	assert.ErrorIs(t, err, apperrors.ErrNotPositioned)
}

func TestMergedIterationCoalescesTerms(t *testing.T) {
	dir := storage.NewMemoryDirectory()
	a := segmenttest.Build(t, dir, "seg_a", positional, []segmenttest.Doc{{"f": "x y"}, {"f": "y z"}})
	empty := segmenttest.Build(t, dir, "seg_e", positional, nil)
	b := segmenttest.Build(t, dir, "seg_b", positional, []segmenttest.Doc{{"f": "w y y"}})
	v := New([]*segment.Reader{a, empty, b})
	assert.Equal(t, int32(3), v.MaxDoc())
	assert.Equal(t, []string{"f"}, v.Fields())

	it := v.Iterator()
	var texts []string
	for {
		tm, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		texts = append(texts, tm.Text())
	}
	assert.Equal(t, []string{"w", "x", "y", "z"}, texts)
	assert.Equal(t, termdict.Exhausted, it.State())

	found, err := it.SeekExact(term.NewTerm("f", "y"))
	require.NoError(t, err)
	require.True(t, found)
	df, err := it.DocFreq()
	require.NoError(t, err)
	assert.Equal(t, int32(3), df)
	ttf, err := it.TotalTermFreq()
	require.NoError(t, err)
	assert.Equal(t, int64(4), ttf)

	cur, err := it.Postings()
	require.NoError(t, err)
	entries, err := postings.ReadAll(cur)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int32{0, 1, 2}, []int32{entries[0].DocID, entries[1].DocID, entries[2].DocID})
	assert.Equal(t, int32(2), entries[2].Freq)
	assert.Equal(t, []postings.Position{{Position: 1}, {Position: 2}}, entries[2].Positions)

	slices, err := it.Slices()
	require.NoError(t, err)
	require.Len(t, slices, 2)
	assert.Equal(t, 0, slices[0].Segment)
	assert.Equal(t, 2, slices[1].Segment)
	assert.Equal(t, int32(2), slices[1].Base)

	tm, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "z", tm.Text())

	found, err = it.SeekExact(term.NewTerm("f", "xx"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, termdict.Unpositioned, it.State())
	tm, ok, err = it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "w", tm.Text())
}

func TestPostingsSkipDeletedDocs(t *testing.T) {
	dir := storage.NewMemoryDirectory()
	var docsA, docsB []segmenttest.Doc
	for i := 0; i < 10; i++ {
		docsA = append(docsA, segmenttest.Doc{"f": "common a"})
		docsB = append(docsB, segmenttest.Doc{"f": "common b"})
	}
	a := segmenttest.Build(t, dir, "seg_a", positional, docsA)
	b := segmenttest.Build(t, dir, "seg_b", positional, docsB)
	v := New([]*segment.Reader{a, b})

	before, ok, err := v.Postings(term.NewTerm("f", "common"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = a.Delete(0, 5, 9)
	require.NoError(t, err)
	_, err = b.Delete(0)
	require.NoError(t, err)

	// A cursor opened before the delete keeps its snapshot.
	all, err := postings.ReadAll(before)
	require.NoError(t, err)
	assert.Len(t, all, 20)

	after, _, err := v.Postings(term.NewTerm("f", "common"))
	require.NoError(t, err)
	var got []int32
	for {
		doc, err := after.NextDoc()
		require.NoError(t, err)
		if doc == postings.NoMoreDocs {
			break
		}
		got = append(got, doc)
	}
	assert.Equal(t, []int32{1, 2, 3, 4, 6, 7, 8, 11, 12, 13, 14, 15, 16, 17, 18, 19}, got)

	assert.Equal(t, int32(16), v.NumDocs())
	assert.False(t, v.IsLive(10))
	assert.True(t, v.IsLive(11))
	assert.Equal(t, uint64(16), v.LiveDocIDs().GetCardinality())
	assert.False(t, v.LiveDocIDs().Contains(9))

	df, err := v.DocFreq(term.NewTerm("f", "common"))
	require.NoError(t, err)
	assert.Equal(t, int32(20), df)
}

func TestAdvanceMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dir := storage.NewMemoryDirectory()
	var segs []*segment.Reader
	for s := 0; s < 4; s++ {
		var docs []segmenttest.Doc
		for i := 0; i < 40; i++ {
			text := "filler"
			if rng.Intn(3) == 0 {
				text += " hit"
			}
			docs = append(docs, segmenttest.Doc{"f": text})
		}
		r := segmenttest.Build(t, dir, fmt.Sprintf("seg_%d", s), positional, docs)
		var del []int32
		for i := int32(0); i < 40; i++ {
			if rng.Intn(5) == 0 {
				del = append(del, i)
			}
		}
		_, err := r.Delete(del...)
		require.NoError(t, err)
		segs = append(segs, r)
	}
	v := New(segs)

	open := func() postings.Cursor {
		c, ok, err := v.Postings(term.NewTerm("f", "hit"))
		require.NoError(t, err)
		require.True(t, ok)
		return c
	}
	var all []int32
	c := open()
	for {
		doc, err := c.NextDoc()
		require.NoError(t, err)
		if doc == postings.NoMoreDocs {
			break
		}
		all = append(all, doc)
	}
	require.NotEmpty(t, all)

	for target := int32(0); target <= v.MaxDoc(); target += 3 {
		c := open()
		got, err := c.Advance(target)
		require.NoError(t, err)
		i := sort.Search(len(all), func(i int) bool { return all[i] >= target })
		want := postings.NoMoreDocs
		if i < len(all) {
			want = all[i]
		}
		assert.Equal(t, want, got, "target %d", target)
	}
}

func TestLocateAndDocument(t *testing.T) {
	dir := storage.NewMemoryDirectory()
	a := segmenttest.Build(t, dir, "seg_a", positional, []segmenttest.Doc{{"f": "one"}, {"f": "two"}})
	e := segmenttest.Build(t, dir, "seg_e", positional, nil)
	b := segmenttest.Build(t, dir, "seg_b", positional, []segmenttest.Doc{{"f": "three"}})
	v := New([]*segment.Reader{a, e, b})

	i, local, err := v.Locate(2)
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	assert.Equal(t, int32(0), local)
	_, _, err = v.Locate(3)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

	fields, err := v.Document(1)
	require.NoError(t, err)
	assert.Equal(t, "two", fields[0].Value.Text())
	fields, err = v.Document(2)
	require.NoError(t, err)
	assert.Equal(t, "three", fields[0].Value.Text())
}

type flakyDirectory struct {
	storage.Directory
	broken atomic.Bool
}

func (d *flakyDirectory) OpenInput(ctx context.Context, name string) (storage.Input, error) {
	in, err := d.Directory.OpenInput(ctx, name)
	if err != nil {
		return nil, err
	}
	return &flakyInput{Input: in, dir: d}, nil
}

type flakyInput struct {
	storage.Input
	dir *flakyDirectory
}

func (in *flakyInput) ReadAt(p []byte, off int64) (int, error) {
	n, err := in.Input.ReadAt(p, off)
	if in.dir.broken.Load() {
		for i := range p[:n] {
			p[i] ^= 0xff
		}
	}
	return n, err
}

func TestCorruptSegmentFailsOnlyItsOperations(t *testing.T) {
	ctx := context.Background()
	healthy := segmenttest.Build(t, storage.NewMemoryDirectory(), "seg_ok", positional, []segmenttest.Doc{{"f": "alpha shared"}})

	flaky := &flakyDirectory{Directory: storage.NewMemoryDirectory()}
	info := segmenttest.Write(t, flaky, "seg_bad", positional, []segmenttest.Doc{{"f": "beta shared"}}, segment.WriterOptions{})
	bad, err := segment.Open(ctx, flaky, info, segment.Options{})
	require.NoError(t, err)
	defer bad.Close()

	v := New([]*segment.Reader{healthy, bad})
	flaky.broken.Store(true)

	_, _, err = v.Postings(term.NewTerm("f", "shared"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCorruptData)
	assert.Equal(t, "seg_bad", apperrors.SegmentOf(err))

	c, ok, err := v.Postings(term.NewTerm("f", "alpha"))
	require.NoError(t, err)
	require.True(t, ok)
	doc, err := c.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, int32(0), doc)

	fields, err := v.Document(1)
	require.NoError(t, err)
	assert.Equal(t, "beta shared", fields[0].Value.Text())
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemoryDirectory()
	a := segmenttest.Build(t, dir, "seg_a", positional, []segmenttest.Doc{{"f": "x"}})
	b := segmenttest.Build(t, dir, "seg_b", positional, []segmenttest.Doc{{"f": "y"}})

	v, err := Acquire([]*segment.Reader{a, b})
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.RefCount())

	a.MarkRetired()
	require.NoError(t, a.Close())
	files, err := dir.List(ctx, "seg_a")
	require.NoError(t, err)
	assert.NotEmpty(t, files)

	_, err = v.Document(0)
	require.NoError(t, err)

	require.NoError(t, v.Release())
	require.NoError(t, v.Release())
	files, err = dir.List(ctx, "seg_a")
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, int64(1), b.RefCount())

	_, err = Acquire([]*segment.Reader{b, a})
	assert.ErrorIs(t, err, apperrors.ErrClosed)
	assert.Equal(t, int64(1), b.RefCount())
}
