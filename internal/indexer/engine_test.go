package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/merge"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/multiview"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Indexer.SegmentMaxSize = 1 << 30
	cfg.Indexer.FlushInterval = 0
	cfg.Indexer.MergeInterval = 0
	cfg.Indexer.MaxSegmentsBeforeMerge = 2
	cfg.Indexer.MergeFactor = 2
	cfg.Indexer.Fields = map[string]string{"id": "docs"}
	cfg.Codec.SkipInterval = 2
	cfg.Codec.TermsPerBlock = 4
	cfg.Codec.StoredChunkDocs = 2
	return cfg
}

type recorder struct {
	mu     sync.Mutex
	events []CommitEvent
}

func (r *recorder) Publish(_ context.Context, ev kafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Value.(CommitEvent))
	return nil
}

func (r *recorder) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Reason)
	}
	return out
}

type harness struct {
	dir *storage.MemoryDirectory
	cat *catalog.DirectoryCatalog
	cfg *config.Config
	pub *recorder
}

func newHarness() *harness {
	dir := storage.NewMemoryDirectory()
	return &harness{dir: dir, cat: catalog.NewDirectoryCatalog(dir, 1), cfg: testConfig(), pub: &recorder{}}
}

func (h *harness) open(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), h.cfg, h.dir, h.cat, Options{Publisher: h.pub})
	require.NoError(t, err)
	return e
}

func doc(id, body string) index.Document {
	idv := storedfields.StringValue(id)
	bodyv := storedfields.StringValue(body)
	return index.Document{
		{Name: "id", Tokens: tokenizer.Keyword(id), Stored: &idv},
		{Name: "body", Tokens: tokenizer.Standard().Tokenize(body), Stored: &bodyv, Tokenized: true},
	}
}

func addAll(t *testing.T, e *Engine, docs ...index.Document) {
	t.Helper()
	for _, d := range docs {
		require.NoError(t, e.AddDocument(context.Background(), d))
	}
	require.NoError(t, e.Flush(context.Background()))
}

// liveIDs returns the stored id of every live document of the view.
func liveIDs(t *testing.T, v *multiview.View) []string {
	t.Helper()
	var ids []string
	for doc := int32(0); doc < v.MaxDoc(); doc++ {
		if !v.IsLive(doc) {
			continue
		}
		fields, err := v.Document(doc)
		require.NoError(t, err)
		for _, f := range fields {
			if f.Name == "id" {
				ids = append(ids, f.Value.Text())
			}
		}
	}
	return ids
}

func docFreq(t *testing.T, v *multiview.View, tm term.Term) int {
	t.Helper()
	cur, ok, err := v.Postings(tm)
	require.NoError(t, err)
	if !ok {
		return 0
	}
	n := 0
	for {
		d, err := cur.NextDoc()
		require.NoError(t, err)
		if d == postings.NoMoreDocs {
			return n
		}
		n++
	}
}

func TestFlushPublishesSegment(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	defer e.Close()

	addAll(t, e, doc("a", "quick brown fox"), doc("b", "lazy brown dog"))
	st := e.Stats()
	assert.Equal(t, Stats{Generation: 1, Segments: 1, MaxDoc: 2, NumDocs: 2}, st)

	v, err := e.Acquire()
	require.NoError(t, err)
	defer v.Release()
	assert.Equal(t, []string{"a", "b"}, liveIDs(t, v))
	assert.Equal(t, 2, docFreq(t, v, term.NewTerm("body", "brown")))

	level, ok := v.FieldLevel("id")
	require.True(t, ok)
	assert.Equal(t, postings.DocsOnly, level)
	level, _ = v.FieldLevel("body")
	assert.Equal(t, postings.DocsFreqsPositionsOffsets, level)

	// An empty buffer commits nothing.
	require.NoError(t, e.Flush(context.Background()))
	assert.Equal(t, []string{"flush"}, h.pub.reasons())
}

func TestAddDocumentFlushesAtThreshold(t *testing.T) {
	h := newHarness()
	h.cfg.Indexer.SegmentMaxSize = 1
	e := h.open(t)
	defer e.Close()

	require.NoError(t, e.AddDocument(context.Background(), doc("a", "one")))
	require.NoError(t, e.AddDocument(context.Background(), doc("b", "two")))
	st := e.Stats()
	assert.Equal(t, 2, st.Segments)
	assert.Equal(t, 0, st.Buffered)
}

func TestAddDocumentRejectsBadStream(t *testing.T) {
	e := newHarness().open(t)
	defer e.Close()
	bad := index.Document{{Name: "body", Tokens: []tokenizer.Token{{Text: "x", PositionIncrement: -1}}}}
	assert.ErrorIs(t, e.AddDocument(context.Background(), bad), apperrors.ErrInvalidInput)
	assert.Equal(t, 0, e.Stats().Buffered)
}

func TestRecoveryReopensLatestCommit(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	addAll(t, e, doc("a", "alpha"))
	addAll(t, e, doc("b", "beta"))
	require.NoError(t, e.Close())

	ctx := context.Background()
	require.NoError(t, storage.WriteAll(ctx, h.dir, "seg_orphan.pst", []byte("partial")))

	e = h.open(t)
	defer e.Close()
	assert.Equal(t, int64(2), e.Stats().Generation)
	v, err := e.Acquire()
	require.NoError(t, err)
	defer v.Release()
	assert.Equal(t, []string{"a", "b"}, liveIDs(t, v))

	exists, err := h.dir.Exists(ctx, "seg_orphan.pst")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecoveryFailsOnCorruptSegment(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	addAll(t, e, doc("a", "alpha beta gamma"))
	name := e.current()[0].Name()
	require.NoError(t, e.Close())

	require.True(t, h.dir.Corrupt(segment.PostingsFile(name), 9))
	_, err := NewEngine(context.Background(), h.cfg, h.dir, h.cat, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCorruptData)
}

func TestDeleteByTerm(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	addAll(t, e, doc("a", "red apple"), doc("b", "green apple"))
	addAll(t, e, doc("c", "red cherry"))
	ctx := context.Background()

	before, err := e.Acquire()
	require.NoError(t, err)

	n, err := e.DeleteByTerm(ctx, term.NewTerm("body", "red"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The second segment has nothing left and is dropped.
	st := e.Stats()
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, int64(1), st.NumDocs)

	after, err := e.Acquire()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, liveIDs(t, after))
	require.NoError(t, after.Release())

	// The view taken before sees the new deletions but still holds the
	// dropped segment.
	assert.Equal(t, []string{"b"}, liveIDs(t, before))
	assert.Equal(t, int32(3), before.MaxDoc())
	require.NoError(t, before.Release())

	n, err = e.DeleteByTerm(ctx, term.NewTerm("body", "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, e.Close())

	e = h.open(t)
	defer e.Close()
	v, err := e.Acquire()
	require.NoError(t, err)
	defer v.Release()
	assert.Equal(t, []string{"b"}, liveIDs(t, v))
	assert.Equal(t, []string{"flush", "flush", "delete"}, h.pub.reasons())
}

func TestDeleteFlushesBufferFirst(t *testing.T) {
	e := newHarness().open(t)
	defer e.Close()
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, doc("a", "pending doc")))
	n, err := e.DeleteByTerm(ctx, term.NewTerm("id", "a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, e.Stats().Segments)
}

// flakyDirectory fails reads on the blobs marked with failReads.
type flakyDirectory struct {
	storage.Directory
	mu      sync.Mutex
	failing map[string]bool
}

var errReadFailed = errors.New("read failed")

func (d *flakyDirectory) failReads(name string, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing == nil {
		d.failing = make(map[string]bool)
	}
	d.failing[name] = fail
}

func (d *flakyDirectory) fails(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failing[name]
}

func (d *flakyDirectory) OpenInput(ctx context.Context, name string) (storage.Input, error) {
	in, err := d.Directory.OpenInput(ctx, name)
	if err != nil {
		return nil, err
	}
	return &flakyInput{Input: in, dir: d, name: name}, nil
}

type flakyInput struct {
	storage.Input
	dir  *flakyDirectory
	name string
}

func (in *flakyInput) ReadAt(p []byte, off int64) (int, error) {
	if in.dir.fails(in.name) {
		return 0, errReadFailed
	}
	return in.Input.ReadAt(p, off)
}

func TestDeleteByTermLeavesSegmentsUntouchedOnLookupError(t *testing.T) {
	h := newHarness()
	dir := &flakyDirectory{Directory: h.dir}
	ctx := context.Background()
	e, err := NewEngine(ctx, h.cfg, dir, h.cat, Options{Publisher: h.pub})
	require.NoError(t, err)
	defer e.Close()

	addAll(t, e, doc("a", "red apple"))
	addAll(t, e, doc("b", "red cherry"))
	segs := e.current()
	require.Len(t, segs, 2)

	dir.failReads(segment.PostingsFile(segs[1].Name()), true)
	n, err := e.DeleteByTerm(ctx, term.NewTerm("body", "red"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errReadFailed)
	assert.ErrorContains(t, err, segs[1].Name())
	assert.Zero(t, n)
	for _, s := range segs {
		assert.False(t, s.HasPendingDeletes(), s.Name())
		assert.Equal(t, int32(1), s.NumDocs(), s.Name())
	}
	assert.Equal(t, int64(2), e.Stats().Generation)

	v, err := e.Acquire()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, liveIDs(t, v))
	require.NoError(t, v.Release())

	dir.failReads(segment.PostingsFile(segs[1].Name()), false)
	n, err = e.DeleteByTerm(ctx, term.NewTerm("body", "red"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, e.Stats().Segments)
}

func TestMaybeMerge(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	defer e.Close()
	ctx := context.Background()

	addAll(t, e, doc("a", "shared one"), doc("b", "shared two"), doc("c", "shared three"))
	addAll(t, e, doc("d", "shared four"))
	// Two segments are within the limit.
	require.NoError(t, e.MaybeMerge(ctx))
	assert.Equal(t, 2, e.Stats().Segments)

	addAll(t, e, doc("e", "shared five"))
	_, err := e.DeleteByTerm(ctx, term.NewTerm("id", "b"))
	require.NoError(t, err)

	old, err := e.Acquire()
	require.NoError(t, err)
	oldNames := make([]string, 0, 3)
	for _, s := range old.Segments() {
		oldNames = append(oldNames, s.Name())
	}

	require.NoError(t, e.MaybeMerge(ctx))
	st := e.Stats()
	assert.Equal(t, 2, st.Segments)
	assert.Equal(t, int64(4), st.NumDocs)
	// The two single-doc segments were the smallest.
	assert.Equal(t, oldNames[0], e.current()[0].Name())

	v, err := e.Acquire()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d", "e"}, liveIDs(t, v))
	assert.Equal(t, 4, docFreq(t, v, term.NewTerm("body", "shared")))
	require.NoError(t, v.Release())

	// Retired inputs outlive the merge while an older view reads them.
	exists, err := h.dir.Exists(ctx, segment.StoredFieldsFile(oldNames[2]))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{"a", "c", "d", "e"}, liveIDs(t, old))
	require.NoError(t, old.Release())
	exists, err = h.dir.Exists(ctx, segment.StoredFieldsFile(oldNames[2]))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestForceMerge(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		addAll(t, e, doc(fmt.Sprint(i), fmt.Sprintf("word%d common", i)))
	}
	require.NoError(t, e.ForceMerge(ctx))
	assert.Equal(t, 1, e.Stats().Segments)
	require.NoError(t, e.Close())

	e = h.open(t)
	defer e.Close()
	v, err := e.Acquire()
	require.NoError(t, err)
	defer v.Release()
	assert.Equal(t, []string{"0", "1", "2", "3"}, liveIDs(t, v))
	assert.Contains(t, h.pub.reasons(), "merge")
}

func TestCarryDeletes(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	defer e.Close()
	addAll(t, e, doc("a", "x"), doc("b", "x"), doc("c", "x"))
	addAll(t, e, doc("d", "x"), doc("e", "x"))
	ctx := context.Background()

	inputs := e.current()
	_, err := inputs[0].Delete(0)
	require.NoError(t, err)
	res, err := merge.NewMerger(h.dir, merge.Options{}).Merge(ctx, inputs, merge.Target{Name: segment.NewName(), Level: postings.MaxLevel})
	require.NoError(t, err)
	out, err := segment.Open(ctx, h.dir, res.Info, segment.Options{})
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, int32(4), out.MaxDoc())

	// Deleted after the merge copied its snapshot.
	_, err = inputs[0].Delete(2)
	require.NoError(t, err)
	_, err = inputs[1].Delete(1)
	require.NoError(t, err)

	n, err := carryDeletes(out, inputs, res)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	live := out.LiveDocs()
	assert.Equal(t, []bool{true, false, true, false}, []bool{live.IsLive(0), live.IsLive(1), live.IsLive(2), live.IsLive(3)})
}

func TestClosedEngine(t *testing.T) {
	e := newHarness().open(t)
	require.NoError(t, e.AddDocument(context.Background(), doc("a", "buffered")))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.AddDocument(context.Background(), doc("b", "late")), apperrors.ErrClosed)
	assert.ErrorIs(t, e.MaybeMerge(context.Background()), apperrors.ErrClosed)
	_, err := e.Acquire()
	assert.ErrorIs(t, err, apperrors.ErrClosed)
}

func TestFlushLoop(t *testing.T) {
	h := newHarness()
	h.cfg.Indexer.FlushInterval = 10 * time.Millisecond
	e := h.open(t)
	defer e.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartFlushLoop(ctx)
	require.NoError(t, e.AddDocument(ctx, doc("a", "ticked")))
	assert.Eventually(t, func() bool { return e.Stats().Segments == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	unlock()
	unlock()
	unlock, err = l.Lock(context.Background())
	require.NoError(t, err)
	unlock()
}
