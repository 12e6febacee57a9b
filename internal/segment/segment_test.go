package segment_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/termdict"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment/segmenttest"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

var schema = segmenttest.Schema{
	"body":  postings.DocsFreqsPositionsOffsetsPayloads,
	"title": postings.DocsOnly,
}

var docs = []segmenttest.Doc{
	{"title": "red fox", "body": "the quick red fox", "id": "a"},
	{"title": "dog", "body": "the lazy dog sleeps", "id": "b"},
	{"title": "fox dog", "body": "fox meets dog and fox", "id": "c"},
	{"body": "nothing here", "id": "d"},
	{"id": "e"},
}

func TestWriteAndRead(t *testing.T) {
	dir := storage.NewMemoryDirectory()
	r := segmenttest.Build(t, dir, "seg_a", schema, docs)

	assert.Equal(t, "seg_a", r.Name())
	assert.Equal(t, int32(5), r.MaxDoc())
	assert.Equal(t, int32(5), r.NumDocs())

	it := r.Terms("body")
	found, err := it.SeekExact(term.NewTerm("body", "fox"))
	require.NoError(t, err)
	require.True(t, found)
	df, err := it.DocFreq()
	require.NoError(t, err)
	assert.Equal(t, int32(2), df)
	ttf, err := it.TotalTermFreq()
	require.NoError(t, err)
	assert.Equal(t, int64(3), ttf)

	cur, err := it.Postings()
	require.NoError(t, err)
	entries, err := postings.ReadAll(cur)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int32(0), entries[0].DocID)
	assert.Equal(t, postings.Position{Position: 3, StartOffset: 14, EndOffset: 17, Payload: []byte{3}}, entries[0].Positions[0])
	assert.Equal(t, int32(2), entries[1].DocID)
	assert.Equal(t, int32(2), entries[1].Freq)

	title := r.Terms("title")
	status, err := title.SeekCeiling(term.NewTerm("title", "e"))
	require.NoError(t, err)
	assert.Equal(t, termdict.NotFound, status)
	got, err := title.Term()
	require.NoError(t, err)
	assert.Equal(t, "fox", got.Text())
	cur, err = title.Postings()
	require.NoError(t, err)
	_, err = cur.NextDoc()
	require.NoError(t, err)
	_, err = cur.Freq()
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFeature)

	fields, err := r.Document(3)
	require.NoError(t, err)
	assert.Equal(t, segmenttest.StoredFields(schema, docs[3]), fields)
	fields, err = r.Document(4)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "e", fields[0].Value.Text())

	_, err = r.Document(5)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

	fi, ok := r.FieldInfo("body")
	require.True(t, ok)
	assert.Equal(t, postings.DeltaFormatName, fi.Format)
	_, ok = r.FieldInfo("id")
	assert.False(t, ok)
}

func TestInfoHasNoVolatileState(t *testing.T) {
	a := segmenttest.Write(t, storage.NewMemoryDirectory(), "seg_x", schema, docs, segment.WriterOptions{})
	b := segmenttest.Write(t, storage.NewMemoryDirectory(), "seg_x", schema, docs, segment.WriterOptions{})
	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb))
	assert.Equal(t, []string{"seg_x.tdi", "seg_x.pst", "seg_x.fdt"}, a.Files)

	var back segment.Info
	require.NoError(t, json.Unmarshal(ja, &back))
	assert.Equal(t, a, &back)
}

func TestWriterRejectsBadTerms(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemoryDirectory()
	w, err := segment.NewWriter(ctx, dir, "seg_bad", segment.WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.SetField("body", postings.DocsAndFreqs))
	assert.ErrorIs(t, w.SetField("body", postings.DocsOnly), apperrors.ErrInvalidInput)

	_, err = w.AddDocument(nil)
	require.NoError(t, err)

	err = w.AddTerm(term.NewTerm("other", "x"), []postings.Entry{{DocID: 0, Freq: 1}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = w.AddTerm(term.NewTerm("body", "x"), []postings.Entry{{DocID: 1, Freq: 1}})
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

	require.NoError(t, w.AddTerm(term.NewTerm("body", "b"), []postings.Entry{{DocID: 0, Freq: 1}}))
	require.NoError(t, w.AddTerm(term.NewTerm("body", "c"), nil))
	err = w.AddTerm(term.NewTerm("body", "a"), []postings.Entry{{DocID: 0, Freq: 1}})
	assert.ErrorIs(t, err, apperrors.ErrOutOfOrder)

	require.NoError(t, w.Abort())
	files, err := dir.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = w.AddDocument(nil)
	assert.ErrorIs(t, err, apperrors.ErrClosed)
}

func TestCancelledWriterLeavesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dir := storage.NewMemoryDirectory()
	w, err := segment.NewWriter(ctx, dir, "seg_c", segment.WriterOptions{})
	require.NoError(t, err)
	_, err = w.AddDocument([]storedfields.Field{{Name: "id", Value: storedfields.Int32Value(1), Flags: storedfields.Stored}})
	require.NoError(t, err)
	cancel()

	_, err = w.Commit()
	assert.ErrorIs(t, err, context.Canceled)
	files, err := dir.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

// failingDirectory refuses to create the blob named fail.
type failingDirectory struct {
	storage.Directory
	fail string
}

var errCreateFailed = errors.New("create failed")

func (d failingDirectory) CreateOutput(ctx context.Context, name string) (storage.Output, error) {
	if name == d.fail {
		return nil, errCreateFailed
	}
	return d.Directory.CreateOutput(ctx, name)
}

func TestNewWriterCreateFailureAborts(t *testing.T) {
	ctx := context.Background()
	for _, file := range []string{"seg_w.tdi", "seg_w.pst", "seg_w.fdt"} {
		t.Run(file, func(t *testing.T) {
			mem := storage.NewMemoryDirectory()
			w, err := segment.NewWriter(ctx, failingDirectory{Directory: mem, fail: file}, "seg_w", segment.WriterOptions{})
			require.Error(t, err)
			assert.Nil(t, w)
			assert.ErrorIs(t, err, errCreateFailed)

			files, err := mem.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestDeleteAndPersistLiveDocs(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemoryDirectory()
	r := segmenttest.Build(t, dir, "seg_d", schema, docs)

	before := r.LiveDocs()
	n, err := r.DeleteByTerm(term.NewTerm("title", "dog"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(3), r.NumDocs())
	assert.True(t, r.HasPendingDeletes())

	// Snapshots taken earlier do not observe the delete.
	assert.True(t, before.IsLive(1))
	assert.False(t, r.LiveDocs().IsLive(1))
	assert.False(t, r.LiveDocs().IsLive(2))

	n, err = r.Delete(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = r.Delete(9)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

	// Deleted documents stay readable.
	_, err = r.Document(1)
	require.NoError(t, err)

	info, err := r.WriteLiveDocs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.DelGen)
	assert.Equal(t, int32(3), info.DelCount)
	assert.False(t, r.HasPendingDeletes())

	_, err = r.Delete(0)
	require.NoError(t, err)
	info, err = r.WriteLiveDocs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.DelGen)

	ok, err := dir.Exists(ctx, segment.LiveDocsFile("seg_d", 1))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, r.PurgeStale(ctx))
	ok, err = dir.Exists(ctx, segment.LiveDocsFile("seg_d", 1))
	require.NoError(t, err)
	assert.False(t, ok)

	reopened, err := segment.Open(ctx, dir, info, segment.Options{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, int32(1), reopened.NumDocs())
	assert.Equal(t, []int32{0, 1, 2, 3}, reopened.LiveDocs().Deleted())
}

func TestRetireDeletesFilesAtLastRelease(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemoryDirectory()
	r := segmenttest.Build(t, dir, "seg_r", schema, docs)
	_, err := r.Delete(0)
	require.NoError(t, err)
	_, err = r.WriteLiveDocs(ctx)
	require.NoError(t, err)

	require.NoError(t, r.IncRef())
	assert.Equal(t, int64(2), r.RefCount())

	r.MarkRetired()
	require.NoError(t, r.Close())
	files, err := dir.List(ctx, "seg_r")
	require.NoError(t, err)
	assert.Len(t, files, 4)

	// The remaining holder still reads.
	_, err = r.Document(2)
	require.NoError(t, err)

	require.NoError(t, r.DecRef())
	files, err = dir.List(ctx, "seg_r")
	require.NoError(t, err)
	assert.Empty(t, files)

	assert.ErrorIs(t, r.IncRef(), apperrors.ErrClosed)
	assert.ErrorIs(t, r.DecRef(), apperrors.ErrClosed)
}

func TestCloseWithoutRetireKeepsFiles(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemoryDirectory()
	r := segmenttest.Build(t, dir, "seg_k", schema, docs)
	require.NoError(t, r.Close())
	files, err := dir.List(ctx, "seg_k")
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestOpenDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	for _, file := range []string{"seg_z.tdi", "seg_z.pst", "seg_z.fdt"} {
		t.Run(file, func(t *testing.T) {
			dir := storage.NewMemoryDirectory()
			info := segmenttest.Write(t, dir, "seg_z", schema, docs, segment.WriterOptions{})
			require.True(t, dir.Corrupt(file, 9))

			_, err := segment.Open(ctx, dir, info, segment.Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrCorruptData)
			assert.Equal(t, "seg_z", apperrors.SegmentOf(err))
		})
	}

	dir := storage.NewMemoryDirectory()
	info := segmenttest.Write(t, dir, "seg_m", schema, docs, segment.WriterOptions{})
	info.MaxDoc++
	_, err := segment.Open(ctx, dir, info, segment.Options{})
	assert.ErrorIs(t, err, apperrors.ErrCorruptData)
}

func TestOpenMissingFile(t *testing.T) {
	ctx := context.Background()
	for _, file := range []string{"seg_p.pst", "seg_p.tdi", "seg_p.fdt"} {
		t.Run(file, func(t *testing.T) {
			dir := storage.NewMemoryDirectory()
			info := segmenttest.Write(t, dir, "seg_p", schema, docs, segment.WriterOptions{})
			require.NoError(t, dir.Delete(ctx, file))

			r, err := segment.Open(ctx, dir, info, segment.Options{})
			require.Error(t, err)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, storage.ErrNotFound)
			assert.NotErrorIs(t, err, apperrors.ErrCorruptData)
			assert.ErrorContains(t, err, "seg_p")
		})
	}
}

func TestBitmapFormatFallsBackAboveDocsOnly(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemoryDirectory()
	info := segmenttest.Write(t, dir, "seg_b", schema, docs, segment.WriterOptions{PostingsFormat: postings.BitmapFormatName})
	title, ok := info.Field("title")
	require.True(t, ok)
	assert.Equal(t, postings.BitmapFormatName, title.Format)
	body, ok := info.Field("body")
	require.True(t, ok)
	assert.Equal(t, postings.DeltaFormatName, body.Format)

	r, err := segment.Open(ctx, dir, info, segment.Options{})
	require.NoError(t, err)
	defer r.Close()
	it := r.Terms("title")
	found, err := it.SeekExact(term.NewTerm("title", "fox"))
	require.NoError(t, err)
	require.True(t, found)
	cur, err := it.Postings()
	require.NoError(t, err)
	entries, err := postings.ReadAll(cur)
	require.NoError(t, err)
	assert.Equal(t, []postings.Entry{{DocID: 0}, {DocID: 2}}, entries)
}

func TestNewName(t *testing.T) {
	a, b := segment.NewName(), segment.NewName()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^seg_[0-9a-f]{32}$`, a)
	assert.Equal(t, "seg_1_3.liv", segment.LiveDocsFile("seg_1", 3))
}
