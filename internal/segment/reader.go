package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/livedocs"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/termdict"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

type Options struct {
	// CacheSize is passed to the stored fields reader.
	CacheSize int
	Metrics   *metrics.Metrics
}

// Reader is an opened segment. The encoded streams never change; only the
// live docs snapshot is replaced when documents are deleted. Open hands the
// caller one reference; the files of a retired segment are removed when the
// last reference is released.
type Reader struct {
	dir     storage.Directory
	logger  *slog.Logger
	metrics *metrics.Metrics

	dict    *termdict.Reader
	stored  *storedfields.Reader
	pstIn   storage.Input
	pst     *postings.Reader
	fields  map[string]FieldInfo
	name    string
	maxDoc  int32
	live    atomic.Pointer[livedocs.LiveDocs]
	refs    atomic.Int64
	retired atomic.Bool

	mu    sync.Mutex // guards info, dirty and stale
	info  *Info
	dirty bool
	stale []string
}

// Open verifies and loads every stream of the segment described by info.
// The dictionary and stored fields are held in memory; postings are read on
// demand from the open input.
func Open(ctx context.Context, dir storage.Directory, info *Info, opts Options) (_ *Reader, err error) {
	r := &Reader{
		dir:     dir,
		logger:  logger.WithComponent("segment").With("segment", info.Name),
		metrics: opts.Metrics,
		fields:  make(map[string]FieldInfo, len(info.Fields)),
		name:    info.Name,
		maxDoc:  info.MaxDoc,
		info:    info.Clone(),
	}
	for _, f := range info.Fields {
		r.fields[f.Name] = f
	}
	defer func() {
		if err != nil {
			if apperrors.IsCorrupt(err) {
				r.metrics.CorruptRead("segment")
			}
			if r.pstIn != nil {
				err = multierr.Append(err, r.pstIn.Close())
			}
			err = apperrors.InSegment(info.Name, err)
		}
	}()

	r.pstIn, err = dir.OpenInput(ctx, PostingsFile(info.Name))
	if err != nil {
		return nil, fmt.Errorf("opening postings: %w", err)
	}
	if err := postings.VerifyStream(r.pstIn, r.pstIn.Size()); err != nil {
		return nil, err
	}
	if r.pst, err = postings.NewReader(r.pstIn, r.pstIn.Size()); err != nil {
		return nil, err
	}

	dictData, err := storage.ReadAll(ctx, dir, DictionaryFile(info.Name))
	if err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if r.dict, err = termdict.Open(dictData, r.pst); err != nil {
		return nil, err
	}
	for _, f := range r.dict.Fields() {
		fi, ok := r.fields[f.Name]
		if !ok || fi.Level != f.Level {
			return nil, apperrors.Newf(apperrors.ErrCorruptData, "dictionary field %s at %s does not match segment info", f.Name, f.Level)
		}
	}

	storedData, err := storage.ReadAll(ctx, dir, StoredFieldsFile(info.Name))
	if err != nil {
		return nil, fmt.Errorf("reading stored fields: %w", err)
	}
	if r.stored, err = storedfields.Open(storedData, storedfields.ReaderOptions{CacheSize: opts.CacheSize, Observer: opts.Metrics}); err != nil {
		return nil, err
	}
	if r.stored.MaxDoc() != info.MaxDoc {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "stored fields hold %d docs, segment info says %d", r.stored.MaxDoc(), info.MaxDoc)
	}

	live := livedocs.All(info.MaxDoc)
	if f := info.LiveDocsFile(); f != "" {
		data, err := storage.ReadAll(ctx, dir, f)
		if err != nil {
			return nil, fmt.Errorf("reading live docs: %w", err)
		}
		if live, err = livedocs.Decode(data, info.MaxDoc); err != nil {
			return nil, err
		}
		if live.DelCount() != info.DelCount {
			return nil, apperrors.Newf(apperrors.ErrCorruptData, "live docs delete %d docs, segment info says %d", live.DelCount(), info.DelCount)
		}
	}
	r.live.Store(live)
	r.refs.Store(1)
	r.logger.Debug("segment opened", "max_doc", info.MaxDoc, "live", live.NumLive(), "terms", r.dict.NumTerms())
	return r, nil
}

func (r *Reader) Name() string {
	return r.name
}

// Info returns a copy of the current segment info, including the latest
// persisted deletions generation.
func (r *Reader) Info() *Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info.Clone()
}

func (r *Reader) MaxDoc() int32 {
	return r.maxDoc
}

func (r *Reader) NumDocs() int32 {
	return r.live.Load().NumLive()
}

func (r *Reader) Dictionary() *termdict.Reader {
	return r.dict
}

// Iterator returns a cursor over every term of the segment.
func (r *Reader) Iterator() termdict.Iterator {
	return r.dict.Iterator()
}

// Terms returns a cursor bounded to one field.
func (r *Reader) Terms(field string) termdict.Iterator {
	return r.dict.FieldIterator(field)
}

func (r *Reader) StoredFields() *storedfields.Reader {
	return r.stored
}

// Document reads the stored fields of a local doc id. Deleted documents
// remain readable.
func (r *Reader) Document(doc int32) ([]storedfields.Field, error) {
	fields, err := r.stored.ReadDocument(doc)
	if apperrors.IsCorrupt(err) {
		r.metrics.CorruptRead("storedfields")
	}
	return fields, err
}

func (r *Reader) FieldInfo(name string) (FieldInfo, bool) {
	f, ok := r.fields[name]
	return f, ok
}

// LiveDocs returns the current deletions snapshot. The snapshot never
// changes; later deletes install a new one.
func (r *Reader) LiveDocs() *livedocs.LiveDocs {
	return r.live.Load()
}

// Delete marks local doc ids deleted and returns how many were live.
func (r *Reader) Delete(ids ...int32) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.live.Load()
	next, changed, err := cur.WithDeleted(ids...)
	if err != nil {
		return 0, apperrors.InSegment(r.name, err)
	}
	if changed > 0 {
		r.live.Store(next)
		r.dirty = true
	}
	return changed, nil
}

// DeleteByTerm deletes every live document whose postings contain t.
func (r *Reader) DeleteByTerm(t term.Term) (int, error) {
	ids, err := r.LiveMatches(t)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return r.Delete(ids...)
}

// LiveMatches returns the live local doc ids whose postings contain t,
// without changing the live docs.
func (r *Reader) LiveMatches(t term.Term) ([]int32, error) {
	it := r.dict.FieldIterator(t.Field)
	found, err := it.SeekExact(t)
	if err != nil || !found {
		return nil, apperrors.InSegment(r.name, err)
	}
	cur, err := it.Postings()
	if err != nil {
		return nil, apperrors.InSegment(r.name, err)
	}
	live := r.live.Load()
	var ids []int32
	for {
		doc, err := cur.NextDoc()
		if err != nil {
			return nil, apperrors.InSegment(r.name, err)
		}
		if doc == postings.NoMoreDocs {
			return ids, nil
		}
		if live.IsLive(doc) {
			ids = append(ids, doc)
		}
	}
}

// HasPendingDeletes reports whether deletions exist that WriteLiveDocs has
// not persisted yet.
func (r *Reader) HasPendingDeletes() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// WriteLiveDocs persists the current deletions under a new generation and
// returns the updated info. The previous generation's file stays on disk
// until PurgeStale, since the last commit may still reference it.
func (r *Reader) WriteLiveDocs(ctx context.Context) (*Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return r.info.Clone(), nil
	}
	live := r.live.Load()
	data, err := live.Encode()
	if err != nil {
		return nil, apperrors.InSegment(r.name, err)
	}
	gen := r.info.DelGen + 1
	file := LiveDocsFile(r.name, gen)
	if err := storage.WriteAll(ctx, r.dir, file, data); err != nil {
		return nil, apperrors.InSegment(r.name, fmt.Errorf("writing live docs: %w", err))
	}
	if old := r.info.LiveDocsFile(); old != "" {
		r.stale = append(r.stale, old)
	}
	r.info.DelGen = gen
	r.info.DelCount = live.DelCount()
	r.dirty = false
	r.logger.Info("live docs written", "del_gen", gen, "del_count", r.info.DelCount)
	return r.info.Clone(), nil
}

// PurgeStale removes deletions files superseded by WriteLiveDocs. Call it
// once a commit referencing the newer generation is durable.
func (r *Reader) PurgeStale(ctx context.Context) error {
	r.mu.Lock()
	stale := r.stale
	r.stale = nil
	r.mu.Unlock()
	var errs error
	for _, f := range stale {
		errs = multierr.Append(errs, deleteIfExists(ctx, r.dir, f))
	}
	return errs
}

// IncRef takes a reference. It fails once the count has dropped to zero.
func (r *Reader) IncRef() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return apperrors.Newf(apperrors.ErrClosed, "segment %s already closed", r.name)
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// DecRef releases a reference. Releasing the last one closes the postings
// input and, when the segment was retired, deletes its files.
func (r *Reader) DecRef() error {
	n := r.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n < 0:
		r.refs.Add(1)
		return apperrors.Newf(apperrors.ErrClosed, "segment %s released too many times", r.name)
	}
	err := r.pstIn.Close()
	if r.retired.Load() {
		err = multierr.Append(err, r.deleteFiles())
	}
	return err
}

func (r *Reader) RefCount() int64 {
	return r.refs.Load()
}

// MarkRetired schedules the segment's files for deletion when the last
// reference is released. It does not release any reference itself.
func (r *Reader) MarkRetired() {
	r.retired.Store(true)
}

func (r *Reader) Retired() bool {
	return r.retired.Load()
}

// Close releases the reference handed out by Open.
func (r *Reader) Close() error {
	return r.DecRef()
}

func (r *Reader) deleteFiles() error {
	ctx := context.Background()
	r.mu.Lock()
	files := append(r.info.AllFiles(), r.stale...)
	r.stale = nil
	r.mu.Unlock()

	var errs error
	for _, f := range files {
		errs = multierr.Append(errs, deleteIfExists(ctx, r.dir, f))
	}
	if errs != nil {
		r.logger.Error("deleting retired segment files", "error", errs)
		return errs
	}
	r.metrics.SegmentRetired()
	r.logger.Info("segment retired", "files", len(files))
	return nil
}

func deleteIfExists(ctx context.Context, dir storage.Directory, name string) error {
	ok, err := dir.Exists(ctx, name)
	if err != nil || !ok {
		return err
	}
	return dir.Delete(ctx, name)
}
