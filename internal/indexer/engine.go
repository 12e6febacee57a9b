// Package indexer owns the live index: it buffers documents, flushes them
// into segments, applies deletes, publishes commit points and schedules
// merges.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/merge"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/multiview"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

// Options carries the optional collaborators of an Engine.
type Options struct {
	// Locker defaults to a LocalLocker.
	Locker    Locker
	Publisher Publisher
	Metrics   *metrics.Metrics
	// Retry applies to flushes and catalog saves.
	Retry resilience.RetryConfig
}

type Engine struct {
	cfg        config.IndexerConfig
	index      string
	writerOpts segment.WriterOptions
	readerOpts segment.Options
	dir        storage.Directory
	catalog    catalog.Catalog
	locker     Locker
	publisher  Publisher
	metrics    *metrics.Metrics
	merger     *merge.Merger
	mergeSem   *semaphore.Weighted
	maxMerges  int64
	retry      resilience.RetryConfig
	logger     *slog.Logger

	memIndex *index.MemoryIndex

	// writeMu serialises buffer flushes, deletes and commits.
	writeMu sync.Mutex

	mu       sync.RWMutex // guards segments, commit and merging
	segments []*segment.Reader
	commit   *catalog.Commit
	merging  map[string]bool

	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewEngine opens the index recorded in cat. Every segment of the latest
// commit must open cleanly; files no commit references are removed.
func NewEngine(ctx context.Context, cfg *config.Config, dir storage.Directory, cat catalog.Catalog, opts Options) (*Engine, error) {
	defaultLevel, err := postings.ParseFeatureLevel(cfg.Indexer.DefaultLevel)
	if err != nil {
		return nil, fmt.Errorf("default level: %w", err)
	}
	levels := make(map[string]postings.FeatureLevel, len(cfg.Indexer.Fields))
	for field, name := range cfg.Indexer.Fields {
		if levels[field], err = postings.ParseFeatureLevel(name); err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
	}
	compression, err := storedfields.ParseCompression(cfg.Codec.StoredCompression)
	if err != nil {
		return nil, err
	}
	maxMerges := int64(max(cfg.Indexer.MaxConcurrentMerges, 1))
	e := &Engine{
		cfg:   cfg.Indexer,
		index: cfg.Catalog.Index,
		writerOpts: segment.WriterOptions{
			PostingsFormat: cfg.Codec.PostingsFormat,
			SkipInterval:   cfg.Codec.SkipInterval,
			TermsPerBlock:  cfg.Codec.TermsPerBlock,
			Compression:    compression,
			ChunkDocs:      cfg.Codec.StoredChunkDocs,
		},
		readerOpts: segment.Options{CacheSize: cfg.Codec.StoredCacheSize, Metrics: opts.Metrics},
		dir:        dir,
		catalog:    cat,
		locker:     opts.Locker,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		merger:     merge.NewMerger(dir, merge.Options{BytesPerSec: cfg.Indexer.MergeIOBytesPerSec, Metrics: opts.Metrics}),
		mergeSem:   semaphore.NewWeighted(maxMerges),
		maxMerges:  maxMerges,
		retry:      opts.Retry,
		logger:     logger.WithComponent("indexer"),
		memIndex:   index.NewMemoryIndex(levels, defaultLevel),
		merging:    make(map[string]bool),
		stop:       make(chan struct{}),
	}
	if e.locker == nil {
		e.locker = NewLocalLocker()
	}
	if err := e.recover(ctx); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return e, nil
}

func (e *Engine) recover(ctx context.Context) error {
	commit, err := e.catalog.Load(ctx)
	if err != nil {
		return err
	}
	readers := make([]*segment.Reader, len(commit.Segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range commit.Segments {
		info := &commit.Segments[i]
		g.Go(func() error {
			r, err := segment.Open(gctx, e.dir, info, e.readerOpts)
			if err != nil {
				return fmt.Errorf("opening segment %s: %w", info.Name, err)
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				_ = r.Close()
			}
		}
		return err
	}
	e.segments = readers
	e.commit = commit

	removed, err := e.removeUnreferenced(ctx, commit)
	if err != nil {
		e.logger.Warn("removing unreferenced files", "error", err)
	}
	e.metrics.SetActiveSegments(len(readers))
	e.logger.Info("segment recovery complete",
		"generation", commit.Generation,
		"segments_loaded", len(readers),
		"files_removed", removed,
	)
	return nil
}

// removeUnreferenced deletes segment files left behind by crashed flushes,
// merges or live-docs writes.
func (e *Engine) removeUnreferenced(ctx context.Context, commit *catalog.Commit) (int, error) {
	names, err := e.dir.List(ctx, segment.NamePrefix)
	if err != nil {
		return 0, err
	}
	referenced := commit.Files()
	removed := 0
	var errs error
	for _, name := range names {
		if _, found := slices.BinarySearch(referenced, name); found {
			continue
		}
		if err := e.dir.Delete(ctx, name); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

// AddDocument buffers doc. Once the buffer reaches SegmentMaxSize it is
// flushed; a failed flush keeps the documents buffered for the next attempt.
func (e *Engine) AddDocument(ctx context.Context, doc index.Document) error {
	if e.closed.Load() {
		return apperrors.New(apperrors.ErrClosed, "engine closed")
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, err := e.memIndex.AddDocument(doc); err != nil {
		return err
	}
	e.metrics.DocIndexed()
	logger.FromContext(ctx).Debug("document buffered",
		"component", "indexer",
		"buffered", e.memIndex.DocCount(),
		"mem_size", e.memIndex.Size(),
	)
	if e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.flushLocked(ctx); err != nil {
			e.logger.Error("flush failed, documents stay buffered", "error", err)
		}
	}
	return nil
}

// Flush writes the buffered documents as a new segment and commits it.
func (e *Engine) Flush(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.flushLocked(ctx)
}

func (e *Engine) flushLocked(ctx context.Context) error {
	snap := e.memIndex.Snapshot()
	if snap.NumDocs() == 0 {
		return nil
	}
	start := time.Now()
	var r *segment.Reader
	err := resilience.Retry(ctx, "flush", e.retryConfig(), func() error {
		var err error
		r, err = e.writeSegment(ctx, snap)
		return err
	})
	if err != nil {
		e.metrics.Flush("error")
		return fmt.Errorf("writing segment: %w", err)
	}
	if err := e.publish(ctx, "flush", append(e.current(), r)); err != nil {
		e.metrics.Flush("error")
		e.discard(r)
		return err
	}
	e.memIndex.Reset()
	e.metrics.Flush("success")
	e.logger.Info("segment flushed",
		"segment", r.Name(),
		"docs", r.MaxDoc(),
		"terms", len(snap.Terms),
		"duration", time.Since(start),
	)
	return nil
}

func (e *Engine) writeSegment(ctx context.Context, snap *index.Snapshot) (r *segment.Reader, err error) {
	w, err := segment.NewWriter(ctx, e.dir, segment.NewName(), e.writerOpts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, w.Abort())
		}
	}()
	fields := make([]string, 0, len(snap.Fields))
	for f := range snap.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if err := w.SetField(f, snap.Fields[f]); err != nil {
			return nil, err
		}
	}
	for _, doc := range snap.Docs {
		if _, err := w.AddDocument(doc); err != nil {
			return nil, err
		}
	}
	for _, te := range snap.Terms {
		if err := w.AddTerm(te.Term, te.Entries); err != nil {
			return nil, err
		}
	}
	info, err := w.Commit()
	if err != nil {
		return nil, err
	}
	r, err = segment.Open(ctx, e.dir, info, e.readerOpts)
	if err != nil {
		return nil, multierr.Append(err, deleteFiles(ctx, e.dir, info))
	}
	return r, nil
}

// DeleteByTerm flushes the buffer, then deletes every document containing
// t from every segment and commits the new deletions.
func (e *Engine) DeleteByTerm(ctx context.Context, t term.Term) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.flushLocked(ctx); err != nil {
		return 0, err
	}
	segs := e.current()
	// Every lookup runs before any live docs change, so a failing segment
	// leaves the others untouched.
	matches := make([][]int32, len(segs))
	for i, s := range segs {
		ids, err := s.LiveMatches(t)
		if err != nil {
			return 0, err
		}
		matches[i] = ids
	}
	total := 0
	for i, s := range segs {
		if len(matches[i]) == 0 {
			continue
		}
		n, err := s.Delete(matches[i]...)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total == 0 {
		return 0, nil
	}
	if err := e.applyDeletesLocked(ctx, segs); err != nil {
		return total, err
	}
	e.metrics.DocsDeleted(total)
	e.logger.Info("documents deleted", "term", t.String(), "count", total)
	return total, nil
}

// applyDeletesLocked persists pending deletions and commits. Segments left
// without live documents are dropped from the commit.
func (e *Engine) applyDeletesLocked(ctx context.Context, segs []*segment.Reader) error {
	keep := make([]*segment.Reader, 0, len(segs))
	var dropped []*segment.Reader
	for _, s := range segs {
		if s.NumDocs() == 0 {
			dropped = append(dropped, s)
			continue
		}
		if s.HasPendingDeletes() {
			if _, err := s.WriteLiveDocs(ctx); err != nil {
				return err
			}
		}
		keep = append(keep, s)
	}
	if err := e.publish(ctx, "delete", keep); err != nil {
		return err
	}
	for _, s := range keep {
		if err := s.PurgeStale(ctx); err != nil {
			e.logger.Warn("purging stale live docs", "segment", s.Name(), "error", err)
		}
	}
	for _, s := range dropped {
		e.retire(s)
	}
	return nil
}

// publish commits segs as the next generation and installs them.
func (e *Engine) publish(ctx context.Context, reason string, segs []*segment.Reader) error {
	infos := make([]segment.Info, len(segs))
	for i, s := range segs {
		infos[i] = *s.Info()
	}
	unlock, err := e.locker.Lock(ctx)
	if err != nil {
		return fmt.Errorf("acquiring commit lock: %w", err)
	}
	defer unlock()

	e.mu.RLock()
	next := e.commit.Next(infos)
	e.mu.RUnlock()

	retry := e.retryConfig()
	retry.RetryIf = func(err error) bool {
		return !errors.Is(err, catalog.ErrConflict) && apperrors.Retryable(err)
	}
	if err := resilience.Retry(ctx, "commit", retry, func() error {
		return e.catalog.Save(ctx, next)
	}); err != nil {
		return fmt.Errorf("committing generation %d: %w", next.Generation, err)
	}

	e.mu.Lock()
	e.segments = segs
	e.commit = next
	e.mu.Unlock()
	e.metrics.SetActiveSegments(len(segs))
	e.announce(ctx, reason, next, segs)
	return nil
}

func (e *Engine) announce(ctx context.Context, reason string, c *catalog.Commit, segs []*segment.Reader) {
	if e.publisher == nil {
		return
	}
	ev := CommitEvent{Index: e.index, Generation: c.Generation, Reason: reason}
	for _, s := range segs {
		ev.Segments = append(ev.Segments, s.Name())
		ev.NumDocs += int64(s.NumDocs())
	}
	if err := e.publisher.Publish(ctx, kafka.Event{Key: e.index, Value: ev, Type: "commit." + reason}); err != nil {
		e.logger.Warn("publishing commit event", "generation", c.Generation, "error", err)
	}
}

func (e *Engine) retryConfig() resilience.RetryConfig {
	cfg := e.retry
	if cfg.RetryIf == nil {
		cfg.RetryIf = apperrors.Retryable
	}
	return cfg
}

// current returns a copy of the published segment list.
func (e *Engine) current() []*segment.Reader {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.segments)
}

// retire drops the engine's reference on a segment no longer published.
// Its files go once every view holding it is released.
func (e *Engine) retire(s *segment.Reader) {
	s.MarkRetired()
	if err := s.Close(); err != nil {
		e.logger.Error("retiring segment", "segment", s.Name(), "error", err)
	}
}

// discard throws away a segment that was never published.
func (e *Engine) discard(s *segment.Reader) {
	e.retire(s)
}

// Acquire returns a view of the published segments. The view stays valid
// across later commits and merges until Release.
func (e *Engine) Acquire() (*multiview.View, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() && e.segments == nil {
		return nil, apperrors.New(apperrors.ErrClosed, "engine closed")
	}
	return multiview.Acquire(e.segments)
}

type Stats struct {
	Generation int64 `json:"generation"`
	Segments   int   `json:"segments"`
	MaxDoc     int64 `json:"max_doc"`
	NumDocs    int64 `json:"num_docs"`
	Buffered   int   `json:"buffered"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Stats{Generation: e.commit.Generation, Segments: len(e.segments), Buffered: e.memIndex.DocCount()}
	for _, s := range e.segments {
		st.MaxDoc += int64(s.MaxDoc())
		st.NumDocs += int64(s.NumDocs())
	}
	return st
}

func (e *Engine) StartFlushLoop(ctx context.Context) {
	if e.cfg.FlushInterval <= 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				if e.memIndex.DocCount() > 0 {
					if err := e.Flush(ctx); err != nil {
						e.logger.Error("periodic flush failed", "error", err)
					}
				}
			}
		}
	}()
}

func (e *Engine) StartMergeLoop(ctx context.Context) {
	if e.cfg.MergeInterval <= 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.MergeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				if err := e.MaybeMerge(ctx); err != nil {
					e.logger.Error("background merge failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the loops, waits for running merges, flushes the buffer and
// drops the engine's segment references. Views acquired earlier stay
// readable until released.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stop)
	e.wg.Wait()
	ctx := context.Background()
	if err := e.mergeSem.Acquire(ctx, e.maxMerges); err == nil {
		defer e.mergeSem.Release(e.maxMerges)
	}
	var errs error
	if err := e.Flush(ctx); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
		errs = multierr.Append(errs, err)
	}
	e.mu.Lock()
	segs := e.segments
	e.segments = nil
	e.mu.Unlock()
	for _, s := range segs {
		errs = multierr.Append(errs, s.Close())
	}
	e.metrics.SetActiveSegments(0)
	return errs
}

func deleteFiles(ctx context.Context, dir storage.Directory, info *segment.Info) error {
	var errs error
	for _, f := range info.AllFiles() {
		if err := dir.Delete(ctx, f); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
