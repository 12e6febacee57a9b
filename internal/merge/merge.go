// Package merge combines several segments into one, dropping deleted
// documents and re-encoding postings with the target codec settings.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/livedocs"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/multiview"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

// checkEvery is how many documents or terms are copied between context
// checks.
const checkEvery = 256

// Target describes the segment a merge produces. Fields are written at the
// lower of Level and their lowest level among the inputs, so pass
// postings.MaxLevel to keep every input's level.
type Target struct {
	Name          string
	Format        string
	Level         postings.FeatureLevel
	Compression   storedfields.Compression
	SkipInterval  int
	TermsPerBlock int
	ChunkDocs     int
}

// DocMap maps the local doc ids of one input to doc ids of the merged
// segment; deleted documents map to -1.
type DocMap []int32

// Map returns the new id of local, or false when it was dropped.
func (m DocMap) Map(local int32) (int32, bool) {
	if local < 0 || int(local) >= len(m) || m[local] < 0 {
		return -1, false
	}
	return m[local], true
}

// Result is a committed but not yet published merge. Snapshots are the
// input deletions the merge honoured; anything deleted later has to be
// carried over through DocMaps.
type Result struct {
	Info      *segment.Info
	DocMaps   []DocMap
	Snapshots []*livedocs.LiveDocs
}

type Options struct {
	// BytesPerSec limits output bandwidth; zero means unlimited.
	BytesPerSec int
	Metrics     *metrics.Metrics
}

type Merger struct {
	dir     storage.Directory
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewMerger(dir storage.Directory, opts Options) *Merger {
	m := &Merger{
		dir:     dir,
		metrics: opts.Metrics,
		logger:  logger.WithComponent("merge"),
	}
	if opts.BytesPerSec > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSec), opts.BytesPerSec)
	}
	return m
}

// Merge writes the live documents of inputs, in input order, into a new
// segment. On any failure or cancellation the partial output is removed and
// the returned error wraps ErrMergeAborted; the inputs are never modified.
func (m *Merger) Merge(ctx context.Context, inputs []*segment.Reader, target Target) (*Result, error) {
	start := time.Now()
	log := m.logger.With("segment", target.Name, "inputs", len(inputs))
	res, err := m.merge(ctx, inputs, target)
	if err != nil {
		status := "error"
		if ctx.Err() != nil {
			status = "aborted"
		}
		if apperrors.IsCorrupt(err) {
			m.metrics.CorruptRead("merge")
		}
		m.metrics.Merge(status, time.Since(start), 0)
		log.Error("merge aborted", "error", err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrMergeAborted, err)
	}
	took := time.Since(start)
	m.metrics.Merge("success", took, int(res.Info.MaxDoc))
	log.Info("merge complete", "max_doc", res.Info.MaxDoc, "duration", took)
	return res, nil
}

func (m *Merger) merge(ctx context.Context, inputs []*segment.Reader, target Target) (res *Result, err error) {
	if len(inputs) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "merge needs at least one input")
	}
	res = &Result{
		DocMaps:   make([]DocMap, len(inputs)),
		Snapshots: make([]*livedocs.LiveDocs, len(inputs)),
	}
	var next int32
	for i, in := range inputs {
		live := in.LiveDocs()
		res.Snapshots[i] = live
		dm := make(DocMap, in.MaxDoc())
		for doc := range dm {
			dm[doc] = -1
			if live.IsLive(int32(doc)) {
				dm[doc] = next
				next++
			}
		}
		res.DocMaps[i] = dm
	}

	w, err := segment.NewWriter(ctx, m.dir, target.Name, segment.WriterOptions{
		PostingsFormat: target.Format,
		SkipInterval:   target.SkipInterval,
		TermsPerBlock:  target.TermsPerBlock,
		Compression:    target.Compression,
		ChunkDocs:      target.ChunkDocs,
		Limiter:        m.limiter,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if abortErr := w.Abort(); abortErr != nil {
				m.logger.Error("removing partial merge output", "segment", target.Name, "error", abortErr)
			}
		}
	}()

	view := multiview.New(inputs)
	for _, name := range view.Fields() {
		level, _ := view.FieldLevel(name)
		if err := w.SetField(name, postings.MinLevel(level, target.Level)); err != nil {
			return nil, err
		}
	}
	if err := copyDocuments(ctx, w, inputs, res.Snapshots); err != nil {
		return nil, err
	}
	if err := copyTerms(ctx, w, view, target.Level, res.DocMaps); err != nil {
		return nil, err
	}
	if res.Info, err = w.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func copyDocuments(ctx context.Context, w *segment.Writer, inputs []*segment.Reader, lives []*livedocs.LiveDocs) error {
	copied := 0
	for i, in := range inputs {
		live := lives[i]
		for doc := live.NextLive(0); doc >= 0; doc = live.NextLive(doc + 1) {
			if copied%checkEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			fields, err := in.Document(doc)
			if err != nil {
				return apperrors.InSegment(in.Name(), err)
			}
			if _, err := w.AddDocument(fields); err != nil {
				return err
			}
			copied++
		}
	}
	return nil
}

func copyTerms(ctx context.Context, w *segment.Writer, view *multiview.View, maxLevel postings.FeatureLevel, docMaps []DocMap) error {
	it := view.Iterator()
	var entries []postings.Entry
	for n := 0; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		t, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		level, _ := view.FieldLevel(t.Field)
		level = postings.MinLevel(level, maxLevel)
		slices, err := it.Slices()
		if err != nil {
			return err
		}
		entries = entries[:0]
		for _, s := range slices {
			seg := view.Segments()[s.Segment]
			if entries, err = appendLive(entries, s, level, docMaps[s.Segment]); err != nil {
				return apperrors.InSegment(seg.Name(), err)
			}
		}
		// Every posting of the term was deleted.
		if len(entries) == 0 {
			continue
		}
		if err := w.AddTerm(t, entries); err != nil {
			return err
		}
	}
}

// appendLive decodes one slice at level, keeping only documents present in
// dm and renumbering them.
func appendLive(entries []postings.Entry, s multiview.Slice, level postings.FeatureLevel, dm DocMap) ([]postings.Entry, error) {
	for {
		doc, err := s.Cursor.NextDoc()
		if err != nil {
			return entries, err
		}
		if doc == postings.NoMoreDocs {
			return entries, nil
		}
		newID, ok := dm.Map(doc)
		if !ok {
			continue
		}
		e, err := postings.ReadEntry(s.Cursor, level)
		if err != nil {
			return entries, err
		}
		e.DocID = newID
		entries = append(entries, e)
	}
}
