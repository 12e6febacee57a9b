package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/merge"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
)

// MaybeMerge merges the MergeFactor smallest segments once more than
// MaxSegmentsBeforeMerge are published. It returns at once when every merge
// slot is busy.
func (e *Engine) MaybeMerge(ctx context.Context) error {
	if e.closed.Load() {
		return apperrors.New(apperrors.ErrClosed, "engine closed")
	}
	if !e.mergeSem.TryAcquire(1) {
		return nil
	}
	defer e.mergeSem.Release(1)
	inputs, err := e.selectMerge(func(published, candidates int) int {
		if published <= e.cfg.MaxSegmentsBeforeMerge {
			return 0
		}
		return min(e.cfg.MergeFactor, candidates)
	})
	if err != nil || inputs == nil {
		return err
	}
	defer e.unmark(inputs)
	return e.runMerge(ctx, inputs)
}

// ForceMerge merges every segment not already being merged into one.
func (e *Engine) ForceMerge(ctx context.Context) error {
	if e.closed.Load() {
		return apperrors.New(apperrors.ErrClosed, "engine closed")
	}
	if err := e.mergeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.mergeSem.Release(1)
	inputs, err := e.selectMerge(func(_, candidates int) int { return candidates })
	if err != nil || inputs == nil {
		return err
	}
	defer e.unmark(inputs)
	return e.runMerge(ctx, inputs)
}

// selectMerge picks the smallest free segments, as many as count allows,
// marks them merging and takes a reference on each. Inputs keep their
// published order.
func (e *Engine) selectMerge(count func(published, candidates int) int) ([]*segment.Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	type candidate struct {
		pos int
		seg *segment.Reader
	}
	var free []candidate
	for i, s := range e.segments {
		if !e.merging[s.Name()] {
			free = append(free, candidate{pos: i, seg: s})
		}
	}
	n := count(len(e.segments), len(free))
	if n < 2 {
		return nil, nil
	}
	sort.SliceStable(free, func(i, j int) bool {
		return free[i].seg.Info().SizeHint() < free[j].seg.Info().SizeHint()
	})
	free = free[:n]
	sort.Slice(free, func(i, j int) bool { return free[i].pos < free[j].pos })

	inputs := make([]*segment.Reader, 0, n)
	for _, c := range free {
		if err := c.seg.IncRef(); err != nil {
			for _, taken := range inputs {
				_ = taken.DecRef()
			}
			return nil, err
		}
		inputs = append(inputs, c.seg)
	}
	for _, s := range inputs {
		e.merging[s.Name()] = true
	}
	return inputs, nil
}

func (e *Engine) unmark(inputs []*segment.Reader) {
	e.mu.Lock()
	for _, s := range inputs {
		delete(e.merging, s.Name())
	}
	e.mu.Unlock()
	for _, s := range inputs {
		if err := s.DecRef(); err != nil {
			e.logger.Error("releasing merge input", "segment", s.Name(), "error", err)
		}
	}
}

func (e *Engine) mergeTarget() merge.Target {
	return merge.Target{
		Format:        e.writerOpts.PostingsFormat,
		Level:         postings.MaxLevel,
		Compression:   e.writerOpts.Compression,
		SkipInterval:  e.writerOpts.SkipInterval,
		TermsPerBlock: e.writerOpts.TermsPerBlock,
		ChunkDocs:     e.writerOpts.ChunkDocs,
	}
}

// runMerge writes the merged segment, then swaps it in for its inputs.
// Deletes that reached the inputs while the merge ran are carried over.
func (e *Engine) runMerge(ctx context.Context, inputs []*segment.Reader) error {
	retry := e.retryConfig()
	if e.cfg.MergeRetryAttempts > 0 {
		retry.MaxAttempts = e.cfg.MergeRetryAttempts
	}
	target := e.mergeTarget()
	var res *merge.Result
	err := resilience.Retry(ctx, "merge", retry, func() error {
		target.Name = segment.NewName()
		var err error
		res, err = e.merger.Merge(ctx, inputs, target)
		return err
	})
	if err != nil {
		return err
	}
	out, err := segment.Open(ctx, e.dir, res.Info, e.readerOpts)
	if err != nil {
		_ = deleteFiles(ctx, e.dir, res.Info)
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	cur := e.current()
	published := make(map[string]bool, len(cur))
	for _, s := range cur {
		published[s.Name()] = true
	}
	for _, in := range inputs {
		if !published[in.Name()] {
			e.discard(out)
			return apperrors.InSegment(in.Name(), fmt.Errorf("%w: input dropped while merging", apperrors.ErrMergeAborted))
		}
	}

	carried, err := carryDeletes(out, inputs, res)
	if err != nil {
		e.discard(out)
		return err
	}
	if out.HasPendingDeletes() {
		if _, err := out.WriteLiveDocs(ctx); err != nil {
			e.discard(out)
			return err
		}
	}

	merged := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		merged[in.Name()] = true
	}
	next := make([]*segment.Reader, 0, len(cur)-len(inputs)+1)
	placed := false
	for _, s := range cur {
		if !merged[s.Name()] {
			next = append(next, s)
			continue
		}
		if !placed && out.NumDocs() > 0 {
			next = append(next, out)
		}
		placed = true
	}
	if err := e.publish(ctx, "merge", next); err != nil {
		e.discard(out)
		return err
	}
	if out.NumDocs() == 0 {
		e.discard(out)
	}
	for _, in := range inputs {
		e.retire(in)
	}
	e.logger.Info("merged segments published",
		"segment", out.Name(),
		"inputs", len(inputs),
		"docs", out.NumDocs(),
		"carried_deletes", carried,
	)
	return nil
}

// carryDeletes applies to out the input deletions newer than the snapshots
// the merge copied from.
func carryDeletes(out *segment.Reader, inputs []*segment.Reader, res *merge.Result) (int, error) {
	carried := 0
	for i, in := range inputs {
		now, then := in.LiveDocs(), res.Snapshots[i]
		if now == then {
			continue
		}
		var ids []int32
		for doc := then.NextLive(0); doc >= 0; doc = then.NextLive(doc + 1) {
			if now.IsLive(doc) {
				continue
			}
			if id, ok := res.DocMaps[i].Map(doc); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		n, err := out.Delete(ids...)
		if err != nil {
			return carried, err
		}
		carried += n
	}
	return carried, nil
}
