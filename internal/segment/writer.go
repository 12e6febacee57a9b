package segment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/termdict"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

// WriterOptions selects the codecs a new segment is written with.
type WriterOptions struct {
	PostingsFormat string
	SkipInterval   int
	TermsPerBlock  int
	Compression    storedfields.Compression
	ChunkDocs      int
	// Limiter, when set, paces output bytes.
	Limiter *rate.Limiter
}

// Writer builds one segment. Flush and merge both use it: documents are
// added first, then terms in ascending order. Nothing is visible until
// Commit succeeds; Abort removes every partially written file.
type Writer struct {
	ctx     context.Context
	dir     storage.Directory
	name    string
	opts    WriterOptions
	logger  *slog.Logger
	fields  map[string]FieldInfo
	outputs []storage.Output
	names   []string
	pw      *postings.Writer
	dw      *termdict.Writer
	sw      *storedfields.Writer
	done    bool
}

func NewWriter(ctx context.Context, dir storage.Directory, name string, opts WriterOptions) (_ *Writer, err error) {
	if opts.PostingsFormat == "" {
		opts.PostingsFormat = postings.DeltaFormatName
	}
	if _, err := postings.Lookup(opts.PostingsFormat); err != nil {
		return nil, err
	}
	w := &Writer{
		ctx:    ctx,
		dir:    dir,
		name:   name,
		opts:   opts,
		logger: logger.WithComponent("segment").With("segment", name),
		fields: make(map[string]FieldInfo),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, w.Abort())
		}
	}()

	dictOut, err := w.create(DictionaryFile(name))
	if err != nil {
		return nil, err
	}
	pstOut, err := w.create(PostingsFile(name))
	if err != nil {
		return nil, err
	}
	fdtOut, err := w.create(StoredFieldsFile(name))
	if err != nil {
		return nil, err
	}
	if w.pw, err = postings.NewWriter(pstOut, postings.Options{Format: opts.PostingsFormat, SkipInterval: opts.SkipInterval}); err != nil {
		return nil, err
	}
	if w.dw, err = termdict.NewWriter(dictOut, termdict.Options{TermsPerBlock: opts.TermsPerBlock}); err != nil {
		return nil, err
	}
	if w.sw, err = storedfields.NewWriter(fdtOut, storedfields.WriterOptions{Compression: opts.Compression, ChunkDocs: opts.ChunkDocs}); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) create(file string) (io.Writer, error) {
	out, err := w.dir.CreateOutput(w.ctx, file)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", file, err)
	}
	w.outputs = append(w.outputs, out)
	w.names = append(w.names, file)
	return newThrottledWriter(w.ctx, out, w.opts.Limiter), nil
}

func (w *Writer) Name() string {
	return w.name
}

// SetField declares an indexed field and its level. Redeclaring with the
// same level is a no-op.
func (w *Writer) SetField(name string, level postings.FeatureLevel) error {
	if !level.Valid() {
		return apperrors.Newf(apperrors.ErrInvalidInput, "field %s: invalid level %d", name, level)
	}
	if f, ok := w.fields[name]; ok {
		if f.Level != level {
			return apperrors.Newf(apperrors.ErrInvalidInput, "field %s declared at %s and %s", name, f.Level, level)
		}
		return nil
	}
	format, err := postings.ForLevel(w.opts.PostingsFormat, level)
	if err != nil {
		return err
	}
	w.fields[name] = FieldInfo{Name: name, Level: level, Format: format.Name()}
	return nil
}

// AddDocument appends the stored fields of the next document and returns
// its local doc id.
func (w *Writer) AddDocument(fields []storedfields.Field) (int32, error) {
	if w.done {
		return 0, apperrors.New(apperrors.ErrClosed, "segment writer finished")
	}
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	doc := w.sw.NumDocs()
	if err := w.sw.WriteDocument(fields); err != nil {
		return 0, err
	}
	return doc, nil
}

func (w *Writer) NumDocs() int32 {
	return w.sw.NumDocs()
}

// AddTerm writes the postings of t. Terms must arrive in strictly ascending
// term.Compare order, reference only documents already added and belong to
// a declared field. A term without entries is skipped.
func (w *Writer) AddTerm(t term.Term, entries []postings.Entry) error {
	if w.done {
		return apperrors.New(apperrors.ErrClosed, "segment writer finished")
	}
	if len(entries) == 0 {
		return nil
	}
	f, ok := w.fields[t.Field]
	if !ok {
		return apperrors.Newf(apperrors.ErrInvalidInput, "term %s: field not declared", t)
	}
	if last := entries[len(entries)-1].DocID; last >= w.sw.NumDocs() {
		return apperrors.Newf(apperrors.ErrOutOfRange, "term %s: doc %d beyond %d documents", t, last, w.sw.NumDocs())
	}
	meta, err := w.pw.Write(t, f.Level, entries)
	if err != nil {
		return err
	}
	return w.dw.Add(t, f.Level, meta)
}

// Commit finishes every stream and publishes the files.
func (w *Writer) Commit() (*Info, error) {
	if w.done {
		return nil, apperrors.New(apperrors.ErrClosed, "segment writer finished")
	}
	if err := w.commit(); err != nil {
		return nil, multierr.Append(err, w.Abort())
	}
	w.done = true

	info := &Info{
		Name:        w.name,
		MaxDoc:      w.sw.NumDocs(),
		Compression: w.opts.Compression,
		Files:       append([]string(nil), w.names...),
	}
	for _, f := range w.fields {
		info.Fields = append(info.Fields, f)
	}
	sort.Slice(info.Fields, func(i, j int) bool { return info.Fields[i].Name < info.Fields[j].Name })
	w.logger.Debug("segment committed", "max_doc", info.MaxDoc, "terms", w.dw.NumTerms())
	return info, nil
}

func (w *Writer) commit() error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if err := w.pw.Finish(); err != nil {
		return fmt.Errorf("finishing postings: %w", err)
	}
	if err := w.dw.Finish(); err != nil {
		return fmt.Errorf("finishing dictionary: %w", err)
	}
	if err := w.sw.Finish(); err != nil {
		return fmt.Errorf("finishing stored fields: %w", err)
	}
	for i, out := range w.outputs {
		if err := out.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", w.names[i], err)
		}
	}
	return nil
}

// Abort discards all output. Files that were already published by a
// partially successful Commit are deleted.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	var errs error
	for i, out := range w.outputs {
		errs = multierr.Append(errs, out.Abort())
		if ok, err := w.dir.Exists(context.Background(), w.names[i]); err == nil && ok {
			errs = multierr.Append(errs, w.dir.Delete(context.Background(), w.names[i]))
		}
	}
	w.logger.Debug("segment aborted")
	return errs
}
