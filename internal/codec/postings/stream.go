package postings

import (
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

const (
	streamMagic   = 0x54495053 // "TIPS"
	streamVersion = 1
)

// Meta locates one encoded block inside a postings stream.
type Meta struct {
	Offset        int64
	Length        int64
	DocFreq       int32
	TotalTermFreq int64
}

// Options configures a Writer.
type Options struct {
	// Format is the preferred format name. Levels it cannot encode fall back
	// to delta.
	Format       string
	SkipInterval int
}

// Writer appends postings blocks to a stream.
type Writer struct {
	sw   *encoding.StreamWriter
	opts Options
}

func NewWriter(w io.Writer, opts Options) (*Writer, error) {
	if opts.Format == "" {
		opts.Format = DeltaFormatName
	}
	if _, err := Lookup(opts.Format); err != nil {
		return nil, err
	}
	sw, err := encoding.NewStreamWriter(w, streamMagic, streamVersion)
	if err != nil {
		return nil, err
	}
	return &Writer{sw: sw, opts: opts}, nil
}

// Write encodes the postings of t at level and appends them to the stream.
func (w *Writer) Write(t term.Term, level FeatureLevel, entries []Entry) (Meta, error) {
	f, err := ForLevel(w.opts.Format, level)
	if err != nil {
		return Meta{}, err
	}
	block, stats, err := EncodeBlock(f, level, entries, EncodeOptions{SkipInterval: w.opts.SkipInterval})
	if err != nil {
		return Meta{}, fmt.Errorf("term %s: %w", t, err)
	}
	meta := Meta{
		Offset:        w.sw.Offset(),
		Length:        int64(len(block)),
		DocFreq:       stats.DocFreq,
		TotalTermFreq: stats.TotalTermFreq,
	}
	if _, err := w.sw.Write(block); err != nil {
		return Meta{}, fmt.Errorf("writing postings for %s: %w", t, err)
	}
	return meta, nil
}

// Finish writes the stream footer.
func (w *Writer) Finish() error {
	return w.sw.Finish()
}

// Reader opens blocks of a postings stream. It is safe for concurrent use
// as long as the underlying ReaderAt is.
type Reader struct {
	r    io.ReaderAt
	size int64
}

// NewReader checks the stream header. Full checksum verification is
// VerifyStream's job.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if _, err := encoding.ReadHeader(r, size, streamMagic, "postings"); err != nil {
		return nil, err
	}
	return &Reader{r: r, size: size}, nil
}

// VerifyStream validates the checksum of a whole postings stream.
func VerifyStream(r io.ReaderAt, size int64) error {
	return encoding.VerifyReaderAt(r, size, streamMagic, "postings")
}

// Open returns an unpositioned cursor over the block described by meta.
func (r *Reader) Open(meta Meta) (Cursor, error) {
	end := r.size - encoding.FooterSize
	if meta.Offset < encoding.HeaderSize || meta.Length <= 0 || meta.Offset+meta.Length > end {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "postings block [%d,+%d) outside stream of %d bytes",
			meta.Offset, meta.Length, r.size)
	}
	block := make([]byte, meta.Length)
	if _, err := r.r.ReadAt(block, meta.Offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading postings block: %w", err)
	}
	c, err := OpenBlock(block)
	if err != nil {
		return nil, err
	}
	if int64(c.Cost()) != int64(meta.DocFreq) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "postings block has %d docs, dictionary says %d", c.Cost(), meta.DocFreq)
	}
	return c, nil
}
