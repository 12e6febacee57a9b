package storedfields

import (
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// Stream layout (after the shared stream header):
//
//	chunk*   version, compression, docBase, numDocs, rawLen, storedLen,
//	         stored bytes. Raw chunk bytes are numDocs doc lengths followed
//	         by the docs; a doc is numFields x (name, kind, flags, value).
//	index    maxDoc, numChunks, numChunks x (docBase delta, offset delta)
//	indexPtr uint64 offset of index
//	footer
const (
	streamMagic   = 0x54494644 // "TIFD"
	streamVersion = 1
	chunkVersion  = 1

	DefaultChunkDocs = 64
	// maxChunkBytes flushes a chunk early when documents are large.
	maxChunkBytes = 256 * 1024
)

type WriterOptions struct {
	Compression Compression
	ChunkDocs   int
}

type chunkRef struct {
	docBase int32
	offset  int64
}

// Writer appends documents. Doc ids are assigned densely from 0 in write
// order.
type Writer struct {
	sw       *encoding.StreamWriter
	opts     WriterOptions
	numDocs  int32
	docBase  int32
	lengths  []int
	docs     encoding.Buffer
	chunk    encoding.Buffer
	chunks   []chunkRef
	finished bool
}

func NewWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	if opts.ChunkDocs <= 0 {
		opts.ChunkDocs = DefaultChunkDocs
	}
	if opts.Compression > CompressionZstd {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "unknown stored fields compression %d", opts.Compression)
	}
	sw, err := encoding.NewStreamWriter(w, streamMagic, streamVersion)
	if err != nil {
		return nil, err
	}
	return &Writer{sw: sw, opts: opts}, nil
}

// WriteDocument appends one document. Empty documents are allowed.
func (w *Writer) WriteDocument(fields []Field) error {
	if w.finished {
		return apperrors.New(apperrors.ErrClosed, "stored fields writer finished")
	}
	for _, f := range fields {
		if !f.Value.kind.valid() {
			return apperrors.Newf(apperrors.ErrInvalidInput, "field %q has no value", f.Name)
		}
	}
	start := w.docs.Len()
	w.docs.Uvarint(uint64(len(fields)))
	for _, f := range fields {
		w.docs.LengthPrefixed([]byte(f.Name))
		w.docs.Byte(byte(f.Value.kind))
		w.docs.Byte(byte(f.Flags))
		switch f.Value.kind {
		case KindString:
			w.docs.LengthPrefixed([]byte(f.Value.str))
		case KindBinary:
			w.docs.LengthPrefixed(f.Value.bin)
		case KindInt32, KindInt64:
			w.docs.Varint(f.Value.intValue())
		case KindFloat32:
			w.docs.Uint32(uint32(f.Value.bits))
		case KindFloat64:
			w.docs.Uint64(f.Value.bits)
		}
	}
	w.lengths = append(w.lengths, w.docs.Len()-start)
	w.numDocs++
	if len(w.lengths) >= w.opts.ChunkDocs || w.docs.Len() >= maxChunkBytes {
		return w.flushChunk()
	}
	return nil
}

func (v Value) intValue() int64 {
	if v.kind == KindInt32 {
		return int64(v.Int32())
	}
	return v.Int64()
}

func (w *Writer) flushChunk() error {
	if len(w.lengths) == 0 {
		return nil
	}
	var raw encoding.Buffer
	for _, n := range w.lengths {
		raw.Uvarint(uint64(n))
	}
	raw.Raw(w.docs.Bytes())
	stored, used, err := compress(raw.Bytes(), w.opts.Compression)
	if err != nil {
		return fmt.Errorf("compressing stored chunk: %w", err)
	}

	w.chunk.Reset()
	w.chunk.Byte(chunkVersion)
	w.chunk.Byte(byte(used))
	w.chunk.Uvarint(uint64(w.docBase))
	w.chunk.Uvarint(uint64(len(w.lengths)))
	w.chunk.Uvarint(uint64(raw.Len()))
	w.chunk.LengthPrefixed(stored)

	w.chunks = append(w.chunks, chunkRef{docBase: w.docBase, offset: w.sw.Offset()})
	if _, err := w.sw.Write(w.chunk.Bytes()); err != nil {
		return fmt.Errorf("writing stored chunk: %w", err)
	}
	w.docBase = w.numDocs
	w.lengths = w.lengths[:0]
	w.docs.Reset()
	return nil
}

// NumDocs is the number of documents written so far.
func (w *Writer) NumDocs() int32 {
	return w.numDocs
}

// Finish flushes the last chunk and writes the index and footer.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	w.finished = true
	indexOffset := w.sw.Offset()
	var idx encoding.Buffer
	idx.Uvarint(uint64(w.numDocs))
	idx.Uvarint(uint64(len(w.chunks)))
	var prevBase int32
	var prevOffset int64
	for _, c := range w.chunks {
		idx.Uvarint(uint64(c.docBase - prevBase))
		idx.Uvarint(uint64(c.offset - prevOffset))
		prevBase, prevOffset = c.docBase, c.offset
	}
	idx.Uint64(uint64(indexOffset))
	if _, err := w.sw.Write(idx.Bytes()); err != nil {
		return fmt.Errorf("writing stored fields index: %w", err)
	}
	return w.sw.Finish()
}
