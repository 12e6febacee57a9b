package storedfields

import (
	"errors"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// ErrStopVisit ends VisitDocument early without error.
var ErrStopVisit = errors.New("stop visit")

const DefaultCacheSize = 32

// CacheObserver is told about chunk cache lookups.
type CacheObserver interface {
	StoredCacheHit()
	StoredCacheMiss()
}

type ReaderOptions struct {
	// CacheSize is the number of decoded chunks kept per reader. Zero uses
	// DefaultCacheSize; negative disables the cache.
	CacheSize int
	Observer  CacheObserver
}

type chunk struct {
	docBase int32
	offsets []int // numDocs+1 boundaries into data
	data    []byte
}

// Reader serves random-access document reads. It is safe for concurrent
// use: the encoded stream is immutable and the chunk cache is synchronized.
type Reader struct {
	data        []byte
	indexOffset int
	maxDoc      int32
	chunks      []chunkRef
	cache       *lru.Cache
	observer    CacheObserver
}

// Open verifies the stream checksum and loads the chunk index.
func Open(data []byte, opts ReaderOptions) (*Reader, error) {
	body, err := encoding.Verify(data, streamMagic, "stored fields")
	if err != nil {
		return nil, err
	}
	if len(body) < 8 {
		return nil, apperrors.New(apperrors.ErrCorruptData, "stored fields: missing index pointer")
	}
	bodyEnd := encoding.HeaderSize + len(body)
	ptr := encoding.NewReader(data[bodyEnd-8:bodyEnd], "stored fields")
	indexOffset := int(ptr.Uint64())
	if indexOffset < encoding.HeaderSize || indexOffset > bodyEnd-8 {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "stored fields: index offset %d out of range", indexOffset)
	}

	r := encoding.NewReader(data[:bodyEnd-8], "stored fields index")
	r.Seek(indexOffset)
	maxDoc := r.Int32()
	numChunks := r.Int(r.Remaining())
	chunks := make([]chunkRef, 0, numChunks)
	var base int64
	var offset int64
	for i := 0; i < numChunks && r.Err() == nil; i++ {
		base += int64(r.Uvarint())
		offset += int64(r.Uvarint())
		if r.Err() != nil {
			break
		}
		if base >= int64(maxDoc) || offset < encoding.HeaderSize || offset >= int64(indexOffset) ||
			(i > 0 && (int32(base) <= chunks[i-1].docBase || offset <= chunks[i-1].offset)) ||
			(i == 0 && base != 0) {
			return nil, apperrors.Newf(apperrors.ErrCorruptData, "stored fields index: bad chunk %d (base %d, offset %d)", i, base, offset)
		}
		chunks = append(chunks, chunkRef{docBase: int32(base), offset: offset})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if !r.EOF() {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "stored fields index: %d trailing bytes", r.Remaining())
	}
	if (maxDoc == 0) != (len(chunks) == 0) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "stored fields index: %d docs in %d chunks", maxDoc, len(chunks))
	}

	rd := &Reader{
		data:        data,
		indexOffset: indexOffset,
		maxDoc:      maxDoc,
		chunks:      chunks,
		observer:    opts.Observer,
	}
	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	if size > 0 {
		cache, err := lru.New(size)
		if err != nil {
			return nil, err
		}
		rd.cache = cache
	}
	return rd, nil
}

func (rd *Reader) MaxDoc() int32 {
	return rd.maxDoc
}

// ReadDocument returns the fields of docID in insertion order. Deleted
// documents are still readable.
func (rd *Reader) ReadDocument(docID int32) ([]Field, error) {
	var fields []Field
	err := rd.VisitDocument(docID, func(f Field) error {
		fields = append(fields, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// VisitDocument calls fn for each field of docID in order. Returning
// ErrStopVisit from fn skips the remaining fields.
func (rd *Reader) VisitDocument(docID int32, fn func(Field) error) error {
	if docID < 0 || docID >= rd.maxDoc {
		return apperrors.Newf(apperrors.ErrOutOfRange, "doc %d outside [0,%d)", docID, rd.maxDoc)
	}
	i := sort.Search(len(rd.chunks), func(i int) bool { return rd.chunks[i].docBase > docID }) - 1
	c, err := rd.loadChunk(i)
	if err != nil {
		return err
	}
	local := int(docID - c.docBase)
	if local >= len(c.offsets)-1 {
		return apperrors.Newf(apperrors.ErrCorruptData, "stored chunk %d does not contain doc %d", i, docID)
	}
	r := encoding.NewReader(c.data[c.offsets[local]:c.offsets[local+1]], "stored document")
	n := r.Int(r.Remaining())
	for j := 0; j < n; j++ {
		var f Field
		f.Name = string(r.LengthPrefixed())
		kind := Kind(r.Byte())
		f.Flags = Flags(r.Byte())
		switch kind {
		case KindString:
			f.Value = StringValue(string(r.LengthPrefixed()))
		case KindBinary:
			f.Value = BinaryValue(r.LengthPrefixed())
		case KindInt32:
			v := r.Varint()
			if v < -1<<31 || v > 1<<31-1 {
				return apperrors.Newf(apperrors.ErrCorruptData, "doc %d field %q: int32 overflow", docID, f.Name)
			}
			f.Value = Int32Value(int32(v))
		case KindInt64:
			f.Value = Int64Value(r.Varint())
		case KindFloat32:
			f.Value = Value{kind: KindFloat32, bits: uint64(r.Uint32())}
		case KindFloat64:
			f.Value = Value{kind: KindFloat64, bits: r.Uint64()}
		default:
			if r.Err() == nil {
				return apperrors.Newf(apperrors.ErrCorruptData, "doc %d field %q: unknown kind %d", docID, f.Name, kind)
			}
		}
		if err := r.Err(); err != nil {
			return err
		}
		if err := fn(f); err != nil {
			if errors.Is(err, ErrStopVisit) {
				return nil
			}
			return err
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	if !r.EOF() {
		return apperrors.Newf(apperrors.ErrCorruptData, "doc %d: %d trailing bytes", docID, r.Remaining())
	}
	return nil
}

func (rd *Reader) loadChunk(i int) (*chunk, error) {
	if rd.cache != nil {
		if v, ok := rd.cache.Get(i); ok {
			if rd.observer != nil {
				rd.observer.StoredCacheHit()
			}
			return v.(*chunk), nil
		}
		if rd.observer != nil {
			rd.observer.StoredCacheMiss()
		}
	}
	c, err := rd.decodeChunk(i)
	if err != nil {
		return nil, err
	}
	if rd.cache != nil {
		rd.cache.Add(i, c)
	}
	return c, nil
}

func (rd *Reader) decodeChunk(i int) (*chunk, error) {
	ref := rd.chunks[i]
	r := encoding.NewReader(rd.data[:rd.indexOffset], "stored chunk")
	r.Seek(int(ref.offset))
	version := r.Byte()
	comp := Compression(r.Byte())
	base := r.Int32()
	numDocs := r.Int(int(rd.maxDoc))
	rawLen := r.Int(1 << 30)
	stored := r.LengthPrefixed()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if version != chunkVersion {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "stored chunk %d: unsupported version %d", i, version)
	}
	end := rd.maxDoc
	if i+1 < len(rd.chunks) {
		end = rd.chunks[i+1].docBase
	}
	if base != ref.docBase || int32(numDocs) != end-base {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "stored chunk %d: docs [%d,+%d) disagree with index", i, base, numDocs)
	}
	raw, err := decompress(stored, comp, rawLen)
	if err != nil {
		return nil, err
	}

	cr := encoding.NewReader(raw, "stored chunk")
	offsets := make([]int, numDocs+1)
	total := 0
	for d := 0; d < numDocs; d++ {
		total += cr.Int(len(raw))
		offsets[d+1] = total
	}
	if err := cr.Err(); err != nil {
		return nil, err
	}
	if total != cr.Remaining() {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "stored chunk %d: doc lengths sum to %d of %d bytes", i, total, cr.Remaining())
	}
	return &chunk{docBase: base, offsets: offsets, data: raw[cr.Pos():]}, nil
}
