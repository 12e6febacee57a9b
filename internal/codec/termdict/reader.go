package termdict

import (
	"bytes"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// PostingsOpener resolves term metadata to a postings cursor.
type PostingsOpener interface {
	Open(meta postings.Meta) (postings.Cursor, error)
}

type fieldIndex struct {
	info   FieldInfo
	blocks []blockRef
}

type blockTerm struct {
	bytes []byte
	meta  postings.Meta
}

// Reader is an opened dictionary. It is immutable and safe for concurrent
// use; each Iterator carries its own position.
type Reader struct {
	data        []byte
	indexOffset int64
	fields      []fieldIndex
	postings    PostingsOpener
	numTerms    int64
}

// Open verifies the stream checksum and parses the field index. pst may be
// nil, in which case Postings fails.
func Open(data []byte, pst PostingsOpener) (*Reader, error) {
	body, err := encoding.Verify(data, streamMagic, "term dictionary")
	if err != nil {
		return nil, err
	}
	if len(body) < 8 {
		return nil, apperrors.New(apperrors.ErrCorruptData, "term dictionary: missing index pointer")
	}
	bodyEnd := encoding.HeaderSize + len(body)
	ptr := encoding.NewReader(data[bodyEnd-8:bodyEnd], "term dictionary")
	indexOffset := int64(ptr.Uint64())
	if indexOffset < encoding.HeaderSize || indexOffset > int64(bodyEnd-8) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "term dictionary: index offset %d out of range", indexOffset)
	}

	r := encoding.NewReader(data[:bodyEnd-8], "term index")
	r.Seek(int(indexOffset))
	numFields := r.Int(r.Remaining())
	rd := &Reader{data: data, indexOffset: indexOffset, postings: pst}
	rd.fields = make([]fieldIndex, 0, numFields)
	for i := 0; i < numFields && r.Err() == nil; i++ {
		var f fieldIndex
		f.info.Name = string(r.LengthPrefixed())
		f.info.Level = postings.FeatureLevel(r.Byte())
		f.info.TermCount = int64(r.Uvarint())
		f.info.SumDocFreq = int64(r.Uvarint())
		f.info.SumTotalTermFreq = int64(r.Uvarint())
		numBlocks := r.Int(r.Remaining())
		f.blocks = make([]blockRef, 0, numBlocks)
		for j := 0; j < numBlocks && r.Err() == nil; j++ {
			first := r.LengthPrefixed()
			offset := int64(r.Uvarint())
			f.blocks = append(f.blocks, blockRef{first: first, offset: offset})
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		if err := rd.checkField(f, i); err != nil {
			return nil, err
		}
		rd.numTerms += f.info.TermCount
		rd.fields = append(rd.fields, f)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if !r.EOF() {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "term index: %d trailing bytes", r.Remaining())
	}
	return rd, nil
}

func (rd *Reader) checkField(f fieldIndex, i int) error {
	if i > 0 && rd.fields[i-1].info.Name >= f.info.Name {
		return apperrors.Newf(apperrors.ErrCorruptData, "term index: field %q after %q", f.info.Name, rd.fields[i-1].info.Name)
	}
	if !f.info.Level.Valid() {
		return apperrors.Newf(apperrors.ErrCorruptData, "term index: field %q has invalid level %d", f.info.Name, f.info.Level)
	}
	if len(f.blocks) == 0 || f.info.TermCount < int64(len(f.blocks)) {
		return apperrors.Newf(apperrors.ErrCorruptData, "term index: field %q has %d terms in %d blocks", f.info.Name, f.info.TermCount, len(f.blocks))
	}
	for j, b := range f.blocks {
		if b.offset < encoding.HeaderSize || b.offset >= rd.indexOffset {
			return apperrors.Newf(apperrors.ErrCorruptData, "term index: block offset %d out of range", b.offset)
		}
		if j > 0 && bytes.Compare(f.blocks[j-1].first, b.first) >= 0 {
			return apperrors.Newf(apperrors.ErrCorruptData, "term index: field %q blocks not ascending", f.info.Name)
		}
	}
	return nil
}

// Fields returns the indexed fields in ascending name order.
func (rd *Reader) Fields() []FieldInfo {
	out := make([]FieldInfo, len(rd.fields))
	for i, f := range rd.fields {
		out[i] = f.info
	}
	return out
}

func (rd *Reader) FieldInfo(name string) (FieldInfo, bool) {
	i, ok := rd.findField(name)
	if !ok {
		return FieldInfo{}, false
	}
	return rd.fields[i].info, true
}

func (rd *Reader) NumTerms() int64 {
	return rd.numTerms
}

// Size is the encoded size of the dictionary in bytes.
func (rd *Reader) Size() int {
	return len(rd.data)
}

// findField returns the index of the first field >= name and whether it
// matches exactly.
func (rd *Reader) findField(name string) (int, bool) {
	i := sort.Search(len(rd.fields), func(i int) bool { return rd.fields[i].info.Name >= name })
	return i, i < len(rd.fields) && rd.fields[i].info.Name == name
}

// Iterator returns a cursor over every term of every field in total order.
func (rd *Reader) Iterator() Iterator {
	return newIterator(rd, 0, len(rd.fields))
}

// FieldIterator returns a cursor bounded to one field. An unknown field
// yields an empty iterator.
func (rd *Reader) FieldIterator(field string) Iterator {
	i, ok := rd.findField(field)
	if !ok {
		return newIterator(rd, i, i)
	}
	return newIterator(rd, i, i+1)
}

// decodeBlock expands one prefix-compressed block. Every returned term owns
// its bytes.
func (rd *Reader) decodeBlock(field, block int) ([]blockTerm, error) {
	f := &rd.fields[field]
	ref := f.blocks[block]
	r := encoding.NewReader(rd.data[:rd.indexOffset], "term block")
	r.Seek(int(ref.offset))
	n := r.Int(r.Remaining())
	if r.Err() == nil && n == 0 {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "term block of field %q is empty", f.info.Name)
	}
	terms := make([]blockTerm, 0, n)
	var prev []byte
	var offset int64
	for i := 0; i < n; i++ {
		shared := r.Int(len(prev))
		suffix := r.LengthPrefixed()
		docFreq := r.Int32()
		extra := r.Uvarint()
		offset += r.Varint()
		length := r.Uvarint()
		if err := r.Err(); err != nil {
			return nil, err
		}
		b := make([]byte, shared+len(suffix))
		copy(b, prev[:shared])
		copy(b[shared:], suffix)
		if i == 0 && !bytes.Equal(b, ref.first) {
			return nil, apperrors.Newf(apperrors.ErrCorruptData, "term block of field %q does not start at its index key", f.info.Name)
		}
		if i > 0 && bytes.Compare(prev, b) >= 0 {
			return nil, apperrors.Newf(apperrors.ErrCorruptData, "term block of field %q not ascending", f.info.Name)
		}
		if docFreq <= 0 {
			return nil, apperrors.Newf(apperrors.ErrCorruptData, "term block of field %q: doc freq %d", f.info.Name, docFreq)
		}
		terms = append(terms, blockTerm{
			bytes: b,
			meta: postings.Meta{
				Offset:        offset,
				Length:        int64(length),
				DocFreq:       docFreq,
				TotalTermFreq: int64(docFreq) + int64(extra),
			},
		})
		prev = b
	}
	return terms, nil
}

func (rd *Reader) openPostings(meta postings.Meta) (postings.Cursor, error) {
	if rd.postings == nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "term dictionary opened without postings")
	}
	return rd.postings.Open(meta)
}
