package postings

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// Format is one named postings encoding. The set of formats is fixed; a
// segment records the format id of every block so readers never need to
// guess.
type Format interface {
	Name() string
	ID() byte
	// MaxLevel is the richest level the format can encode.
	MaxLevel() FeatureLevel
	// Encode appends the format-specific body for validated entries.
	Encode(buf *encoding.Buffer, level FeatureLevel, entries []Entry, opts EncodeOptions) error
	// Open returns a cursor over a body produced by Encode.
	Open(body []byte, level FeatureLevel, docFreq int32, totalTermFreq int64) (Cursor, error)
}

// EncodeOptions tunes formats that support it.
type EncodeOptions struct {
	// SkipInterval is the number of documents between skip entries.
	SkipInterval int
}

const DefaultSkipInterval = 16

const (
	DeltaFormatName  = "delta"
	BitmapFormatName = "bitmap"
)

var (
	formats     = map[string]Format{}
	formatsByID = map[byte]Format{}
)

func init() {
	register(deltaFormat{})
	register(bitmapFormat{})
}

func register(f Format) {
	formats[f.Name()] = f
	formatsByID[f.ID()] = f
}

// Lookup returns the named format.
func Lookup(name string) (Format, error) {
	f, ok := formats[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "unknown postings format %q", name)
	}
	return f, nil
}

func byID(id byte) (Format, error) {
	f, ok := formatsByID[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "unknown postings format id %d", id)
	}
	return f, nil
}

// ForLevel returns the named format if it can encode level, otherwise the
// delta format, which encodes every level.
func ForLevel(name string, level FeatureLevel) (Format, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if f.MaxLevel() < level {
		return formats[DeltaFormatName], nil
	}
	return f, nil
}

// Formats lists the registered format names in sorted order.
func Formats() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const (
	blockMagic   = 0xB1
	blockVersion = 1
)

// BlockStats summarises an encoded block.
type BlockStats struct {
	DocFreq       int32
	TotalTermFreq int64
}

// EncodeBlock validates entries and returns a self-describing block:
// magic, version, format id, level, doc count, total term frequency, body.
func EncodeBlock(f Format, level FeatureLevel, entries []Entry, opts EncodeOptions) ([]byte, BlockStats, error) {
	if f.MaxLevel() < level {
		return nil, BlockStats{}, apperrors.Newf(apperrors.ErrUnsupportedFeature,
			"format %s cannot encode level %s", f.Name(), level)
	}
	if err := Validate(level, entries); err != nil {
		return nil, BlockStats{}, err
	}
	stats := BlockStats{DocFreq: int32(len(entries))}
	for _, e := range entries {
		if level.HasFreqs() {
			stats.TotalTermFreq += int64(e.Freq)
		} else {
			stats.TotalTermFreq++
		}
	}
	var buf encoding.Buffer
	buf.Byte(blockMagic)
	buf.Byte(blockVersion)
	buf.Byte(f.ID())
	buf.Byte(byte(level))
	buf.Uvarint(uint64(stats.DocFreq))
	buf.Uvarint(uint64(stats.TotalTermFreq))
	if err := f.Encode(&buf, level, entries, opts); err != nil {
		return nil, BlockStats{}, err
	}
	return buf.Bytes(), stats, nil
}

// OpenBlock parses the block header and returns an unpositioned cursor.
func OpenBlock(data []byte) (Cursor, error) {
	r := encoding.NewReader(data, "postings block")
	magic := r.Byte()
	version := r.Byte()
	id := r.Byte()
	level := FeatureLevel(r.Byte())
	docFreq := r.Int32()
	ttf := r.Uvarint()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if magic != blockMagic {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "postings block: bad magic %#x", magic)
	}
	if version != blockVersion {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "postings block: unsupported version %d", version)
	}
	if !level.Valid() {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "postings block: invalid level %d", level)
	}
	f, err := byID(id)
	if err != nil {
		return nil, err
	}
	if f.MaxLevel() < level {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "postings block: format %s tagged with level %s", f.Name(), level)
	}
	if ttf < uint64(docFreq) || (!level.HasFreqs() && ttf != uint64(docFreq)) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "postings block: total term freq %d for %d docs", ttf, docFreq)
	}
	return f.Open(data[r.Pos():], level, docFreq, int64(ttf))
}
