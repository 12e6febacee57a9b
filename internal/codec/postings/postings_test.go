package postings

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/encoding"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

var allLevels = []FeatureLevel{
	DocsOnly,
	DocsAndFreqs,
	DocsFreqsPositions,
	DocsFreqsPositionsOffsets,
	DocsFreqsPositionsOffsetsPayloads,
}

func randomEntries(rng *rand.Rand, level FeatureLevel, n int) []Entry {
	entries := make([]Entry, 0, n)
	doc := int32(rng.IntN(3))
	for i := 0; i < n; i++ {
		e := Entry{DocID: doc}
		doc += 1 + int32(rng.IntN(40))
		if level.HasFreqs() {
			e.Freq = 1 + int32(rng.IntN(4))
		}
		if level.HasPositions() {
			pos := int32(rng.IntN(3))
			offset := int32(0)
			for j := int32(0); j < e.Freq; j++ {
				p := Position{Position: pos}
				pos += 1 + int32(rng.IntN(5))
				if level.HasOffsets() {
					offset += int32(rng.IntN(8))
					p.StartOffset = offset
					p.EndOffset = offset + int32(rng.IntN(6))
				}
				if level.HasPayloads() && rng.IntN(3) == 0 {
					p.Payload = []byte{byte(rng.IntN(256)), byte(j)}
				}
				e.Positions = append(e.Positions, p)
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func encode(t *testing.T, format string, level FeatureLevel, entries []Entry, skip int) Cursor {
	t.Helper()
	f, err := Lookup(format)
	require.NoError(t, err)
	block, _, err := EncodeBlock(f, level, entries, EncodeOptions{SkipInterval: skip})
	require.NoError(t, err)
	c, err := OpenBlock(block)
	require.NoError(t, err)
	return c
}

func TestCatExample(t *testing.T) {
	entries := []Entry{{DocID: 1, Freq: 3}, {DocID: 4, Freq: 1}}

	c := encode(t, DeltaFormatName, DocsAndFreqs, entries, 0)
	got, err := ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	c = encode(t, DeltaFormatName, DocsAndFreqs, entries, 0)
	doc, err := c.Advance(2)
	require.NoError(t, err)
	assert.Equal(t, int32(4), doc)
	freq, err := c.Freq()
	require.NoError(t, err)
	assert.Equal(t, int32(1), freq)
	doc, err = c.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
	assert.Equal(t, Exhausted, c.State())
}

func TestRoundTripAllLevels(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, level := range allLevels {
		for _, n := range []int{0, 1, 15, 16, 17, 200} {
			entries := randomEntries(rng, level, n)
			for _, skip := range []int{2, 16} {
				c := encode(t, DeltaFormatName, level, entries, skip)
				assert.Equal(t, level, c.Level())
				assert.Equal(t, int64(n), c.Cost())
				got, err := ReadAll(c)
				require.NoError(t, err, "level %s n %d", level, n)
				assert.Equal(t, Truncate(level, entries), got, "level %s n %d", level, n)
			}
		}
	}
}

func TestBitmapFormat(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	entries := randomEntries(rng, DocsOnly, 500)
	c := encode(t, BitmapFormatName, DocsOnly, entries, 0)
	got, err := ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	f, err := Lookup(BitmapFormatName)
	require.NoError(t, err)
	_, _, err = EncodeBlock(f, DocsAndFreqs, nil, EncodeOptions{})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFeature)

	fallback, err := ForLevel(BitmapFormatName, DocsFreqsPositions)
	require.NoError(t, err)
	assert.Equal(t, DeltaFormatName, fallback.Name())
}

func TestAdvanceMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, format := range Formats() {
		entries := randomEntries(rng, DocsOnly, 1000)
		maxDoc := entries[len(entries)-1].DocID + 5
		for trial := 0; trial < 50; trial++ {
			c := encode(t, format, DocsOnly, entries, 8)
			idx := 0
			target := int32(0)
			for {
				target += int32(rng.IntN(200))
				for idx < len(entries) && entries[idx].DocID < target {
					idx++
				}
				doc, err := c.Advance(target)
				require.NoError(t, err)
				if idx == len(entries) || target > maxDoc {
					assert.Equal(t, NoMoreDocs, doc, format)
					break
				}
				require.Equal(t, entries[idx].DocID, doc, "%s target %d", format, target)
				idx++
				target = doc + 1
			}
		}
	}
}

func TestAdvanceToCurrentMovesForward(t *testing.T) {
	entries := []Entry{{DocID: 3}, {DocID: 5}, {DocID: 9}}
	for _, format := range Formats() {
		c := encode(t, format, DocsOnly, entries, 0)
		doc, err := c.Advance(5)
		require.NoError(t, err)
		require.Equal(t, int32(5), doc)
		doc, err = c.Advance(5)
		require.NoError(t, err)
		assert.Equal(t, int32(9), doc, format)
		doc, err = c.Advance(100)
		require.NoError(t, err)
		assert.Equal(t, NoMoreDocs, doc)
		doc, err = c.NextDoc()
		require.NoError(t, err)
		assert.Equal(t, NoMoreDocs, doc)
	}
}

func TestUnsupportedFeature(t *testing.T) {
	c := encode(t, DeltaFormatName, DocsAndFreqs, []Entry{{DocID: 0, Freq: 2}}, 0)
	_, err := c.NextDoc()
	require.NoError(t, err)
	_, err = c.NextPosition()
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFeature)
	_, err = c.StartOffset()
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFeature)
	_, err = c.Payload()
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFeature)

	c = encode(t, DeltaFormatName, DocsOnly, []Entry{{DocID: 0}}, 0)
	_, err = c.NextDoc()
	require.NoError(t, err)
	_, err = c.Freq()
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFeature)

	c = encode(t, DeltaFormatName, DocsFreqsPositions, []Entry{{DocID: 0, Freq: 1, Positions: []Position{{Position: 4}}}}, 0)
	_, err = c.NextDoc()
	require.NoError(t, err)
	_, err = c.NextPosition()
	require.NoError(t, err)
	_, err = c.EndOffset()
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFeature)
}

func TestNotPositioned(t *testing.T) {
	entries := []Entry{{DocID: 2, Freq: 2, Positions: []Position{{Position: 1, StartOffset: 0, EndOffset: 3}, {Position: 5, StartOffset: 10, EndOffset: 12}}}}
	c := encode(t, DeltaFormatName, DocsFreqsPositionsOffsets, entries, 0)
	assert.Equal(t, int32(-1), c.DocID())
	assert.Equal(t, Unpositioned, c.State())
	_, err := c.Freq()
	assert.ErrorIs(t, err, apperrors.ErrNotPositioned)
	_, err = c.NextPosition()
	assert.ErrorIs(t, err, apperrors.ErrNotPositioned)

	_, err = c.NextDoc()
	require.NoError(t, err)
	_, err = c.StartOffset()
	assert.ErrorIs(t, err, apperrors.ErrNotPositioned)

	pos, err := c.NextPosition()
	require.NoError(t, err)
	assert.Equal(t, int32(1), pos)
	pos, err = c.NextPosition()
	require.NoError(t, err)
	assert.Equal(t, int32(5), pos)
	start, err := c.StartOffset()
	require.NoError(t, err)
	assert.Equal(t, int32(10), start)
	pos, err = c.NextPosition()
	require.NoError(t, err)
	assert.Equal(t, NoMorePositions, pos)
	_, err = c.StartOffset()
	assert.ErrorIs(t, err, apperrors.ErrNotPositioned)

	_, err = c.NextDoc()
	require.NoError(t, err)
	_, err = c.Freq()
	assert.ErrorIs(t, err, apperrors.ErrNotPositioned)
}

func TestValidateRejectsOutOfOrder(t *testing.T) {
	tests := []struct {
		name    string
		level   FeatureLevel
		entries []Entry
		want    error
	}{
		{"descending docs", DocsOnly, []Entry{{DocID: 4}, {DocID: 2}}, apperrors.ErrOutOfOrder},
		{"duplicate docs", DocsOnly, []Entry{{DocID: 4}, {DocID: 4}}, apperrors.ErrOutOfOrder},
		{"negative doc", DocsOnly, []Entry{{DocID: -1}}, apperrors.ErrOutOfOrder},
		{"zero freq", DocsAndFreqs, []Entry{{DocID: 1}}, apperrors.ErrInvalidInput},
		{"freq mismatch", DocsFreqsPositions, []Entry{{DocID: 1, Freq: 2, Positions: []Position{{Position: 1}}}}, apperrors.ErrInvalidInput},
		{"descending positions", DocsFreqsPositions, []Entry{{DocID: 1, Freq: 2, Positions: []Position{{Position: 3}, {Position: 3}}}}, apperrors.ErrOutOfOrder},
		{"descending offsets", DocsFreqsPositionsOffsets, []Entry{{DocID: 1, Freq: 2, Positions: []Position{{Position: 1, StartOffset: 5, EndOffset: 6}, {Position: 2, StartOffset: 4, EndOffset: 6}}}}, apperrors.ErrOutOfOrder},
		{"end before start", DocsFreqsPositionsOffsets, []Entry{{DocID: 1, Freq: 1, Positions: []Position{{Position: 1, StartOffset: 5, EndOffset: 4}}}}, apperrors.ErrOutOfOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.level, tt.entries), tt.want)
		})
	}
}

func TestStreamWriterReader(t *testing.T) {
	var out bytes.Buffer
	w, err := NewWriter(&out, Options{Format: BitmapFormatName, SkipInterval: 4})
	require.NoError(t, err)

	docs := []Entry{{DocID: 0}, {DocID: 7}, {DocID: 8}}
	positional := []Entry{{DocID: 3, Freq: 1, Positions: []Position{{Position: 2, Payload: []byte("p")}}}}
	m1, err := w.Write(term.NewTerm("f", "a"), DocsOnly, docs)
	require.NoError(t, err)
	m2, err := w.Write(term.NewTerm("f", "b"), DocsFreqsPositionsOffsetsPayloads, positional)
	require.NoError(t, err)
	_, err = w.Write(term.NewTerm("f", "c"), DocsOnly, []Entry{{DocID: 2}, {DocID: 1}})
	require.ErrorIs(t, err, apperrors.ErrOutOfOrder)
	require.NoError(t, w.Finish())

	assert.Equal(t, int32(3), m1.DocFreq)
	assert.Equal(t, int64(3), m1.TotalTermFreq)
	assert.Equal(t, int64(1), m2.TotalTermFreq)

	data := out.Bytes()
	require.NoError(t, VerifyStream(bytes.NewReader(data), int64(len(data))))
	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	c, err := r.Open(m1)
	require.NoError(t, err)
	got, err := ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, docs, got)

	c, err = r.Open(m2)
	require.NoError(t, err)
	got, err = ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, positional, got)

	_, err = r.Open(Meta{Offset: m2.Offset, Length: int64(len(data))})
	assert.ErrorIs(t, err, apperrors.ErrCorruptData)
}

func TestCorruptBlocks(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	entries := randomEntries(rng, DocsFreqsPositionsOffsetsPayloads, 40)
	f, err := Lookup(DeltaFormatName)
	require.NoError(t, err)
	block, _, err := EncodeBlock(f, DocsFreqsPositionsOffsetsPayloads, entries, EncodeOptions{})
	require.NoError(t, err)

	_, err = OpenBlock(block[:3])
	assert.ErrorIs(t, err, apperrors.ErrCorruptData)

	bad := bytes.Clone(block)
	bad[0] = 0
	_, err = OpenBlock(bad)
	assert.ErrorIs(t, err, apperrors.ErrCorruptData)

	bad = bytes.Clone(block)
	bad[2] = 99
	_, err = OpenBlock(bad)
	assert.ErrorIs(t, err, apperrors.ErrCorruptData)

	// Truncation must surface as corruption, never as a silently short list.
	for cut := 5; cut < len(block); cut += 7 {
		c, err := OpenBlock(block[:cut])
		if err != nil {
			assert.ErrorIs(t, err, apperrors.ErrCorruptData)
			continue
		}
		_, err = ReadAll(c)
		assert.ErrorIs(t, err, apperrors.ErrCorruptData, "cut %d", cut)
	}
}

func TestDeltaSkipDocOutOfRange(t *testing.T) {
	for _, skipDoc := range []uint64{uint64(NoMoreDocs), uint64(NoMoreDocs) + 5} {
		var b encoding.Buffer
		b.Uvarint(1) // skip interval
		b.Uvarint(1) // skip entries
		b.Uvarint(skipDoc)
		b.Uvarint(1)
		b.LengthPrefixed([]byte{0})

		_, err := deltaFormat{}.Open(b.Bytes(), DocsOnly, 3, 3)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrCorruptData)
		assert.ErrorContains(t, err, "out of range")
	}
}

func TestParseFeatureLevel(t *testing.T) {
	for _, level := range allLevels {
		parsed, err := ParseFeatureLevel(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, parsed)
	}
	_, err := ParseFeatureLevel("everything")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.True(t, DocsFreqsPositionsOffsets.HasOffsets())
	assert.False(t, DocsFreqsPositionsOffsets.HasPayloads())
	assert.Equal(t, DocsAndFreqs, MinLevel(DocsFreqsPositions, DocsAndFreqs))
}

func BenchmarkAdvance(b *testing.B) {
	rng := rand.New(rand.NewPCG(4, 4))
	entries := randomEntries(rng, DocsAndFreqs, 100000)
	f, _ := Lookup(DeltaFormatName)
	block, _, err := EncodeBlock(f, DocsAndFreqs, entries, EncodeOptions{})
	if err != nil {
		b.Fatal(err)
	}
	last := entries[len(entries)-1].DocID
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := OpenBlock(block)
		if err != nil {
			b.Fatal(err)
		}
		for target := int32(0); target < last; target += 5000 {
			if _, err := c.Advance(target); err != nil {
				b.Fatal(err)
			}
		}
	}
}
