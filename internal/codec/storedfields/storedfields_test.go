package storedfields

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

func sampleDoc(i int) []Field {
	if i%7 == 3 {
		return nil
	}
	return []Field{
		{Name: "id", Value: StringValue(fmt.Sprintf("doc-%d", i)), Flags: Stored | Indexed},
		{Name: "body", Value: StringValue(strings.Repeat("the quick brown fox ", i%5+1)), Flags: Stored | Indexed | Tokenized},
		{Name: "blob", Value: BinaryValue([]byte{0x00, 0xFF, byte(i), 0x00}), Flags: Stored},
		{Name: "n32", Value: Int32Value(int32(-i)), Flags: Stored},
		{Name: "n64", Value: Int64Value(int64(i) << 40), Flags: Stored},
		{Name: "f32", Value: Float32Value(float32(i) / 3), Flags: Stored},
		{Name: "f64", Value: Float64Value(-float64(i) / 7), Flags: Stored},
		{Name: "id", Value: StringValue("second value"), Flags: Stored},
	}
}

func write(t *testing.T, n int, opts WriterOptions) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := NewWriter(&out, opts)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.WriteDocument(sampleDoc(i)))
	}
	assert.Equal(t, int32(n), w.NumDocs())
	require.NoError(t, w.Finish())
	return out.Bytes()
}

func assertFields(t *testing.T, want, got []Field) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "field %d: want %s=%s got %s=%s", i, want[i].Name, want[i].Value, got[i].Name, got[i].Value)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		for _, chunkDocs := range []int{1, 5, 64} {
			t.Run(fmt.Sprintf("%s/%d", comp, chunkDocs), func(t *testing.T) {
				data := write(t, 50, WriterOptions{Compression: comp, ChunkDocs: chunkDocs})
				rd, err := Open(data, ReaderOptions{CacheSize: 4})
				require.NoError(t, err)
				assert.Equal(t, int32(50), rd.MaxDoc())
				for _, i := range []int{0, 49, 3, 17, 17, 25, 1} {
					got, err := rd.ReadDocument(int32(i))
					require.NoError(t, err)
					assertFields(t, sampleDoc(i), got)
				}
			})
		}
	}
}

func TestExactNumerics(t *testing.T) {
	doc := []Field{
		{Name: "a", Value: Int32Value(math.MinInt32)},
		{Name: "b", Value: Int64Value(math.MaxInt64)},
		{Name: "c", Value: Float32Value(float32(math.Inf(-1)))},
		{Name: "d", Value: Float64Value(math.Float64frombits(0x7FF8000000000001))},
		{Name: "e", Value: BinaryValue(nil)},
	}
	var out bytes.Buffer
	w, err := NewWriter(&out, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.WriteDocument(doc))
	require.NoError(t, w.Finish())

	rd, err := Open(out.Bytes(), ReaderOptions{})
	require.NoError(t, err)
	got, err := rd.ReadDocument(0)
	require.NoError(t, err)
	assertFields(t, doc, got)
	assert.Equal(t, KindInt32, got[0].Value.Kind())
	assert.Equal(t, int32(math.MinInt32), got[0].Value.Int32())
	assert.Equal(t, uint64(0x7FF8000000000001), math.Float64bits(got[3].Value.Float64()))
}

func TestOutOfRange(t *testing.T) {
	data := write(t, 3, WriterOptions{})
	rd, err := Open(data, ReaderOptions{})
	require.NoError(t, err)
	_, err = rd.ReadDocument(3)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)
	_, err = rd.ReadDocument(-1)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

	empty := write(t, 0, WriterOptions{})
	rd, err = Open(empty, ReaderOptions{})
	require.NoError(t, err)
	_, err = rd.ReadDocument(0)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)
}

func TestVisitStopsEarly(t *testing.T) {
	data := write(t, 2, WriterOptions{})
	rd, err := Open(data, ReaderOptions{})
	require.NoError(t, err)
	var names []string
	err = rd.VisitDocument(1, func(f Field) error {
		names = append(names, f.Name)
		if f.Name == "blob" {
			return ErrStopVisit
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "body", "blob"}, names)
}

func TestInvalidValueRejected(t *testing.T) {
	var out bytes.Buffer
	w, err := NewWriter(&out, WriterOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, w.WriteDocument([]Field{{Name: "x"}}), apperrors.ErrInvalidInput)
}

func TestCorruptionDetected(t *testing.T) {
	data := write(t, 40, WriterOptions{Compression: CompressionLZ4, ChunkDocs: 8})
	for _, off := range []int{0, 20, len(data) / 2, len(data) - 1} {
		bad := bytes.Clone(data)
		bad[off] ^= 0x10
		_, err := Open(bad, ReaderOptions{})
		assert.ErrorIs(t, err, apperrors.ErrCorruptData, "offset %d", off)
	}
}

type countingObserver struct {
	hits, misses atomic.Int64
}

func (o *countingObserver) StoredCacheHit()  { o.hits.Add(1) }
func (o *countingObserver) StoredCacheMiss() { o.misses.Add(1) }

func TestConcurrentReadsShareCache(t *testing.T) {
	data := write(t, 200, WriterOptions{Compression: CompressionZstd, ChunkDocs: 16})
	obs := &countingObserver{}
	rd, err := Open(data, ReaderOptions{CacheSize: 64, Observer: obs})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				doc := int32((i*7 + g) % 200)
				got, err := rd.ReadDocument(doc)
				if err != nil {
					errs <- err
					return
				}
				want := sampleDoc(int(doc))
				if len(got) != len(want) {
					errs <- fmt.Errorf("doc %d: %d fields, want %d", doc, len(got), len(want))
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1600), obs.hits.Load()+obs.misses.Load())
	assert.Positive(t, obs.hits.Load())
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	_, err := ParseCompression("snappy")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func BenchmarkReadDocument(b *testing.B) {
	var out bytes.Buffer
	w, _ := NewWriter(&out, WriterOptions{Compression: CompressionLZ4})
	for i := 0; i < 10000; i++ {
		if err := w.WriteDocument(sampleDoc(i)); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Finish(); err != nil {
		b.Fatal(err)
	}
	rd, err := Open(out.Bytes(), ReaderOptions{})
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := rd.ReadDocument(int32(i % 10000)); err != nil {
			b.Fatal(err)
		}
	}
}
