// Package segmenttest builds small segments from whitespace-separated text
// for tests of the segment, multiview and merge packages.
package segmenttest

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

// Doc maps field names to text. Every field is stored verbatim and indexed
// as whitespace-separated tokens. A field missing from the schema is only
// stored.
type Doc map[string]string

// Schema maps indexed field names to their feature level.
type Schema map[string]postings.FeatureLevel

// Postings inverts docs into per-term entries at the schema's levels.
// Positions count tokens, offsets are byte offsets and each position carries
// a one-byte payload holding its index.
func Postings(schema Schema, docs []Doc) ([]term.Term, map[string][]postings.Entry) {
	byTerm := make(map[string][]postings.Entry)
	keys := make(map[string]term.Term)
	for docID, doc := range docs {
		for field, text := range doc {
			level, ok := schema[field]
			if !ok {
				continue
			}
			perDoc := make(map[string]*postings.Entry)
			var order []string
			offset := 0
			for i, tok := range strings.Fields(text) {
				start := strings.Index(text[offset:], tok) + offset
				offset = start + len(tok)
				t := term.NewTerm(field, tok)
				key := t.String()
				keys[key] = t
				e, ok := perDoc[key]
				if !ok {
					e = &postings.Entry{DocID: int32(docID)}
					perDoc[key] = e
					order = append(order, key)
				}
				e.Freq++
				e.Positions = append(e.Positions, postings.Position{
					Position:    int32(i),
					StartOffset: int32(start),
					EndOffset:   int32(offset),
					Payload:     []byte{byte(i)},
				})
			}
			for _, key := range order {
				entry := postings.Truncate(level, []postings.Entry{*perDoc[key]})
				byTerm[key] = append(byTerm[key], entry...)
			}
		}
	}
	terms := make([]term.Term, 0, len(keys))
	for _, t := range keys {
		terms = append(terms, t)
	}
	term.Sort(terms, term.CodePointOrder)
	return terms, byTerm
}

// StoredFields returns the stored form of doc, sorted by field name.
func StoredFields(schema Schema, doc Doc) []storedfields.Field {
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]storedfields.Field, 0, len(names))
	for _, name := range names {
		flags := storedfields.Stored
		if _, ok := schema[name]; ok {
			flags |= storedfields.Indexed | storedfields.Tokenized
		}
		fields = append(fields, storedfields.Field{Name: name, Value: storedfields.StringValue(doc[name]), Flags: flags})
	}
	return fields
}

// Write builds and commits a segment without opening it.
func Write(tb testing.TB, dir storage.Directory, name string, schema Schema, docs []Doc, opts segment.WriterOptions) *segment.Info {
	tb.Helper()
	ctx := context.Background()
	w, err := segment.NewWriter(ctx, dir, name, opts)
	require.NoError(tb, err)
	for field, level := range schema {
		require.NoError(tb, w.SetField(field, level))
	}
	for _, doc := range docs {
		_, err := w.AddDocument(StoredFields(schema, doc))
		require.NoError(tb, err)
	}
	terms, byTerm := Postings(schema, docs)
	for _, t := range terms {
		require.NoError(tb, w.AddTerm(t, byTerm[t.String()]))
	}
	info, err := w.Commit()
	require.NoError(tb, err)
	return info
}

// Build writes a segment and opens it. The reader is closed when the test
// ends unless the test already released it.
func Build(tb testing.TB, dir storage.Directory, name string, schema Schema, docs []Doc) *segment.Reader {
	tb.Helper()
	info := Write(tb, dir, name, schema, docs, segment.WriterOptions{SkipInterval: 2, TermsPerBlock: 4, ChunkDocs: 3})
	r, err := segment.Open(context.Background(), dir, info, segment.Options{})
	require.NoError(tb, err)
	tb.Cleanup(func() {
		if r.RefCount() > 0 {
			_ = r.Close()
		}
	})
	return r
}
