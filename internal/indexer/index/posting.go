package index

import (
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
)

// Field is one value of a document. Tokens are indexed when present and
// Stored is kept verbatim when set. Repeated names continue the previous
// value's positions and offsets.
type Field struct {
	Name      string
	Tokens    []tokenizer.Token
	Stored    *storedfields.Value
	Tokenized bool
}

type Document []Field

// TermEntry is one term and its postings in doc id order.
type TermEntry struct {
	Term    term.Term
	Entries []postings.Entry
}

// Snapshot is everything buffered since the last reset, ready to be
// written as a segment. Terms are in term.Compare order.
type Snapshot struct {
	Fields map[string]postings.FeatureLevel
	Terms  []TermEntry
	Docs   [][]storedfields.Field
}

func (s *Snapshot) NumDocs() int {
	return len(s.Docs)
}
