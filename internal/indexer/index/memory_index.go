// Package index buffers documents in memory as an inverted index until the
// engine flushes them into a segment.
package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

type buffered struct {
	term    term.Term
	entries []postings.Entry
}

type MemoryIndex struct {
	mu           sync.RWMutex
	levels       map[string]postings.FeatureLevel
	defaultLevel postings.FeatureLevel
	terms        map[string]*buffered
	fields       map[string]postings.FeatureLevel
	docs         [][]storedfields.Field
	size         int64
}

// NewMemoryIndex indexes each field at levels[name], or defaultLevel when
// the field is not listed.
func NewMemoryIndex(levels map[string]postings.FeatureLevel, defaultLevel postings.FeatureLevel) *MemoryIndex {
	m := &MemoryIndex{
		levels:       levels,
		defaultLevel: defaultLevel,
	}
	m.reset()
	return m
}

func (m *MemoryIndex) reset() {
	m.terms = make(map[string]*buffered)
	m.fields = make(map[string]postings.FeatureLevel)
	m.docs = nil
	m.size = 0
}

// Level returns the level field is indexed at.
func (m *MemoryIndex) Level(field string) postings.FeatureLevel {
	if l, ok := m.levels[field]; ok {
		return l
	}
	return m.defaultLevel
}

type fieldState struct {
	pos       int32
	offsetEnd int32
	lastStart int32
}

// AddDocument inverts doc and returns its buffer-local doc id. The document
// is rejected as a whole when any token stream is malformed.
func (m *MemoryIndex) AddDocument(doc Document) (int32, error) {
	termData := make(map[string]*postings.Entry)
	var order []string
	keys := make(map[string]term.Term)
	states := make(map[string]*fieldState)
	var stored []storedfields.Field

	for _, f := range doc {
		if f.Name == "" {
			return 0, apperrors.New(apperrors.ErrInvalidInput, "field without a name")
		}
		if f.Stored != nil {
			flags := storedfields.Stored
			if len(f.Tokens) > 0 {
				flags |= storedfields.Indexed
			}
			if f.Tokenized {
				flags |= storedfields.Tokenized
			}
			stored = append(stored, storedfields.Field{Name: f.Name, Value: *f.Stored, Flags: flags})
		}
		st, ok := states[f.Name]
		if !ok {
			st = &fieldState{pos: -1}
			states[f.Name] = st
		}
		base := st.offsetEnd
		for i, tok := range f.Tokens {
			if tok.PositionIncrement < 0 || (tok.PositionIncrement == 0 && st.pos < 0) {
				return 0, apperrors.Newf(apperrors.ErrInvalidInput, "field %s token %d: position increment %d", f.Name, i, tok.PositionIncrement)
			}
			start, end := base+int32(tok.StartOffset), base+int32(tok.EndOffset)
			if tok.StartOffset < 0 || end < start || start < st.lastStart {
				return 0, apperrors.Newf(apperrors.ErrInvalidInput, "field %s token %d: offsets %d-%d go backwards", f.Name, i, tok.StartOffset, tok.EndOffset)
			}
			st.pos += int32(tok.PositionIncrement)
			st.lastStart = start
			st.offsetEnd = max(st.offsetEnd, end)

			key := f.Name + "\x00" + tok.Text
			e, exists := termData[key]
			if !exists {
				e = &postings.Entry{}
				termData[key] = e
				keys[key] = term.NewTerm(f.Name, tok.Text)
				order = append(order, key)
			}
			// The same term stacked twice on one position is indexed once.
			if n := len(e.Positions); n > 0 && e.Positions[n-1].Position == st.pos {
				continue
			}
			e.Freq++
			p := postings.Position{Position: st.pos, StartOffset: start, EndOffset: end}
			if len(tok.Payload) > 0 {
				p.Payload = append([]byte(nil), tok.Payload...)
			}
			e.Positions = append(e.Positions, p)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docID := int32(len(m.docs))
	for _, key := range order {
		e := termData[key]
		e.DocID = docID
		b, exists := m.terms[key]
		if !exists {
			t := keys[key]
			b = &buffered{term: t}
			m.terms[key] = b
			m.fields[t.Field] = m.Level(t.Field)
			m.size += int64(len(key) + 64)
		}
		b.entries = append(b.entries, *e)
		m.size += int64(len(e.Positions)*16 + 16)
	}
	m.docs = append(m.docs, stored)
	for _, f := range stored {
		m.size += int64(len(f.Name) + len(f.Value.Text()) + len(f.Value.Binary()) + 16)
	}
	return docID, nil
}

// Snapshot copies the buffer out with postings truncated to each field's
// level.
func (m *MemoryIndex) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &Snapshot{
		Fields: make(map[string]postings.FeatureLevel, len(m.fields)),
		Terms:  make([]TermEntry, 0, len(m.terms)),
		Docs:   append([][]storedfields.Field(nil), m.docs...),
	}
	for f, l := range m.fields {
		snap.Fields[f] = l
	}
	for _, b := range m.terms {
		snap.Terms = append(snap.Terms, TermEntry{
			Term:    b.term,
			Entries: postings.Truncate(m.Level(b.term.Field), b.entries),
		})
	}
	sort.Slice(snap.Terms, func(i, j int) bool {
		return term.Compare(snap.Terms[i].Term, snap.Terms[j].Term) < 0
	})
	return snap
}

// Size estimates the buffered bytes.
func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}
