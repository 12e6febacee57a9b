package term

import (
	"slices"
	"strings"
)

// Term is a (field, bytes) key identifying one indexed value.
type Term struct {
	Field string
	Bytes BytesRef
}

func NewTerm(field, text string) Term {
	return Term{Field: field, Bytes: BytesRefFromString(text)}
}

func NewBinaryTerm(field string, b []byte) Term {
	return Term{Field: field, Bytes: NewBytesRef(b)}
}

func (t Term) Text() string {
	return t.Bytes.String()
}

func (t Term) String() string {
	return t.Field + ":" + t.Bytes.String()
}

// Clone deep-copies the term bytes.
func (t Term) Clone() Term {
	return Term{Field: t.Field, Bytes: t.Bytes.Clone()}
}

func (t Term) Equal(other Term) bool {
	return t.Field == other.Field && t.Bytes.Equal(other.Bytes)
}

// Comparator is a total order over terms returning -1, 0 or +1.
type Comparator func(a, b Term) int

// Compare is the canonical order: ordinal field name, then code-point order
// of the term bytes.
func Compare(a, b Term) int {
	if c := strings.Compare(a.Field, b.Field); c != 0 {
		return c
	}
	return a.Bytes.Compare(b.Bytes)
}

// CompareAsUTF16 keeps the ordinal field order but compares bytes in UTF-16
// code unit order. Compatibility view only.
func CompareAsUTF16(a, b Term) int {
	if c := strings.Compare(a.Field, b.Field); c != 0 {
		return c
	}
	return CompareUTF16(a.Bytes, b.Bytes)
}

var (
	CodePointOrder Comparator = Compare
	UTF16Order     Comparator = CompareAsUTF16
)

// Sort sorts terms in place with cmp; a nil cmp means CodePointOrder.
func Sort(terms []Term, cmp Comparator) {
	if cmp == nil {
		cmp = CodePointOrder
	}
	slices.SortStableFunc(terms, cmp)
}
