package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardTokenize(t *testing.T) {
	got := Standard().Tokenize("The Quick-brown fox, of Zürich")
	assert.Equal(t, []Token{
		{Text: "quick", PositionIncrement: 2, StartOffset: 4, EndOffset: 9},
		{Text: "brown", PositionIncrement: 1, StartOffset: 10, EndOffset: 15},
		{Text: "fox", PositionIncrement: 1, StartOffset: 16, EndOffset: 19},
		{Text: "zürich", PositionIncrement: 2, StartOffset: 24, EndOffset: 31},
	}, got)
}

func TestStemAndMinLength(t *testing.T) {
	a := Analyzer{MinLength: 2, Stem: true}
	var texts []string
	for _, tok := range a.Tokenize("x running jumps relational") {
		texts = append(texts, tok.Text)
	}
	assert.Equal(t, []string{"runn", "jump", "relate"}, texts)
}

func TestKeyword(t *testing.T) {
	assert.Nil(t, Keyword(""))
	assert.Equal(t, []Token{{Text: "New York", PositionIncrement: 1, EndOffset: 8}}, Keyword("New York"))
}

func BenchmarkTokenize(b *testing.B) {
	text := "The quick brown fox jumps over the lazy dog while the cat watches from the window"
	a := Standard()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Tokenize(text)
	}
}
