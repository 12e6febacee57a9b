// Package tokenizer turns text into token streams for the in-memory index.
// It lower-cases input, splits on non-alphanumeric boundaries, can drop
// stop-words (leaving a position gap) and can apply a simple suffix-based
// stemmer.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is one term occurrence. PositionIncrement is the distance from the
// previous token's position; the first token of a stream sits at
// PositionIncrement-1. Offsets are byte offsets into the analyzed text.
type Token struct {
	Text              string
	PositionIncrement int
	StartOffset       int
	EndOffset         int
	Payload           []byte
}

// Analyzer configures Tokenize.
type Analyzer struct {
	// MinLength drops shorter words without leaving a gap.
	MinLength int
	StopWords bool
	Stem      bool
}

// Standard lower-cases, splits and removes stop-words.
func Standard() Analyzer {
	return Analyzer{MinLength: 1, StopWords: true}
}

// Keyword emits the whole value as a single untouched token.
func Keyword(text string) []Token {
	if text == "" {
		return nil
	}
	return []Token{{Text: text, PositionIncrement: 1, EndOffset: len(text)}}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize breaks text into tokens. A removed stop-word still advances the
// position of the next token.
func (a Analyzer) Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/6)
	inc := 1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isWordRune(r) {
			i += size
			continue
		}
		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if !isWordRune(r) {
				break
			}
			i += size
		}
		word := strings.ToLower(text[start:i])
		if utf8.RuneCountInString(word) < a.MinLength {
			continue
		}
		if _, isStop := stopWords[word]; isStop && a.StopWords {
			inc++
			continue
		}
		if a.Stem {
			word = stem(word)
		}
		tokens = append(tokens, Token{
			Text:              word,
			PositionIncrement: inc,
			StartOffset:       start,
			EndOffset:         i,
		})
		inc = 1
	}
	return tokens
}

// stem applies a simple suffix-stripping stemmer to the given word.
func stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}
