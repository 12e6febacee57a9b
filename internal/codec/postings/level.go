// Package postings encodes and decodes per-term document lists. A list is
// written once at a declared FeatureLevel by one of a fixed set of named
// formats and read back through a Cursor that refuses to serve data above
// that level.
package postings

import (
	"fmt"
	"math"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// FeatureLevel is the declared richness of a postings list. Levels are
// strictly ordered; each one includes everything below it.
type FeatureLevel uint8

const (
	DocsOnly FeatureLevel = iota
	DocsAndFreqs
	DocsFreqsPositions
	DocsFreqsPositionsOffsets
	DocsFreqsPositionsOffsetsPayloads
)

// MaxLevel is the richest level any format can declare.
const MaxLevel = DocsFreqsPositionsOffsetsPayloads

const (
	// NoMoreDocs is returned by NextDoc and Advance once a cursor is exhausted.
	NoMoreDocs int32 = math.MaxInt32
	// NoMorePositions is returned by NextPosition after the last position of
	// the current document.
	NoMorePositions int32 = math.MaxInt32
)

var levelNames = []string{
	"docs",
	"docs_freqs",
	"docs_freqs_positions",
	"docs_freqs_positions_offsets",
	"docs_freqs_positions_offsets_payloads",
}

func (l FeatureLevel) HasFreqs() bool     { return l >= DocsAndFreqs }
func (l FeatureLevel) HasPositions() bool { return l >= DocsFreqsPositions }
func (l FeatureLevel) HasOffsets() bool   { return l >= DocsFreqsPositionsOffsets }
func (l FeatureLevel) HasPayloads() bool  { return l >= DocsFreqsPositionsOffsetsPayloads }

func (l FeatureLevel) Valid() bool {
	return l <= MaxLevel
}

func (l FeatureLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", uint8(l))
	}
	return levelNames[l]
}

// ParseFeatureLevel accepts the names produced by String.
func ParseFeatureLevel(s string) (FeatureLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return FeatureLevel(i), nil
		}
	}
	return 0, apperrors.Newf(apperrors.ErrInvalidInput, "unknown feature level %q", s)
}

// MinLevel returns the poorer of two levels.
func MinLevel(a, b FeatureLevel) FeatureLevel {
	if a < b {
		return a
	}
	return b
}

func (l FeatureLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *FeatureLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseFeatureLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func unsupported(level FeatureLevel, what string) error {
	return apperrors.Newf(apperrors.ErrUnsupportedFeature, "%s not available at level %s", what, level)
}
