package postings

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// Position is one occurrence of a term inside a document. Offsets and
// payload are only meaningful at the levels that carry them.
type Position struct {
	Position    int32
	StartOffset int32
	EndOffset   int32
	Payload     []byte
}

// Entry is one document of a postings list.
type Entry struct {
	DocID     int32
	Freq      int32
	Positions []Position
}

// Validate checks entries against the ordering rules of level: docIDs
// non-negative and strictly increasing, freq >= 1, positions non-negative and
// strictly increasing with one position per occurrence, start offsets
// non-decreasing and never past their end offset.
func Validate(level FeatureLevel, entries []Entry) error {
	if !level.Valid() {
		return apperrors.Newf(apperrors.ErrInvalidInput, "invalid feature level %d", level)
	}
	prevDoc := int32(-1)
	for i, e := range entries {
		if e.DocID < 0 {
			return apperrors.Newf(apperrors.ErrOutOfOrder, "entry %d: negative doc id %d", i, e.DocID)
		}
		if e.DocID <= prevDoc {
			return apperrors.Newf(apperrors.ErrOutOfOrder, "entry %d: doc id %d after %d", i, e.DocID, prevDoc)
		}
		prevDoc = e.DocID
		if !level.HasFreqs() {
			continue
		}
		if e.Freq < 1 {
			return apperrors.Newf(apperrors.ErrInvalidInput, "doc %d: freq %d must be positive", e.DocID, e.Freq)
		}
		if !level.HasPositions() {
			continue
		}
		if int(e.Freq) != len(e.Positions) {
			return apperrors.Newf(apperrors.ErrInvalidInput, "doc %d: freq %d but %d positions", e.DocID, e.Freq, len(e.Positions))
		}
		prevPos := int32(-1)
		prevStart := int32(0)
		for j, p := range e.Positions {
			if p.Position <= prevPos {
				return apperrors.Newf(apperrors.ErrOutOfOrder, "doc %d position %d: %d after %d", e.DocID, j, p.Position, prevPos)
			}
			prevPos = p.Position
			if !level.HasOffsets() {
				continue
			}
			if p.StartOffset < prevStart {
				return apperrors.Newf(apperrors.ErrOutOfOrder, "doc %d position %d: start offset %d after %d", e.DocID, j, p.StartOffset, prevStart)
			}
			if p.EndOffset < p.StartOffset {
				return apperrors.Newf(apperrors.ErrOutOfOrder, "doc %d position %d: end offset %d before start %d", e.DocID, j, p.EndOffset, p.StartOffset)
			}
			prevStart = p.StartOffset
		}
	}
	return nil
}

// Truncate returns a copy of entries stripped of everything above level.
// Used when re-encoding at a poorer level, e.g. during merge.
func Truncate(level FeatureLevel, entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i].DocID = e.DocID
		if level.HasFreqs() {
			out[i].Freq = e.Freq
		}
		if !level.HasPositions() {
			continue
		}
		out[i].Positions = make([]Position, len(e.Positions))
		for j, p := range e.Positions {
			out[i].Positions[j].Position = p.Position
			if level.HasOffsets() {
				out[i].Positions[j].StartOffset = p.StartOffset
				out[i].Positions[j].EndOffset = p.EndOffset
			}
			if level.HasPayloads() && len(p.Payload) > 0 {
				out[i].Positions[j].Payload = p.Payload
			}
		}
	}
	return out
}

// ReadAll drains a cursor into entries at the cursor's own level. The cursor
// must be unpositioned.
func ReadAll(c Cursor) ([]Entry, error) {
	var entries []Entry
	level := c.Level()
	for {
		doc, err := c.NextDoc()
		if err != nil {
			return nil, err
		}
		if doc == NoMoreDocs {
			return entries, nil
		}
		e, err := ReadEntry(c, level)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
}

// ReadEntry decodes the document the cursor is positioned on, up to level.
func ReadEntry(c Cursor, level FeatureLevel) (Entry, error) {
	e := Entry{DocID: c.DocID()}
	if !level.HasFreqs() {
		return e, nil
	}
	freq, err := c.Freq()
	if err != nil {
		return Entry{}, err
	}
	e.Freq = freq
	if !level.HasPositions() {
		return e, nil
	}
	e.Positions = make([]Position, 0, freq)
	for i := int32(0); i < freq; i++ {
		pos, err := c.NextPosition()
		if err != nil {
			return Entry{}, err
		}
		p := Position{Position: pos}
		if level.HasOffsets() {
			if p.StartOffset, err = c.StartOffset(); err != nil {
				return Entry{}, err
			}
			if p.EndOffset, err = c.EndOffset(); err != nil {
				return Entry{}, err
			}
		}
		if level.HasPayloads() {
			payload, err := c.Payload()
			if err != nil {
				return Entry{}, err
			}
			if len(payload) > 0 {
				p.Payload = append([]byte(nil), payload...)
			}
		}
		e.Positions = append(e.Positions, p)
	}
	return e, nil
}
