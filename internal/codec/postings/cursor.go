package postings

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// CursorState is the position of a cursor in its state machine.
type CursorState uint8

const (
	Unpositioned CursorState = iota
	Positioned
	Exhausted
)

func (s CursorState) String() string {
	switch s {
	case Unpositioned:
		return "unpositioned"
	case Positioned:
		return "positioned"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Cursor iterates one postings list. A cursor starts Unpositioned with
// DocID -1; NextDoc or Advance moves it to Positioned, and reaching the end
// moves it to Exhausted where DocID is NoMoreDocs. Cursors are not safe for
// concurrent use; open one per goroutine.
type Cursor interface {
	DocID() int32
	NextDoc() (int32, error)
	// Advance moves to the first document >= target that lies after the
	// current one and returns it, or NoMoreDocs.
	Advance(target int32) (int32, error)
	Freq() (int32, error)
	// NextPosition returns the next position of the current document, or
	// NoMorePositions once all Freq positions have been read.
	NextPosition() (int32, error)
	StartOffset() (int32, error)
	EndOffset() (int32, error)
	Payload() ([]byte, error)
	// Cost is the number of documents in the list.
	Cost() int64
	Level() FeatureLevel
	State() CursorState
}

func notPositioned(op string, state CursorState) error {
	return apperrors.Newf(apperrors.ErrNotPositioned, "%s on %s postings cursor", op, state)
}

// cursorBase holds the state shared by every format's cursor: the doc
// state machine and the decoded positions of the current document.
type cursorBase struct {
	level   FeatureLevel
	state   CursorState
	doc     int32
	freq    int32
	docFreq int32
	posIdx  int
	pos     []Position
}

func (c *cursorBase) reset(level FeatureLevel, docFreq int32) {
	c.level = level
	c.docFreq = docFreq
	c.state = Unpositioned
	c.doc = -1
}

func (c *cursorBase) DocID() int32 {
	return c.doc
}

func (c *cursorBase) Level() FeatureLevel {
	return c.level
}

func (c *cursorBase) State() CursorState {
	return c.state
}

func (c *cursorBase) Cost() int64 {
	return int64(c.docFreq)
}

func (c *cursorBase) exhaust() int32 {
	c.state = Exhausted
	c.doc = NoMoreDocs
	c.freq = 0
	c.pos = c.pos[:0]
	c.posIdx = 0
	return NoMoreDocs
}

func (c *cursorBase) Freq() (int32, error) {
	if !c.level.HasFreqs() {
		return 0, unsupported(c.level, "freq")
	}
	if c.state != Positioned {
		return 0, notPositioned("Freq", c.state)
	}
	return c.freq, nil
}

func (c *cursorBase) NextPosition() (int32, error) {
	if !c.level.HasPositions() {
		return 0, unsupported(c.level, "positions")
	}
	if c.state != Positioned {
		return 0, notPositioned("NextPosition", c.state)
	}
	if c.posIdx >= len(c.pos) {
		c.posIdx = len(c.pos) + 1
		return NoMorePositions, nil
	}
	c.posIdx++
	return c.pos[c.posIdx-1].Position, nil
}

// current returns the position last returned by NextPosition.
func (c *cursorBase) current(op string, need func(FeatureLevel) bool, what string) (*Position, error) {
	if !need(c.level) {
		return nil, unsupported(c.level, what)
	}
	if c.state != Positioned || c.posIdx == 0 || c.posIdx > len(c.pos) {
		return nil, apperrors.Newf(apperrors.ErrNotPositioned, "%s without a current position", op)
	}
	return &c.pos[c.posIdx-1], nil
}

func (c *cursorBase) StartOffset() (int32, error) {
	p, err := c.current("StartOffset", FeatureLevel.HasOffsets, "offsets")
	if err != nil {
		return 0, err
	}
	return p.StartOffset, nil
}

func (c *cursorBase) EndOffset() (int32, error) {
	p, err := c.current("EndOffset", FeatureLevel.HasOffsets, "offsets")
	if err != nil {
		return 0, err
	}
	return p.EndOffset, nil
}

// Payload returns the payload of the current position; nil when it has
// none. The slice aliases the encoded block and must not be modified.
func (c *cursorBase) Payload() ([]byte, error) {
	p, err := c.current("Payload", FeatureLevel.HasPayloads, "payloads")
	if err != nil {
		return nil, err
	}
	return p.Payload, nil
}
