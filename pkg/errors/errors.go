// Package errors defines the error taxonomy shared by the index codecs,
// segments, the multi-segment view and the merge engine. Callers match on the
// sentinels with errors.Is; IndexError adds context without hiding them.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfOrder reports postings, positions or terms supplied out of the
	// required ascending order. It is always an upstream bug.
	ErrOutOfOrder = errors.New("out of order")
	// ErrUnsupportedFeature reports a request for data above the feature
	// level a postings block was encoded with.
	ErrUnsupportedFeature = errors.New("unsupported feature")
	// ErrCorruptData reports a checksum or format mismatch on read.
	ErrCorruptData = errors.New("corrupt data")
	// ErrOutOfRange reports a document id outside a segment's bounds.
	ErrOutOfRange = errors.New("out of range")
	// ErrNotPositioned reports a cursor operation invoked in the wrong state.
	ErrNotPositioned = errors.New("not positioned")

	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("closed")
	ErrMergeAborted = errors.New("merge aborted")
	ErrNotFound     = errors.New("not found")
)

// IndexError wraps one of the sentinels with a message and, when known, the
// segment the failure belongs to.
type IndexError struct {
	Err     error
	Message string
	Segment string
}

func (e *IndexError) Error() string {
	if e.Segment != "" {
		return fmt.Sprintf("%s: segment %s: %s", e.Err.Error(), e.Segment, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *IndexError {
	return &IndexError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *IndexError {
	return &IndexError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// InSegment attaches a segment name to err. Errors that are already
// attributed to a segment are returned unchanged.
func InSegment(segment string, err error) error {
	if err == nil {
		return nil
	}
	var idxErr *IndexError
	if errors.As(err, &idxErr) {
		if idxErr.Segment != "" {
			return err
		}
		return &IndexError{
			Err:     idxErr.Err,
			Message: idxErr.Message,
			Segment: segment,
		}
	}
	return fmt.Errorf("segment %s: %w", segment, err)
}

// SegmentOf returns the segment name attached to err, if any.
func SegmentOf(err error) string {
	var idxErr *IndexError
	if errors.As(err, &idxErr) {
		return idxErr.Segment
	}
	return ""
}

// IsCorrupt reports whether err is, or wraps, ErrCorruptData.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptData)
}

// Retryable reports whether an outer scheduler may attempt the failed
// operation again with fresh inputs. Programming errors and corruption are
// never retried.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrOutOfOrder),
		errors.Is(err, ErrUnsupportedFeature),
		errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrNotPositioned),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrCorruptData),
		errors.Is(err, ErrClosed):
		return false
	default:
		return true
	}
}
