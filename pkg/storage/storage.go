// Package storage is the only I/O primitive used by the index: named,
// byte-addressable blobs that are written once through an append-only Output
// and read back through a random-access Input. Backends exist for memory
// (tests), the local file system and MinIO/S3-compatible object stores.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist. It maps to
// os.ErrNotExist so errors.Is works for both.
var ErrNotFound = os.ErrNotExist

// Directory is a flat namespace of immutable blobs.
type Directory interface {
	// OpenInput opens a finished blob for reading.
	OpenInput(ctx context.Context, name string) (Input, error)
	// CreateOutput starts a new blob. The blob only becomes visible under
	// name once Close succeeds; Abort discards it.
	CreateOutput(ctx context.Context, name string) (Output, error)
	Delete(ctx context.Context, name string) error
	Rename(ctx context.Context, from, to string) error
	// List returns the names of all blobs starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, name string) (bool, error)
}

// Input is a random-access reader over one blob. Implementations must be
// safe for concurrent ReadAt calls.
type Input interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Output is an append-only writer for one blob.
type Output interface {
	io.Writer
	// Close finalizes the blob and publishes it.
	Close() error
	// Abort discards everything written so far. Abort after Close is a no-op.
	Abort() error
	// Written reports the number of bytes accepted so far.
	Written() int64
}

// WithOutput creates name, runs fn and finalizes the output when fn succeeds
// or aborts it on any error or panic.
func WithOutput(ctx context.Context, dir Directory, name string, fn func(Output) error) (err error) {
	out, err := dir.CreateOutput(ctx, name)
	if err != nil {
		return fmt.Errorf("creating output %s: %w", name, err)
	}
	done := false
	defer func() {
		if !done {
			_ = out.Abort()
		}
	}()
	if err := fn(out); err != nil {
		return err
	}
	done = true
	if err := out.Close(); err != nil {
		_ = out.Abort()
		return fmt.Errorf("finalizing output %s: %w", name, err)
	}
	return nil
}

// ReadAll reads a whole blob into memory.
func ReadAll(ctx context.Context, dir Directory, name string) ([]byte, error) {
	in, err := dir.OpenInput(ctx, name)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return ReadInput(in)
}

// ReadInput reads the full contents of an already opened input.
func ReadInput(in Input) ([]byte, error) {
	buf := make([]byte, in.Size())
	if len(buf) == 0 {
		return buf, nil
	}
	n, err := in.ReadAt(buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if n != len(buf) {
		return nil, fmt.Errorf("reading input: short read %d of %d: %w", n, len(buf), io.ErrUnexpectedEOF)
	}
	return buf, nil
}

// WriteAll writes data to name as a single blob.
func WriteAll(ctx context.Context, dir Directory, name string, data []byte) error {
	return WithOutput(ctx, dir, name, func(out Output) error {
		_, err := out.Write(data)
		return err
	})
}

// counter tracks bytes written for Output implementations.
type counter struct {
	n int64
}

func (c *counter) add(n int) {
	c.n += int64(n)
}
