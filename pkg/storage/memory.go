package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryDirectory keeps blobs in memory. Safe for concurrent use.
type MemoryDirectory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryDirectory) OpenInput(_ context.Context, name string) (Input, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	// Blobs are never mutated after Close, so sharing the slice is safe.
	return &memoryInput{data: data}, nil
}

func (m *MemoryDirectory) CreateOutput(_ context.Context, name string) (Output, error) {
	return &memoryOutput{dir: m, name: name}, nil
}

func (m *MemoryDirectory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[name]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, name)
	return nil
}

func (m *MemoryDirectory) Rename(_ context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[from]
	if !ok {
		return ErrNotFound
	}
	m.blobs[to] = data
	delete(m.blobs, from)
	return nil
}

func (m *MemoryDirectory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryDirectory) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[name]
	return ok, nil
}

// Corrupt flips one byte of an existing blob. Test helper for corruption
// handling; it replaces the blob so open inputs keep their old bytes.
func (m *MemoryDirectory) Corrupt(name string, offset int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	if !ok || offset < 0 || offset >= len(data) {
		return false
	}
	corrupted := bytes.Clone(data)
	corrupted[offset] ^= 0xff
	m.blobs[name] = corrupted
	return true
}

// Truncate shortens an existing blob to size bytes.
func (m *MemoryDirectory) Truncate(name string, size int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	if !ok || size < 0 || size > len(data) {
		return false
	}
	m.blobs[name] = bytes.Clone(data[:size])
	return true
}

type memoryInput struct {
	data []byte
}

func (in *memoryInput) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(in.data)) {
		if len(p) == 0 && off == int64(len(in.data)) {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, in.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (in *memoryInput) Size() int64 {
	return int64(len(in.data))
}

func (in *memoryInput) Close() error {
	return nil
}

type memoryOutput struct {
	dir     *MemoryDirectory
	name    string
	buf     bytes.Buffer
	written counter
	done    bool
}

func (out *memoryOutput) Write(p []byte) (int, error) {
	if out.done {
		return 0, io.ErrClosedPipe
	}
	n, err := out.buf.Write(p)
	out.written.add(n)
	return n, err
}

func (out *memoryOutput) Close() error {
	if out.done {
		return nil
	}
	out.done = true
	out.dir.mu.Lock()
	defer out.dir.mu.Unlock()
	out.dir.blobs[out.name] = bytes.Clone(out.buf.Bytes())
	return nil
}

func (out *memoryOutput) Abort() error {
	out.done = true
	out.buf.Reset()
	return nil
}

func (out *memoryOutput) Written() int64 {
	return out.written.n
}
