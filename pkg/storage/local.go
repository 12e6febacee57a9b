package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tmpSuffix = ".tmp"

// LocalDirectory stores blobs as files under a root directory. Outputs are
// written to a .tmp file, fsynced and renamed into place on Close.
type LocalDirectory struct {
	root string
}

// NewLocalDirectory creates root if needed and removes stale .tmp files left
// behind by an interrupted writer.
func NewLocalDirectory(root string) (*LocalDirectory, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), tmpSuffix) {
			_ = os.Remove(filepath.Join(root, entry.Name()))
		}
	}
	return &LocalDirectory{root: root}, nil
}

func (d *LocalDirectory) Root() string {
	return d.root
}

func (d *LocalDirectory) path(name string) string {
	return filepath.Join(d.root, name)
}

func (d *LocalDirectory) OpenInput(_ context.Context, name string) (Input, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	return &fileInput{file: f, size: info.Size()}, nil
}

func (d *LocalDirectory) CreateOutput(_ context.Context, name string) (Output, error) {
	finalPath := d.path(name)
	tmpPath := finalPath + tmpSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	return &fileOutput{file: f, tmpPath: tmpPath, finalPath: finalPath}, nil
}

func (d *LocalDirectory) Delete(_ context.Context, name string) error {
	if err := os.Remove(d.path(name)); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

func (d *LocalDirectory) Rename(_ context.Context, from, to string) error {
	if err := os.Rename(d.path(from), d.path(to)); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", from, to, err)
	}
	return syncDir(d.root)
}

func (d *LocalDirectory) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", d.root, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, tmpSuffix) || !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *LocalDirectory) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(d.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

type fileInput struct {
	file *os.File
	size int64
}

func (in *fileInput) ReadAt(p []byte, off int64) (int, error) {
	return in.file.ReadAt(p, off)
}

func (in *fileInput) Size() int64 {
	return in.size
}

func (in *fileInput) Close() error {
	return in.file.Close()
}

type fileOutput struct {
	file      *os.File
	tmpPath   string
	finalPath string
	written   counter
	done      bool
}

func (out *fileOutput) Write(p []byte) (int, error) {
	n, err := out.file.Write(p)
	out.written.add(n)
	return n, err
}

func (out *fileOutput) Close() error {
	if out.done {
		return nil
	}
	out.done = true
	if err := out.file.Sync(); err != nil {
		out.file.Close()
		os.Remove(out.tmpPath)
		return fmt.Errorf("syncing %s: %w", out.finalPath, err)
	}
	if err := out.file.Close(); err != nil {
		os.Remove(out.tmpPath)
		return fmt.Errorf("closing %s: %w", out.finalPath, err)
	}
	if err := os.Rename(out.tmpPath, out.finalPath); err != nil {
		os.Remove(out.tmpPath)
		return fmt.Errorf("renaming %s: %w", out.finalPath, err)
	}
	return syncDir(filepath.Dir(out.finalPath))
}

func (out *fileOutput) Abort() error {
	if out.done {
		return nil
	}
	out.done = true
	out.file.Close()
	if err := os.Remove(out.tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", out.tmpPath, err)
	}
	return nil
}

func (out *fileOutput) Written() int64 {
	return out.written.n
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory %s: %w", dir, err)
	}
	defer f.Close()
	// Some platforms reject fsync on directories; the rename already happened.
	_ = f.Sync()
	return nil
}
