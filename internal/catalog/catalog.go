// Package catalog persists commit points: the ordered list of segment infos
// that make up the index at one generation.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// ErrConflict is returned by Save when another writer already committed the
// generation.
var ErrConflict = errors.New("catalog: generation already committed")

// Commit is one published state of the index. Segment order is the doc id
// order of the index view.
type Commit struct {
	Generation int64             `json:"generation"`
	Segments   []segment.Info    `json:"segments"`
	UserData   map[string]string `json:"user_data,omitempty"`
}

// Catalog stores commits. Load returns an empty commit of generation zero
// when nothing was ever committed. Save accepts only the generation directly
// after the latest one.
type Catalog interface {
	Load(ctx context.Context) (*Commit, error)
	Save(ctx context.Context, c *Commit) error
}

// Next returns a copy of c with the following generation and segs.
func (c *Commit) Next(segs []segment.Info) *Commit {
	next := &Commit{Generation: c.Generation + 1, Segments: make([]segment.Info, len(segs))}
	for i := range segs {
		next.Segments[i] = *segs[i].Clone()
	}
	if c.UserData != nil {
		next.UserData = make(map[string]string, len(c.UserData))
		for k, v := range c.UserData {
			next.UserData[k] = v
		}
	}
	return next
}

// Files lists every segment file the commit references, sorted.
func (c *Commit) Files() []string {
	var files []string
	for i := range c.Segments {
		files = append(files, c.Segments[i].AllFiles()...)
	}
	slices.Sort(files)
	return files
}

// Segment returns the info named name.
func (c *Commit) Segment(name string) (*segment.Info, bool) {
	for i := range c.Segments {
		if c.Segments[i].Name == name {
			return &c.Segments[i], true
		}
	}
	return nil, false
}

func (c *Commit) validate() error {
	seen := make(map[string]bool, len(c.Segments))
	for _, s := range c.Segments {
		if s.Name == "" {
			return apperrors.New(apperrors.ErrInvalidInput, "commit has an unnamed segment")
		}
		if seen[s.Name] {
			return apperrors.Newf(apperrors.ErrInvalidInput, "segment %s listed twice", s.Name)
		}
		seen[s.Name] = true
		if s.DelCount < 0 || s.DelCount > s.MaxDoc {
			return apperrors.InSegment(s.Name, apperrors.Newf(apperrors.ErrCorruptData, "del count %d of %d docs", s.DelCount, s.MaxDoc))
		}
	}
	return nil
}

func decode(data []byte) (*Commit, error) {
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "decoding commit: %v", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func checkGeneration(latest, c *Commit) error {
	if c.Generation != latest.Generation+1 {
		return fmt.Errorf("%w: have %d, saving %d", ErrConflict, latest.Generation, c.Generation)
	}
	return nil
}
