// Package segment ties one dictionary, postings and stored-fields triple
// into an immutable unit, plus the live-docs overlay that records deletions
// without touching the encoded data.
package segment

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/postings"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/codec/storedfields"
)

// File extensions of the streams making up a segment.
const (
	DictionaryExt   = ".tdi"
	PostingsExt     = ".pst"
	StoredFieldsExt = ".fdt"
	LiveDocsExt     = ".liv"
)

// FieldInfo describes one indexed field. The level is fixed for the life of
// the segment.
type FieldInfo struct {
	Name   string                `json:"name"`
	Level  postings.FeatureLevel `json:"level"`
	Format string                `json:"format"`
}

// Info is the persisted description of a segment. It carries no timestamps
// so identical inputs produce identical infos.
type Info struct {
	Name        string                   `json:"name"`
	MaxDoc      int32                    `json:"max_doc"`
	DelGen      int64                    `json:"del_gen"`
	DelCount    int32                    `json:"del_count"`
	Fields      []FieldInfo              `json:"fields"`
	Compression storedfields.Compression `json:"compression"`
	Files       []string                 `json:"files"`
}

// NamePrefix starts every generated segment name.
const NamePrefix = "seg_"

// NewName returns a fresh unique segment name.
func NewName() string {
	return NamePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func DictionaryFile(name string) string   { return name + DictionaryExt }
func PostingsFile(name string) string     { return name + PostingsExt }
func StoredFieldsFile(name string) string { return name + StoredFieldsExt }

// LiveDocsFile names the deletions file of generation gen.
func LiveDocsFile(name string, gen int64) string {
	return fmt.Sprintf("%s_%d%s", name, gen, LiveDocsExt)
}

func (i *Info) NumDocs() int32 {
	return i.MaxDoc - i.DelCount
}

// LiveDocsFile returns the current deletions file, or "" when the segment
// has never had deletions persisted.
func (i *Info) LiveDocsFile() string {
	if i.DelGen == 0 {
		return ""
	}
	return LiveDocsFile(i.Name, i.DelGen)
}

// AllFiles lists the core files plus the current deletions file.
func (i *Info) AllFiles() []string {
	files := slices.Clone(i.Files)
	if f := i.LiveDocsFile(); f != "" {
		files = append(files, f)
	}
	return files
}

func (i *Info) Field(name string) (FieldInfo, bool) {
	for _, f := range i.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldInfo{}, false
}

func (i *Info) Clone() *Info {
	c := *i
	c.Fields = slices.Clone(i.Fields)
	c.Files = slices.Clone(i.Files)
	return &c
}

// SizeHint orders segments for merge selection when byte sizes are unknown.
func (i *Info) SizeHint() int64 {
	return int64(i.NumDocs())
}
