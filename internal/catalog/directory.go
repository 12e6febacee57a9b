package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

const (
	filePrefix = "segments_"
	fileSuffix = ".json"
	tmpSuffix  = ".tmp"
)

// CommitFile names the catalog file of generation gen.
func CommitFile(gen int64) string {
	return filePrefix + strconv.FormatInt(gen, 10) + fileSuffix
}

// IsCommitFile reports whether name belongs to the directory catalog.
func IsCommitFile(name string) bool {
	return strings.HasPrefix(name, filePrefix)
}

type envelope struct {
	Checksum string          `json:"checksum"`
	Commit   json.RawMessage `json:"commit"`
}

// DirectoryCatalog keeps each commit as segments_<gen>.json next to the
// segment files. A commit becomes visible through a rename, and older
// generations beyond Keep are pruned after a successful save.
type DirectoryCatalog struct {
	dir    storage.Directory
	keep   int
	logger *slog.Logger

	mu sync.Mutex
}

// NewDirectoryCatalog keeps keep generations before the latest one.
func NewDirectoryCatalog(dir storage.Directory, keep int) *DirectoryCatalog {
	if keep < 0 {
		keep = 0
	}
	return &DirectoryCatalog{dir: dir, keep: keep, logger: logger.WithComponent("catalog")}
}

func (d *DirectoryCatalog) generations(ctx context.Context) ([]int64, error) {
	names, err := d.dir.List(ctx, filePrefix)
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}
	var gens []int64
	for _, name := range names {
		if !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		gen, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil || gen <= 0 {
			continue
		}
		gens = append(gens, gen)
	}
	// List sorts by name, not by number.
	slices.Sort(gens)
	return gens, nil
}

func (d *DirectoryCatalog) Load(ctx context.Context) (*Commit, error) {
	gens, err := d.generations(ctx)
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return &Commit{}, nil
	}
	return d.read(ctx, gens[len(gens)-1])
}

func (d *DirectoryCatalog) read(ctx context.Context, gen int64) (*Commit, error) {
	name := CommitFile(gen)
	data, err := storage.ReadAll(ctx, d.dir, name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "%s: %v", name, err)
	}
	if env.Checksum != checksum(env.Commit) {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "%s: checksum mismatch", name)
	}
	c, err := decode(env.Commit)
	if err != nil {
		return nil, err
	}
	if c.Generation != gen {
		return nil, apperrors.Newf(apperrors.ErrCorruptData, "%s holds generation %d", name, c.Generation)
	}
	return c, nil
}

func (d *DirectoryCatalog) Save(ctx context.Context, c *Commit) error {
	if err := c.validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	gens, err := d.generations(ctx)
	if err != nil {
		return err
	}
	latest := &Commit{}
	if len(gens) > 0 {
		latest.Generation = gens[len(gens)-1]
	}
	if err := checkGeneration(latest, c); err != nil {
		return err
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding commit: %w", err)
	}
	data, err := json.Marshal(envelope{Checksum: checksum(body), Commit: body})
	if err != nil {
		return fmt.Errorf("encoding commit: %w", err)
	}
	name := CommitFile(c.Generation)
	if err := storage.WriteAll(ctx, d.dir, name+tmpSuffix, data); err != nil {
		return err
	}
	if err := d.dir.Rename(ctx, name+tmpSuffix, name); err != nil {
		_ = d.dir.Delete(ctx, name+tmpSuffix)
		return fmt.Errorf("publishing %s: %w", name, err)
	}
	d.logger.Info("commit saved", "generation", c.Generation, "segments", len(c.Segments))

	gens = append(gens, c.Generation)
	for _, gen := range gens[:max(0, len(gens)-1-d.keep)] {
		if err := d.dir.Delete(ctx, CommitFile(gen)); err != nil {
			d.logger.Warn("pruning old commit", "generation", gen, "error", err)
		}
	}
	return nil
}

func checksum(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}
