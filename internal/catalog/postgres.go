package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/postgres"
)

// PostgresCatalog stores commits of one named index in PostgreSQL.
//
// It requires an `index_commits` table, created by EnsureSchema:
//
//	CREATE TABLE index_commits (
//	    index_name   TEXT   NOT NULL,
//	    generation   BIGINT NOT NULL,
//	    data         JSONB  NOT NULL,
//	    committed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (index_name, generation)
//	);
type PostgresCatalog struct {
	db     *postgres.Client
	index  string
	keep   int
	logger *slog.Logger
}

func NewPostgresCatalog(db *postgres.Client, index string, keep int) *PostgresCatalog {
	if keep < 0 {
		keep = 0
	}
	return &PostgresCatalog{
		db:     db,
		index:  index,
		keep:   keep,
		logger: logger.WithComponent("catalog").With("index", index),
	}
}

func (p *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	_, err := p.db.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS index_commits (
			index_name   TEXT   NOT NULL,
			generation   BIGINT NOT NULL,
			data         JSONB  NOT NULL,
			committed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (index_name, generation)
		)`)
	if err != nil {
		return fmt.Errorf("creating index_commits: %w", err)
	}
	return nil
}

func (p *PostgresCatalog) Load(ctx context.Context) (*Commit, error) {
	var data []byte
	err := p.db.DB.QueryRowContext(ctx,
		`SELECT data FROM index_commits WHERE index_name = $1 ORDER BY generation DESC LIMIT 1`,
		p.index,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest commit: %w", err)
	}
	return decode(data)
}

func (p *PostgresCatalog) Save(ctx context.Context, c *Commit) error {
	if err := c.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding commit: %w", err)
	}
	err = p.db.Locked(ctx, "index_commits:"+p.index, func(tx *sql.Tx) error {
		latest := &Commit{}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(generation), 0) FROM index_commits WHERE index_name = $1`,
			p.index,
		).Scan(&latest.Generation); err != nil {
			return fmt.Errorf("querying generation: %w", err)
		}
		if err := checkGeneration(latest, c); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_commits (index_name, generation, data) VALUES ($1, $2, $3)`,
			p.index, c.Generation, data,
		); err != nil {
			if msg, ok := postgres.UniqueViolation(err); ok {
				return fmt.Errorf("%w: %s", ErrConflict, msg)
			}
			return fmt.Errorf("inserting commit: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM index_commits WHERE index_name = $1 AND generation < $2`,
			p.index, c.Generation-int64(p.keep),
		)
		if err != nil {
			return fmt.Errorf("pruning commits: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("commit saved", "generation", c.Generation, "segments", len(c.Segments))
	return nil
}
