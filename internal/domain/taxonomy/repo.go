package taxonomy

import (
	"context"
	"fmt"
	"regexp"
)

// DefaultTable is the Postgres table holding taxonomy rows.
const DefaultTable = "reference_icd10_taxonomy"

var tablePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// ValidateTable rejects table names that are not plain (optionally
// schema-qualified) SQL identifiers.
func ValidateTable(table string) error {
	if !tablePattern.MatchString(table) {
		return fmt.Errorf("invalid taxonomy table name %q", table)
	}
	return nil
}

// Repository persists taxonomy rows.
type Repository interface {
	// ListRows returns every row in insertion order.
	ListRows(ctx context.Context) ([]Row, error)
	// ReplaceRows atomically replaces the stored taxonomy with rows and
	// returns the number written.
	ReplaceRows(ctx context.Context, rows []Row) (int64, error)
	Table() string
}

// RepositorySource adapts a Repository to the Source interface.
type RepositorySource struct {
	Repo Repository
}

func (s *RepositorySource) Name() string { return "postgres:" + s.Repo.Table() }

func (s *RepositorySource) Rows(ctx context.Context) ([]Row, error) {
	rows, err := s.Repo.ListRows(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, loadErrorf(KindEmpty, "table %s has no rows", s.Repo.Table())
	}
	return rows, nil
}

// Import loads src, validates it and writes the resulting rows to repo. The
// repository is left untouched when the source does not validate.
func Import(ctx context.Context, src Source, repo Repository) (*Tree, int64, error) {
	t, err := Load(ctx, src)
	if err != nil {
		return nil, 0, err
	}
	n, err := repo.ReplaceRows(ctx, t.Rows())
	if err != nil {
		return nil, 0, fmt.Errorf("import taxonomy into %s: %w", repo.Table(), err)
	}
	return t, n, nil
}
