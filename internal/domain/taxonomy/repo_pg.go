package taxonomy

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/digiscribe/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type repoPG struct {
	pool  *pgxpool.Pool
	table pgx.Identifier
	name  string
}

// NewRepoPG returns a Repository backed by table. The name must pass
// ValidateTable.
func NewRepoPG(pool *pgxpool.Pool, table string) (Repository, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	return &repoPG{pool: pool, table: pgx.Identifier(strings.Split(table, ".")), name: table}, nil
}

func (r *repoPG) Table() string { return r.name }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) ListRows(ctx context.Context) ([]Row, error) {
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT id, COALESCE(code,''), description, COALESCE(parent_id,''), COALESCE(keywords,'{}')
		 FROM %s ORDER BY ord, id`, r.table.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("taxonomy list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.Code, &row.Description, &row.Parent, &row.Keywords); err != nil {
			return nil, fmt.Errorf("taxonomy scan: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repoPG) ReplaceRows(ctx context.Context, rows []Row) (int64, error) {
	var copied int64
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM "+r.table.Sanitize()); err != nil {
			return fmt.Errorf("clear %s: %w", r.name, err)
		}
		n, err := tx.CopyFrom(ctx, r.table,
			[]string{"id", "code", "description", "parent_id", "keywords", "ord"},
			pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
				row := rows[i]
				return []interface{}{
					row.key(), nullable(row.Code), row.Description, nullable(row.Parent), keywordsOrEmpty(row.Keywords), i,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy into %s: %w", r.name, err)
		}
		copied = n
		return nil
	})
	return copied, err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func keywordsOrEmpty(kws []string) []string {
	if kws == nil {
		return []string{}
	}
	return kws
}
