package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes how a chunk of rows lands in a keyed table.
type Merge struct {
	Table   string
	Columns []string
	Key     string

	// Keep lists columns whose stored value wins over the incoming one.
	// A NULL stored value is still filled in.
	Keep []string
}

// MergeRows stages rows in a transaction-scoped temp table with COPY and
// folds them into the target with one INSERT ... ON CONFLICT. The chunk is
// applied atomically: any error rolls back every row.
func MergeRows(ctx context.Context, pool Pool, m Merge, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: begin", m.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := m.stageName()
	if _, err := tx.Exec(ctx, m.stageSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: stage", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy %d rows", m.Table, len(rows))
	}
	tag, err := tx.Exec(ctx, m.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: apply", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: commit", m.Table)
	}
	return tag.RowsAffected(), nil
}

func (m Merge) validate() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: table required")
	case len(m.Columns) == 0:
		return eris.Errorf("db: merge %s: columns required", m.Table)
	case m.Key == "":
		return eris.Errorf("db: merge %s: key required", m.Table)
	}
	for _, c := range m.Columns {
		if c == m.Key {
			return nil
		}
	}
	return eris.Errorf("db: merge %s: key %q not in columns", m.Table, m.Key)
}

func (m Merge) stageName() string {
	return "stage_" + strings.ReplaceAll(m.Table, ".", "_")
}

func (m Merge) stageSQL() string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{m.stageName()}.Sanitize(), tableIdent(m.Table))
}

func (m Merge) mergeSQL() string {
	keep := make(map[string]bool, len(m.Keep))
	for _, c := range m.Keep {
		keep[c] = true
	}
	target := tableIdent(m.Table)
	cols := make([]string, len(m.Columns))
	var sets []string
	for i, c := range m.Columns {
		col := pgx.Identifier{c}.Sanitize()
		cols[i] = col
		switch {
		case c == m.Key:
		case keep[c]:
			sets = append(sets, fmt.Sprintf("%s = COALESCE(%s.%s, EXCLUDED.%s)", col, target, col, col))
		default:
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	list := strings.Join(cols, ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		target, list, list, pgx.Identifier{m.stageName()}.Sanitize(),
		pgx.Identifier{m.Key}.Sanitize(), strings.Join(sets, ", "))
}

// tableIdent quotes a table name, splitting an optional schema prefix.
func tableIdent(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}
