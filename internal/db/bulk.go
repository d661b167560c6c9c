package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// BulkInsertConfig defines a bulk insert with conflict handling.
type BulkInsertConfig struct {
	Table        string   // target table (e.g. "climate_inequality_regions")
	Columns      []string // columns being inserted
	ConflictKeys []string // columns forming the unique constraint

	// SkipExisting leaves conflicting rows untouched (DO NOTHING) instead
	// of updating them. Region seeding uses this so re-running a seed never
	// clobbers records that were already enriched.
	SkipExisting bool
}

// BulkInsert loads rows via the COPY protocol into a temp table, then moves
// them into the target with INSERT ... ON CONFLICT. Returns the number of
// rows actually written to the target.
func BulkInsert(ctx context.Context, pool Pool, cfg BulkInsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: bulk insert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: bulk insert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: bulk insert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_bulk_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		`CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP`,
		tempTable, cfg.Table,
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: create temp table %s", tempTable)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: COPY INTO %s", tempTable)
	}

	cols := strings.Join(cfg.Columns, ", ")
	conflict := strings.Join(cfg.ConflictKeys, ", ")

	var action string
	if cfg.SkipExisting {
		action = "DO NOTHING"
	} else {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		var sets []string
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
			}
		}
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s`,
		cfg.Table, cols, cols, tempTable, conflict, action,
	)
	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: upsert into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: bulk insert: commit")
	}
	return tag.RowsAffected(), nil
}
