package sink

import (
	"context"
	"database/sql"
	"errors"
	"log"
)

// TuningPragmas favour write throughput for a single local writer.
var TuningPragmas = []string{
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
	"PRAGMA wal_autocheckpoint=1000;",
	"PRAGMA temp_store=MEMORY;",
}

// ApplySQLitePragmas runs each pragma and logs its result. Failures are
// logged and skipped.
func ApplySQLitePragmas(ctx context.Context, db *sql.DB, pragmas []string) {
	for _, pragma := range pragmas {
		if value, err := applyPragma(ctx, db, pragma); err != nil {
			log.Printf("sqlite: pragma %s failed: %v", pragma, err)
		} else {
			log.Printf("sqlite: pragma %s => %v", pragma, value)
		}
	}
}

func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	row := db.QueryRowContext(ctx, pragma)
	var value any
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				return nil, execErr
			}
			return "ok", nil
		}
		return nil, err
	}
	return value, nil
}
