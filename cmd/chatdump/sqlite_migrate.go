package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

const archiveUserVersion = 2

// addedColumns were introduced after the first archive layout.
var addedColumns = []struct {
	name string
	ddl  string
}{
	{"offset_ms", `ALTER TABLE events ADD COLUMN offset_ms INTEGER NOT NULL DEFAULT 0;`},
	{"is_action", `ALTER TABLE events ADD COLUMN is_action INTEGER NOT NULL DEFAULT 0;`},
	{"notice_id", `ALTER TABLE events ADD COLUMN notice_id TEXT NOT NULL DEFAULT '';`},
	{"raw", `ALTER TABLE events ADD COLUMN raw TEXT NOT NULL DEFAULT '';`},
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}

	log.Printf("chatdump: sqlite: path=%s user_version=%d", path, userVersion)

	columns, err := sqliteTableInfo(ctx, db, "events")
	if err != nil {
		return fmt.Errorf("sqlite: describe events: %w", err)
	}
	if len(columns) == 0 {
		log.Printf("chatdump: sqlite: events table missing; skipping migration")
		return nil
	}

	for _, col := range addedColumns {
		if _, ok := columns[col.name]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("sqlite: ensure %s column: %w", col.name, err)
		}
		log.Printf("chatdump: sqlite: added %s column to events", col.name)
	}

	normalize := []struct {
		query string
		label string
	}{
		{`UPDATE events SET fragments_json='[]' WHERE fragments_json IS NULL;`, "fragments_json"},
		{`UPDATE events SET emotes_json='[]' WHERE emotes_json IS NULL;`, "emotes_json"},
		{`UPDATE events SET badges_json='[]' WHERE badges_json IS NULL;`, "badges_json"},
	}
	for _, step := range normalize {
		res, execErr := db.ExecContext(ctx, step.query)
		if execErr != nil {
			return fmt.Errorf("sqlite: normalize %s: %w", step.label, execErr)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Printf("chatdump: sqlite: normalized %s nulls=%d", step.label, n)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS events_session_seq
        ON events(session_id, seq);`); err != nil {
		return fmt.Errorf("sqlite: ensure events_session_seq: %w", err)
	}

	hasIndex, err := sqliteHasIndex(ctx, db, "events", "events_session_seq")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}

	if userVersion < archiveUserVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version=%d;`, archiveUserVersion)); err != nil {
			return fmt.Errorf("sqlite: set user_version: %w", err)
		}
	}

	var sessions, events int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT session_id), COUNT(*) FROM events;`).Scan(&sessions, &events); err != nil {
		return fmt.Errorf("sqlite: count events: %w", err)
	}

	log.Printf("chatdump: sqlite: events_session_seq=%v sessions=%d events=%d user_version=%d",
		hasIndex, sessions, events, max(userVersion, archiveUserVersion))

	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	if err := rows.Err(); err != nil {
		return "(unknown)"
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var userVersion int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return 0, err
	}
	return userVersion, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		lower := strings.ToLower(strings.TrimSpace(name))
		out[lower] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return false, nil
}
