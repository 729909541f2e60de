package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/chatdump/internal/core"
)

const schema = `CREATE TABLE IF NOT EXISTS events (
  session_id TEXT NOT NULL,
  event_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  kind TEXT NOT NULL,
  command TEXT NOT NULL DEFAULT '',
  occurred_at TEXT NOT NULL,
  server_ts TEXT NOT NULL,
  offset_ms INTEGER NOT NULL DEFAULT 0,
  channel_id TEXT NOT NULL DEFAULT '',
  platform_msg_id TEXT NOT NULL DEFAULT '',
  author_id TEXT NOT NULL DEFAULT '',
  author_login TEXT NOT NULL DEFAULT '',
  author_name TEXT NOT NULL DEFAULT '',
  body TEXT NOT NULL DEFAULT '',
  fragments_json TEXT NOT NULL DEFAULT '[]',
  emotes_json TEXT NOT NULL DEFAULT '[]',
  badges_json TEXT NOT NULL DEFAULT '[]',
  colour TEXT NOT NULL DEFAULT '',
  is_action INTEGER NOT NULL DEFAULT 0,
  notice_id TEXT NOT NULL DEFAULT '',
  raw TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (session_id, event_id)
);`

// SQLiteArchive stores every recorded event. Inserts are idempotent on
// (session_id, event_id) so a batch may be offered more than once.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenSQLite opens or creates the archive at path. tuning applies
// TuningPragmas after the schema is in place.
func OpenSQLite(path string, tuning bool) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if tuning {
		ApplySQLitePragmas(context.Background(), db, TuningPragmas)
	}
	return &SQLiteArchive{db: db}, nil
}

func (s *SQLiteArchive) Close() error { return s.db.Close() }

func (s *SQLiteArchive) RawDB() *sql.DB { return s.db }

func (s *SQLiteArchive) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteArchive) String() string {
	return fmt.Sprintf("SQLiteArchive{%p}", s.db)
}

// WriteBatch inserts events in one transaction.
func (s *SQLiteArchive) WriteBatch(ctx context.Context, sessionID string, events []core.ChatEvent) error {
	if len(events) == 0 {
		return nil
	}
	const q = `INSERT INTO events (session_id, event_id, seq, kind, command, occurred_at, server_ts, offset_ms,
  channel_id, platform_msg_id, author_id, author_login, author_name, body,
  fragments_json, emotes_json, badges_json, colour, is_action, notice_id, raw)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, event_id) DO NOTHING;`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, ev := range events {
		isAction := 0
		if ev.IsAction {
			isAction = 1
		}
		_, err := stmt.ExecContext(ctx,
			sessionID, ev.ID, ev.Seq, string(ev.Kind), ev.Command,
			ev.OccurredAt.UTC().Format(time.RFC3339Nano),
			ev.ServerTimestamp.UTC().Format(time.RFC3339Nano),
			ev.Offset.Milliseconds(),
			ev.ChannelID, ev.PlatformMsgID, ev.AuthorID, ev.AuthorLogin, ev.AuthorName, ev.Body,
			encodeJSON(fragmentRows(ev.Fragments), "[]"),
			encodeJSON(ev.Emotes, "[]"),
			encodeJSON(ev.Badges, "[]"),
			ev.Colour, isAction, ev.NoticeID, ev.Raw,
		)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "insert event %s", ev.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// CountEvents returns the number of archived events for sessionID, or for
// every session when sessionID is empty.
func (s *SQLiteArchive) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	query := "SELECT COUNT(*) FROM events"
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query+";", args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

// ListEvents returns archived events for sessionID in recording order.
func (s *SQLiteArchive) ListEvents(ctx context.Context, sessionID string, limit int) ([]core.ChatEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, seq, kind, command, occurred_at, server_ts, offset_ms,
  channel_id, platform_msg_id, author_id, author_login, author_name, body,
  fragments_json, emotes_json, badges_json, colour, is_action, notice_id, raw
FROM events WHERE session_id = ? ORDER BY seq ASC LIMIT ?;`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var out []core.ChatEvent
	for rows.Next() {
		var (
			ev                        core.ChatEvent
			kind, occurred, serverTS  string
			offsetMS                  int64
			fragsJSON, emotes, badges string
			isAction                  int
		)
		if err := rows.Scan(&ev.ID, &ev.Seq, &kind, &ev.Command, &occurred, &serverTS, &offsetMS,
			&ev.ChannelID, &ev.PlatformMsgID, &ev.AuthorID, &ev.AuthorLogin, &ev.AuthorName, &ev.Body,
			&fragsJSON, &emotes, &badges, &ev.Colour, &isAction, &ev.NoticeID, &ev.Raw); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		ev.Kind = core.EventKind(kind)
		ev.IsAction = isAction != 0
		ev.Offset = time.Duration(offsetMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, occurred); err == nil {
			ev.OccurredAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, serverTS); err == nil {
			ev.ServerTimestamp = t
		}
		var frags []fragmentRow
		_ = json.Unmarshal([]byte(fragsJSON), &frags)
		for _, f := range frags {
			ev.Fragments = append(ev.Fragments, core.Fragment{Text: f.Text, EmoteID: f.EmoteID})
		}
		_ = json.Unmarshal([]byte(emotes), &ev.Emotes)
		_ = json.Unmarshal([]byte(badges), &ev.Badges)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate events")
	}
	return out, nil
}

type fragmentRow struct {
	Text    string `json:"text"`
	EmoteID string `json:"emote_id,omitempty"`
}

func fragmentRows(frags []core.Fragment) []fragmentRow {
	out := make([]fragmentRow, 0, len(frags))
	for _, f := range frags {
		out = append(out, fragmentRow{Text: f.Text, EmoteID: f.EmoteID})
	}
	return out
}

func encodeJSON(v any, def string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return def
	}
	return string(data)
}
