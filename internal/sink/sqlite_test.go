package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/you/chatdump/internal/core"
)

func openTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "archive.db"), true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteArchiveWriteBatchIsIdempotent(t *testing.T) {
	db := openTestArchive(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []core.ChatEvent{
		{
			ID: "uid_1", Seq: 1, Kind: core.KindMessage, Command: "PRIVMSG",
			OccurredAt: at, ServerTimestamp: at, Offset: 1500 * time.Millisecond,
			AuthorID: "1", AuthorLogin: "foo", AuthorName: "Foo", Colour: "#FF0000",
			Body:      "Kappa hello",
			Fragments: []core.Fragment{{Text: "Kappa", EmoteID: "25"}, {Text: " hello"}},
			Emotes:    []core.EmoteSpan{{ID: "25", Begin: 0, End: 4}},
			Badges:    []core.Badge{{ID: "subscriber", Version: "3"}},
		},
		{ID: "uid_2", Seq: 2, Kind: core.KindRoomState, Command: "ROOMSTATE", OccurredAt: at, ServerTimestamp: at, Raw: ":tmi.twitch.tv ROOMSTATE #bar"},
	}

	if err := db.WriteBatch(ctx, "s1", events); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := db.WriteBatch(ctx, "s1", events); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := db.WriteBatch(ctx, "s2", events[:1]); err != nil {
		t.Fatalf("write other session: %v", err)
	}

	n, err := db.CountEvents(ctx, "s1")
	if err != nil || n != 2 {
		t.Fatalf("count s1 = %d, %v", n, err)
	}
	if total, _ := db.CountEvents(ctx, ""); total != 3 {
		t.Fatalf("count all = %d", total)
	}

	got, err := db.ListEvents(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("listed %d events", len(got))
	}
	first := got[0]
	if first.Body != "Kappa hello" || first.AuthorName != "Foo" || first.Offset != 1500*time.Millisecond {
		t.Fatalf("first = %+v", first)
	}
	if len(first.Fragments) != 2 || first.Fragments[0].EmoteID != "25" {
		t.Fatalf("fragments = %+v", first.Fragments)
	}
	if len(first.Badges) != 1 || first.Badges[0].Version != "3" {
		t.Fatalf("badges = %+v", first.Badges)
	}
	if got[1].Kind != core.KindRoomState || got[1].Raw == "" {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestSQLiteArchiveEmptyBatch(t *testing.T) {
	db := openTestArchive(t)
	if err := db.WriteBatch(context.Background(), "s", nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
