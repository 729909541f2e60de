package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/you/chatdump/internal/chat"
	"github.com/you/chatdump/internal/checkpoint"
	"github.com/you/chatdump/internal/twitchirc"
)

const kappaLine = "@badge-info=;badges=subscriber/3;color=#FF0000;display-name=Foo;emotes=25:0-4;user-id=1 :foo!foo@foo.tmi.example.com PRIVMSG #bar :Kappa hello"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type step struct {
	lines   []string
	err     error
	advance time.Duration
	hook    func()
}

type fakeSource struct {
	clock      *fakeClock
	steps      []step
	pos        int
	connectErr error
	connects   int
	reconnects []string
	closed     bool
	done       func()
}

func (f *fakeSource) Connect(context.Context) error {
	f.connects++
	return f.connectErr
}

func (f *fakeSource) Next(time.Duration) ([]string, error) {
	if f.pos >= len(f.steps) {
		if f.done != nil {
			f.done()
		}
		return nil, twitchirc.ErrIdle
	}
	s := f.steps[f.pos]
	f.pos++
	f.clock.now = f.clock.now.Add(s.advance)
	if s.hook != nil {
		s.hook()
	}
	return s.lines, s.err
}

func (f *fakeSource) Reconnect(_ context.Context, reason string) error {
	f.reconnects = append(f.reconnects, reason)
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type harness struct {
	sess   *Session
	clock  *fakeClock
	store  *checkpoint.Store
	path   string
	driver *Driver
}

func newHarness(t *testing.T, src *fakeSource) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	src.clock = clock
	sess := New("#Bar", clock.now)
	path := filepath.Join(t.TempDir(), "bar.json")
	store, err := checkpoint.New(checkpoint.Options{
		SnapshotPath: path,
		Interval:     60 * time.Second,
		SessionID:    sess.ID,
		Channel:      sess.Channel,
		Start:        sess.StartedAt,
		Now:          clock.Now,
	})
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	tr := chat.NewTranslator(sess.StartedAt, "", clock.Now)
	d := NewDriver(sess, src, tr, store, Options{ReadTimeout: time.Millisecond, StatsEvery: 2, Now: clock.Now})
	if src.done == nil {
		src.done = sess.Stop
	}
	return &harness{sess: sess, clock: clock, store: store, path: path, driver: d}
}

func readComments(t *testing.T, path string) []checkpoint.Comment {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap checkpoint.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap.Comments
}

func TestDriverRecordsMessagesAndFlushesOnStop(t *testing.T) {
	src := &fakeSource{steps: []step{
		{lines: []string{kappaLine, "garbage line", ":tmi.twitch.tv 001 justinfan1 :Welcome"}},
		{err: twitchirc.ErrIdle, advance: 5 * time.Second},
		{lines: []string{"@room-id=77 :tmi.twitch.tv ROOMSTATE #bar"}},
	}}
	h := newHarness(t, src)

	if err := h.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	comments := readComments(t, h.path)
	if len(comments) != 1 {
		t.Fatalf("comments = %d", len(comments))
	}
	c := comments[0]
	if c.Commenter.DisplayName != "Foo" || c.Message.Body != "Kappa hello" {
		t.Fatalf("comment = %+v", c)
	}
	if len(c.Message.Fragments) != 2 || c.Message.Fragments[0].Emoticon == nil || c.Message.Fragments[0].Emoticon.EmoticonID != "25" {
		t.Fatalf("fragments = %+v", c.Message.Fragments)
	}

	st := h.driver.Status()
	if st.Running {
		t.Fatalf("status still running")
	}
	if st.Lines != 4 || st.Events != 2 || st.Messages != 1 || st.Unmatched != 2 {
		t.Fatalf("status = %+v", st)
	}
	if st.ChannelID != "77" {
		t.Fatalf("channel id = %q", st.ChannelID)
	}
	if !src.closed {
		t.Fatalf("source not closed")
	}
	if len(src.reconnects) != 0 {
		t.Fatalf("idle must not reconnect: %v", src.reconnects)
	}
}

func TestDriverReconnectsOnCloseAndDirective(t *testing.T) {
	src := &fakeSource{steps: []step{
		{err: twitchirc.ErrClosed},
		{lines: []string{kappaLine}, err: twitchirc.ErrReconnect},
		{err: errors.New("read: connection reset by peer")},
		{err: &twitchirc.DecodeError{Chunk: []byte{0xff}, Reason: "invalid utf-8"}},
		{lines: []string{kappaLine}},
	}}
	h := newHarness(t, src)

	if err := h.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"closed", "server", "error"}
	if len(src.reconnects) != len(want) {
		t.Fatalf("reconnects = %v, want %v", src.reconnects, want)
	}
	for i := range want {
		if src.reconnects[i] != want[i] {
			t.Fatalf("reconnects = %v, want %v", src.reconnects, want)
		}
	}
	st := h.driver.Status()
	if st.DecodeErrors != 1 || st.Reconnects != 3 {
		t.Fatalf("status = %+v", st)
	}
	if got := len(readComments(t, h.path)); got != 2 {
		t.Fatalf("comments = %d, want 2", got)
	}
}

func TestDriverOneInterveningFlush(t *testing.T) {
	var (
		pending []string
		flushes int
	)
	src := &fakeSource{}
	h := newHarness(t, src)
	src.steps = []step{
		{lines: []string{":a!a@a PRIVMSG #bar :first"}},
		{lines: []string{":b!b@b PRIVMSG #bar :second"}, advance: 61 * time.Second},
		{hook: func() {
			pending = h.store.Pending()
			flushes = h.store.Flushes()
		}, err: twitchirc.ErrIdle},
	}

	if err := h.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if flushes != 1 {
		t.Fatalf("flushes before stop = %d, want 1", flushes)
	}
	if len(pending) != 1 || pending[0] != "2024-03-01T12:01:01.000Z b: second" {
		t.Fatalf("pending = %q", pending)
	}

	text, err := os.ReadFile(h.path + ".txt")
	if err != nil {
		t.Fatalf("read text log: %v", err)
	}
	want := "2024-03-01T12:00:00.000Z a: first\n2024-03-01T12:01:01.000Z b: second\n"
	if string(text) != want {
		t.Fatalf("text log = %q", text)
	}
}

func TestDriverStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{done: cancel}
	src.steps = []step{{lines: []string{kappaLine}}}
	h := newHarness(t, src)

	if err := h.driver.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.sess.Running() {
		t.Fatalf("session still running after cancel")
	}
	if got := len(readComments(t, h.path)); got != 1 {
		t.Fatalf("comments = %d", got)
	}
}

func TestDriverConnectFailureStillFlushes(t *testing.T) {
	src := &fakeSource{connectErr: &twitchirc.DialError{Err: errors.New("no such host")}}
	h := newHarness(t, src)

	err := h.driver.Run(context.Background())
	var dialErr *twitchirc.DialError
	if !errors.As(err, &dialErr) {
		t.Fatalf("Run error = %v, want DialError", err)
	}
	if _, statErr := os.Stat(h.path); statErr != nil {
		t.Fatalf("final snapshot missing: %v", statErr)
	}
	if !src.closed {
		t.Fatalf("source not closed")
	}
}
