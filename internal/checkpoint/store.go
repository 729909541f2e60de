package checkpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chatdump/internal/core"
)

const DefaultInterval = 60 * time.Second

// Archive receives every recorded event once, in order, after the snapshot
// has been written. Implementations must tolerate a batch being offered
// again after an error.
type Archive interface {
	WriteBatch(ctx context.Context, sessionID string, events []core.ChatEvent) error
}

type Options struct {
	SnapshotPath string
	TextPath     string // defaults to SnapshotPath + ".txt"
	Interval     time.Duration
	SessionID    string
	Channel      string
	ChannelID    string
	Start        time.Time
	Now          func() time.Time
	Archive      Archive
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Store holds the session history and the text lines not yet appended to
// the log. It is owned by the driver loop and is not safe for concurrent
// use.
type Store struct {
	opts      Options
	logger    *slog.Logger
	events    []core.ChatEvent
	pending   []string
	archived  int
	lastFlush time.Time
	flushes   int
}

func New(opts Options) (*Store, error) {
	if opts.SnapshotPath == "" {
		return nil, errors.New("checkpoint: snapshot path is required")
	}
	if opts.TextPath == "" {
		opts.TextPath = opts.SnapshotPath + ".txt"
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Start.IsZero() {
		opts.Start = opts.Now()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		opts:      opts,
		logger:    logger.With("component", "checkpoint"),
		lastFlush: opts.Start,
	}, nil
}

// Record appends ev to the history. Chat messages also queue a text log
// line.
func (s *Store) Record(ev core.ChatEvent) {
	s.events = append(s.events, ev)
	if ev.Kind == core.KindMessage {
		s.pending = append(s.pending, TextLine(ev))
	}
	if ev.ChannelID != "" {
		s.opts.ChannelID = ev.ChannelID
	}
	s.opts.Metrics.incEvents(ev.Kind)
	s.opts.Metrics.setPending(len(s.pending))
}

// FlushIfDue flushes when more than the interval has passed since the last
// successful flush. It reports whether a flush happened.
func (s *Store) FlushIfDue(now time.Time) (bool, error) {
	if now.Sub(s.lastFlush) <= s.opts.Interval {
		return false, nil
	}
	if err := s.flush(now, "interval"); err != nil {
		return false, err
	}
	return true, nil
}

// FlushFinal writes the snapshot and any queued text lines regardless of
// the interval. Calling it again rewrites the same snapshot.
func (s *Store) FlushFinal() error {
	return s.flush(s.opts.Now(), "final")
}

func (s *Store) flush(now time.Time, trigger string) error {
	snap := BuildSnapshot(s.opts.SessionID, s.opts.Channel, s.opts.ChannelID, s.opts.Start, now, s.events)
	if err := writeJSONAtomic(s.opts.SnapshotPath, snap); err != nil {
		s.opts.Metrics.incFlushes(trigger, "failed")
		return errors.Wrap(err, "checkpoint: write snapshot")
	}
	if err := appendLines(s.opts.TextPath, s.pending); err != nil {
		s.opts.Metrics.incFlushes(trigger, "failed")
		return errors.Wrap(err, "checkpoint: append text log")
	}

	lines := len(s.pending)
	s.pending = nil
	s.lastFlush = now
	s.flushes++
	s.opts.Metrics.incFlushes(trigger, "ok")
	s.opts.Metrics.setPending(0)

	s.archive()
	s.logger.Info("checkpoint: flushed",
		"trigger", trigger,
		"comments", len(snap.Comments),
		"events", len(s.events),
		"text_lines", lines,
		"duration", snap.Video.Duration,
	)
	return nil
}

// archive hands events not yet archived to the optional Archive. Failures
// are logged and retried on the next flush.
func (s *Store) archive() {
	if s.opts.Archive == nil || s.archived >= len(s.events) {
		return
	}
	batch := s.events[s.archived:]
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.opts.Archive.WriteBatch(ctx, s.opts.SessionID, batch); err != nil {
		s.logger.Error("checkpoint: archive write failed", "events", len(batch), "error", err)
		return
	}
	s.archived = len(s.events)
}

// Pending returns the text lines waiting for the next flush.
func (s *Store) Pending() []string {
	return append([]string(nil), s.pending...)
}

// Len returns the number of events recorded this session.
func (s *Store) Len() int { return len(s.events) }

func (s *Store) Flushes() int { return s.flushes }

func (s *Store) LastFlush() time.Time { return s.lastFlush }

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "rename")
	}
	return nil
}
