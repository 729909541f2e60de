package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/you/chatdump/internal/chat"
	"github.com/you/chatdump/internal/core"
	"github.com/you/chatdump/internal/twitchirc"
)

const (
	defaultReadTimeout = 5 * time.Second
	defaultStatsEvery  = 100
)

// LineSource is the connection the driver pulls framed lines from.
type LineSource interface {
	Connect(ctx context.Context) error
	Next(timeout time.Duration) ([]string, error)
	Reconnect(ctx context.Context, reason string) error
	Close() error
}

// Recorder persists translated events.
type Recorder interface {
	Record(ev core.ChatEvent)
	FlushIfDue(now time.Time) (bool, error)
	FlushFinal() error
}

type Options struct {
	ReadTimeout time.Duration
	// StatsEvery logs a liveness summary every N loop iterations.
	StatsEvery int
	Now        func() time.Time
	Drops      *twitchirc.DropLogger
	Logger     *slog.Logger
}

// Status is a point-in-time view of the driver for the ops listener.
type Status struct {
	SessionID    string    `json:"session_id"`
	Channel      string    `json:"channel"`
	ChannelID    string    `json:"channel_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	Running      bool      `json:"running"`
	Iterations   int64     `json:"iterations"`
	Lines        int64     `json:"lines"`
	Events       int64     `json:"events"`
	Messages     int64     `json:"messages"`
	Unmatched    int64     `json:"unmatched"`
	Ignored      int64     `json:"ignored"`
	DecodeErrors int64     `json:"decode_errors"`
	Reconnects   int64     `json:"reconnects"`
	FlushErrors  int64     `json:"flush_errors"`
	LastEventAt  time.Time `json:"last_event_at,omitempty"`
}

// Driver runs the capture loop: read, classify, translate, record.
type Driver struct {
	sess   *Session
	src    LineSource
	tr     *chat.Translator
	store  Recorder
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	window int64
}

func NewDriver(sess *Session, src LineSource, tr *chat.Translator, store Recorder, opts Options) *Driver {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.StatsEvery <= 0 {
		opts.StatsEvery = defaultStatsEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		sess:   sess,
		src:    src,
		tr:     tr,
		store:  store,
		opts:   opts,
		logger: logger.With("component", "session", "session_id", sess.ID),
		status: Status{SessionID: sess.ID, Channel: sess.Channel, StartedAt: sess.StartedAt},
	}
}

// Run drives the session until ctx is cancelled, Stop is called or the
// first connection cannot be established. The final flush runs on every
// exit path. A cancelled session returns nil.
func (d *Driver) Run(ctx context.Context) (err error) {
	stop := context.AfterFunc(ctx, d.sess.Stop)
	defer stop()

	defer func() {
		d.sess.Stop()
		d.opts.Drops.Flush(d.opts.Now())
		if ferr := d.store.FlushFinal(); ferr != nil {
			d.logger.Error("session: final flush failed", "error", ferr)
			if err == nil {
				err = ferr
			}
		}
		if cerr := d.src.Close(); cerr != nil {
			d.logger.Debug("session: close source", "error", cerr)
		}
		st := d.Status()
		log.Printf("session: stopped #%s after %s (events %d, reconnects %d)",
			d.sess.Channel, d.opts.Now().Sub(d.sess.StartedAt).Round(time.Second), st.Events, st.Reconnects)
	}()

	if err := d.src.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("session: connect: %w", err)
	}

	for iter := int64(1); d.sess.Running() && ctx.Err() == nil; iter++ {
		lines, nextErr := d.src.Next(d.opts.ReadTimeout)
		now := d.opts.Now()

		if _, ferr := d.store.FlushIfDue(now); ferr != nil {
			d.bump(func(s *Status) { s.FlushErrors++ })
			d.logger.Error("session: flush failed", "error", ferr)
		}
		d.handleLines(lines, now)

		if nextErr != nil {
			if rerr := d.handleErr(ctx, nextErr); rerr != nil {
				return rerr
			}
		}

		d.bump(func(s *Status) { s.Iterations = iter })
		if iter%int64(d.opts.StatsEvery) == 0 {
			d.logStats()
		}
		d.opts.Drops.Tick(now)
	}
	return nil
}

func (d *Driver) handleLines(lines []string, now time.Time) {
	for _, line := range lines {
		d.bump(func(s *Status) { s.Lines++ })
		d.window++

		msg, ok := twitchirc.Classify(line)
		if !ok {
			d.bump(func(s *Status) { s.Unmatched++ })
			d.opts.Drops.Note(now, "unmatched", line)
			continue
		}
		ev, ok := d.tr.Translate(msg)
		if !ok {
			d.bump(func(s *Status) { s.Ignored++ })
			d.opts.Drops.Note(now, "ignored", line)
			continue
		}
		d.store.Record(ev)
		d.bump(func(s *Status) {
			s.Events++
			if ev.Kind == core.KindMessage {
				s.Messages++
			}
			s.LastEventAt = ev.OccurredAt
			s.ChannelID = d.tr.ChannelID()
		})
	}
}

// handleErr decides between carrying on, reconnecting and giving up. Only a
// reconnect that cannot complete is returned.
func (d *Driver) handleErr(ctx context.Context, err error) error {
	var decodeErr *twitchirc.DecodeError
	switch {
	case errors.Is(err, twitchirc.ErrIdle):
		d.logger.Info("session: idle", "timeout", d.opts.ReadTimeout, "lines", d.Status().Lines)
		return nil
	case errors.As(err, &decodeErr):
		d.bump(func(s *Status) { s.DecodeErrors++ })
		d.logger.Warn("session: dropped chunk", "bytes", len(decodeErr.Chunk), "reason", decodeErr.Reason)
		return nil
	}

	reason := "error"
	switch {
	case errors.Is(err, twitchirc.ErrClosed):
		reason = "closed"
	case errors.Is(err, twitchirc.ErrReconnect):
		reason = "server"
	default:
		d.logger.Warn("session: transport error", "error", err)
	}
	if !d.sess.Running() || ctx.Err() != nil {
		return nil
	}

	d.bump(func(s *Status) { s.Reconnects++ })
	if rerr := d.src.Reconnect(ctx, reason); rerr != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("session: reconnect: %w", rerr)
	}
	return nil
}

func (d *Driver) logStats() {
	st := d.Status()
	log.Printf("session: recv %d lines (total %d, events %d, unmatched %d)", d.window, st.Lines, st.Events, st.Unmatched)
	d.window = 0
}

func (d *Driver) bump(fn func(*Status)) {
	d.mu.Lock()
	fn(&d.status)
	d.mu.Unlock()
}

// Status may be called from any goroutine.
func (d *Driver) Status() Status {
	d.mu.Lock()
	st := d.status
	d.mu.Unlock()
	st.Running = d.sess.Running()
	return st
}
