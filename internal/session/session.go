package session

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is the process-wide capture state for one channel.
type Session struct {
	ID        string
	Channel   string
	StartedAt time.Time

	running atomic.Bool
}

func New(channel string, startedAt time.Time) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Channel:   strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#")),
		StartedAt: startedAt.UTC(),
	}
	s.running.Store(true)
	return s
}

// Stop asks the driver loop to exit after its current step. It may be
// called from any goroutine.
func (s *Session) Stop() { s.running.Store(false) }

func (s *Session) Running() bool { return s.running.Load() }
