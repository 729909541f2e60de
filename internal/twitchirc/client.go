package twitchirc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	anonymousPass     = "blah"
	defaultRetryDelay = 2 * time.Second
	serverName        = "tmi.twitch.tv"
)

// ErrReconnect is returned by Next when the server asks clients to reconnect.
var ErrReconnect = errors.New("twitchirc: server requested reconnect")

// DialError wraps a failure to open the transport at all.
type DialError struct{ Err error }

func (e *DialError) Error() string { return "twitchirc: " + e.Err.Error() }
func (e *DialError) Unwrap() error { return e.Err }

type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

type Config struct {
	Channel string
	Nick    string // empty picks an anonymous justinfan login
	Pass    string
	Dial    Dialer

	// RetryDelay is the flat wait between handshake attempts.
	RetryDelay time.Duration
	// MaxDialAttempts bounds Connect when the endpoint cannot be reached at
	// all. Zero retries forever. Reconnect always retries forever.
	MaxDialAttempts int

	Metrics *Metrics
}

// Client owns the transport: it runs the handshake, answers keep-alive
// probes and reconnects on request. It is driven by a single goroutine.
type Client struct {
	cfg     Config
	nick    string
	tr      Transport
	framer  *Framer
	limiter *rate.Limiter
	state   atomic.Int32
}

func New(cfg Config) (*Client, error) {
	cfg.Channel = strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#")
	if cfg.Channel == "" {
		return nil, errors.New("twitchirc: channel is required")
	}
	if cfg.Dial == nil {
		return nil, errors.New("twitchirc: dialer is required")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if strings.TrimSpace(cfg.Pass) == "" {
		cfg.Pass = anonymousPass
	}
	nick := strings.TrimSpace(cfg.Nick)
	if nick == "" {
		nick = AnonymousNick()
	}
	return &Client{
		cfg:     cfg,
		nick:    nick,
		framer:  NewFramer(),
		limiter: rate.NewLimiter(rate.Every(cfg.RetryDelay), 1),
	}, nil
}

// AnonymousNick returns a read-only login name accepted without credentials.
func AnonymousNick() string {
	return fmt.Sprintf("justinfan%d", rand.Intn(9999999))
}

func (c *Client) Nick() string    { return c.nick }
func (c *Client) Channel() string { return c.cfg.Channel }
func (c *Client) State() State    { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.cfg.Metrics.setConnected(s == StateJoined)
}

// Connect performs the initial handshake. It gives up with a *DialError when
// the endpoint stays unreachable for MaxDialAttempts attempts.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, c.cfg.MaxDialAttempts)
}

// Reconnect drops the current transport and handshakes again until it
// succeeds or ctx is done.
func (c *Client) Reconnect(ctx context.Context, reason string) error {
	c.closeTransport()
	c.cfg.Metrics.incReconnects(reason)
	log.Printf("twitchirc: reconnecting to #%s (%s)", c.cfg.Channel, reason)
	return c.connect(ctx, 0)
}

func (c *Client) connect(ctx context.Context, maxDial int) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		attempts++

		c.setState(StateHandshaking)
		err := c.handshake(ctx)
		if err == nil {
			c.setState(StateJoined)
			c.cfg.Metrics.incHandshakes("ok")
			log.Printf("twitchirc: joined #%s as %s", c.cfg.Channel, c.nick)
			return nil
		}
		c.setState(StateDisconnected)
		c.cfg.Metrics.incHandshakes("failed")

		if ctx.Err() != nil {
			return ctx.Err()
		}
		var dialErr *DialError
		if errors.As(err, &dialErr) && maxDial > 0 && attempts >= maxDial {
			return err
		}
		log.Printf("twitchirc: handshake attempt %d failed: %v; retrying in %s", attempts, err, c.cfg.RetryDelay)
	}
}

// handshake opens a fresh transport and sends the full login sequence. Any
// failure closes the transport so the caller restarts from scratch.
func (c *Client) handshake(ctx context.Context) error {
	tr, err := c.cfg.Dial(ctx)
	if err != nil {
		return &DialError{Err: err}
	}

	lines := []string{
		"CAP LS 302",
		"CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership",
		"PASS " + c.cfg.Pass,
		"NICK " + c.nick,
		fmt.Sprintf("USER %s %s bla :%s", c.nick, c.nick, c.nick),
		"JOIN #" + strings.ToLower(c.cfg.Channel),
		"CAP END",
	}
	for _, line := range lines {
		if err := tr.WriteLine(line); err != nil {
			_ = tr.Close()
			verb, _, _ := strings.Cut(line, " ")
			return fmt.Errorf("send %s: %w", verb, err)
		}
	}

	c.tr = tr
	c.framer.Reset()
	return nil
}

// Next waits up to timeout for data and returns the chat lines it completes.
// Keep-alive probes are answered here and never returned. It returns ErrIdle
// on timeout, ErrClosed when the peer closed the stream, ErrReconnect on a
// server directive (with the lines that preceded it) and *DecodeError for a
// dropped chunk. Other errors mean the transport failed.
func (c *Client) Next(timeout time.Duration) ([]string, error) {
	if c.tr == nil {
		return nil, ErrClosed
	}

	chunk, err := c.tr.Recv(timeout)
	if err != nil {
		return nil, err
	}

	lines, err := c.framer.Feed(chunk)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			c.cfg.Metrics.incDecodeErrors()
		}
		if len(lines) == 0 {
			return nil, err
		}
	}
	c.cfg.Metrics.addLines(len(lines))

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch ClassifyControl(line) {
		case ControlPing:
			if werr := c.tr.WriteLine("PONG :" + serverName); werr != nil {
				return out, fmt.Errorf("send PONG: %w", werr)
			}
			c.cfg.Metrics.incPings()
			continue
		case ControlReconnect:
			log.Printf("twitchirc: server requested reconnect")
			return out, ErrReconnect
		}
		out = append(out, line)
	}
	return out, err
}

func (c *Client) Close() error {
	return c.closeTransport()
}

func (c *Client) closeTransport() error {
	c.setState(StateDisconnected)
	if c.tr == nil {
		return nil
	}
	err := c.tr.Close()
	c.tr = nil
	return err
}
