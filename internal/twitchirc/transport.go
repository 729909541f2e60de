package twitchirc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

const (
	defaultTCPAddr = "irc.chat.twitch.tv:6667"
	defaultTLSAddr = "irc.chat.twitch.tv:6697"
	defaultWSURL   = "wss://irc-ws.chat.twitch.tv:443"

	recvBufferSize = 8192
	dialTimeout    = 10 * time.Second
	writeTimeout   = 10 * time.Second
)

// ErrIdle is returned by Recv when no data arrived within the timeout.
var ErrIdle = errors.New("twitchirc: read timeout")

// Transport is one open connection. Recv mirrors a socket recv: a
// zero-length chunk with a nil error means the peer closed the stream.
type Transport interface {
	Recv(timeout time.Duration) ([]byte, error)
	WriteLine(line string) error
	Close() error
}

// Dialer opens a fresh Transport.
type Dialer func(ctx context.Context) (Transport, error)

// TransportKind selects how the client reaches the server.
type TransportKind string

const (
	TransportTCP       TransportKind = "tcp"
	TransportTLS       TransportKind = "tls"
	TransportWebSocket TransportKind = "websocket"
)

// NewDialer returns a Dialer for kind. addr is host:port for tcp/tls and a
// ws(s):// URL for websocket; empty selects the public endpoint.
func NewDialer(kind TransportKind, addr string) (Dialer, error) {
	addr = strings.TrimSpace(addr)
	switch kind {
	case TransportTCP, "":
		if addr == "" {
			addr = defaultTCPAddr
		}
		return func(ctx context.Context) (Transport, error) { return dialTCP(ctx, addr, false) }, nil
	case TransportTLS:
		if addr == "" {
			addr = defaultTLSAddr
		}
		return func(ctx context.Context) (Transport, error) { return dialTCP(ctx, addr, true) }, nil
	case TransportWebSocket:
		if addr == "" {
			addr = defaultWSURL
		}
		return func(ctx context.Context) (Transport, error) { return dialWebSocket(ctx, addr) }, nil
	default:
		return nil, fmt.Errorf("twitchirc: unknown transport %q", kind)
	}
}

type tcpTransport struct {
	conn net.Conn
	buf  []byte
}

func dialTCP(ctx context.Context, addr string, useTLS bool) (Transport, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if useTLS {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: host}}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &tcpTransport{conn: conn, buf: make([]byte, recvBufferSize)}, nil
}

func (t *tcpTransport) Recv(timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		return append([]byte(nil), t.buf[:n]...), nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return []byte{}, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil, ErrIdle
	}
	return nil, fmt.Errorf("read: %w", err)
}

func (t *tcpTransport) WriteLine(line string) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	_, err := io.WriteString(t.conn, line+"\r\n")
	return err
}

func (t *tcpTransport) Close() error { return t.conn.Close() }

type wsFrame struct {
	data []byte
	err  error
}

// wsTransport pumps frames from a reader goroutine because a websocket read
// cancelled by its context tears the connection down.
type wsTransport struct {
	conn   *websocket.Conn
	frames chan wsFrame
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

func dialWebSocket(ctx context.Context, url string) (Transport, error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxPendingBytes)

	readCtx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		conn:   conn,
		frames: make(chan wsFrame, 64),
		ctx:    readCtx,
		cancel: cancel,
	}
	go t.pump()
	return t, nil
}

func (t *wsTransport) pump() {
	defer close(t.frames)
	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			select {
			case t.frames <- wsFrame{err: err}:
			case <-t.ctx.Done():
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if data[len(data)-1] != '\n' {
			data = append(data, '\r', '\n')
		}
		select {
		case t.frames <- wsFrame{data: data}:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *wsTransport) Recv(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-t.frames:
		if !ok {
			return []byte{}, nil
		}
		if f.err != nil {
			status := websocket.CloseStatus(f.err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(f.err, io.EOF) {
				return []byte{}, nil
			}
			return nil, fmt.Errorf("read: %w", f.err)
		}
		return f.data, nil
	case <-timer.C:
		return nil, ErrIdle
	}
}

func (t *wsTransport) WriteLine(line string) error {
	ctx, cancel := context.WithTimeout(t.ctx, writeTimeout)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageText, []byte(line))
}

func (t *wsTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.conn.Close(websocket.StatusNormalClosure, "")
	t.cancel()
	return err
}
