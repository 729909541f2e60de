package twitchirc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestTCPTransportRecvStates(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := &tcpTransport{conn: client, buf: make([]byte, recvBufferSize)}
	defer tr.Close()

	if _, err := tr.Recv(10 * time.Millisecond); !errors.Is(err, ErrIdle) {
		t.Fatalf("idle Recv error = %v, want ErrIdle", err)
	}

	go func() { _, _ = server.Write([]byte("PING :tmi.twitch.tv\r\n")) }()
	chunk, err := tr.Recv(time.Second)
	if err != nil || string(chunk) != "PING :tmi.twitch.tv\r\n" {
		t.Fatalf("Recv = %q, %v", chunk, err)
	}

	_ = server.Close()
	chunk, err = tr.Recv(time.Second)
	if err != nil || chunk == nil || len(chunk) != 0 {
		t.Fatalf("closed Recv = %#v, %v; want empty chunk", chunk, err)
	}
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	replies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		if err := c.Write(ctx, websocket.MessageText, []byte("PING :tmi.twitch.tv")); err != nil {
			return
		}
		_, data, err := c.Read(ctx)
		if err == nil {
			replies <- string(data)
		}
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer srv.Close()

	dial, err := NewDialer(TransportWebSocket, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	tr, err := dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	chunk, err := tr.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	lines, err := NewFramer().Feed(chunk)
	if err != nil || len(lines) != 1 || ClassifyControl(lines[0]) != ControlPing {
		t.Fatalf("framed %q, %v", lines, err)
	}

	if err := tr.WriteLine("PONG :tmi.twitch.tv"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	select {
	case got := <-replies:
		if got != "PONG :tmi.twitch.tv" {
			t.Fatalf("server got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received PONG")
	}

	chunk, err = tr.Recv(2 * time.Second)
	if err != nil || len(chunk) != 0 {
		t.Fatalf("after close Recv = %q, %v; want empty chunk", chunk, err)
	}
}

func TestNewDialerRejectsUnknownKind(t *testing.T) {
	if _, err := NewDialer("carrier-pigeon", ""); err == nil {
		t.Fatalf("expected error")
	}
}
