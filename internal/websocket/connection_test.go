package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialPair upgrades one connection server-side and returns both ends:
// the wrapped server connection under test and the raw client socket.
func dialPair(t *testing.T, bufferSize int) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConns <- ws
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	var serverSide *websocket.Conn
	select {
	case serverSide = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}

	conn := NewConnection(serverSide, bufferSize, time.Second)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func TestConnection_SendDeliversInOrder(t *testing.T) {
	conn, client := dialPair(t, 100)

	for i := 0; i < 10; i++ {
		if err := conn.Send([]byte(fmt.Sprintf("frame-%d", i))); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	for i := 0; i < 10; i++ {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if want := fmt.Sprintf("frame-%d", i); string(data) != want {
			t.Errorf("frame %d = %s, want %s", i, data, want)
		}
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	conn, _ := dialPair(t, 100)

	if err := conn.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	err := conn.Send([]byte("too late"))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("send after close = %v, want ErrConnectionClosed", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Error("Done must be closed after Close")
	}
}

func TestConnection_CloseWithCodeReachesPeer(t *testing.T) {
	conn, client := dialPair(t, 100)

	if err := conn.CloseWithCode(1009, "Name too long."); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read after close = %v, want a close error", err)
	}
	if closeErr.Code != 1009 {
		t.Errorf("close code = %d, want 1009", closeErr.Code)
	}
	if closeErr.Text != "Name too long." {
		t.Errorf("close reason = %q, want the policy text", closeErr.Text)
	}
}

func TestOriginIdentity(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"remote addr only", "", "203.0.113.7:4242", "203.0.113.7"},
		{"forwarded single", "198.51.100.3", "203.0.113.7:4242", "198.51.100.3"},
		{"forwarded chain takes first", "198.51.100.3, 203.0.113.7", "203.0.113.7:4242", "198.51.100.3"},
		{"blank forwarded falls back", "  ", "203.0.113.7:4242", "203.0.113.7"},
		{"unparseable remote addr", "", "garbage", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := originIdentity(r); got != tt.want {
				t.Errorf("identity = %q, want %q", got, tt.want)
			}
		})
	}
}
