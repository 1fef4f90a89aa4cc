package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tickbridge.ai/internal/protocol"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", s.StatusHandler())
	mux.HandleFunc("/v1/stream", s.StreamHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func TestStatusHandler(t *testing.T) {
	s, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before publish=%d", resp.StatusCode)
	}

	if err := s.Publish(protocol.StatusMsg{Tick: 7}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	resp, err = http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var got protocol.StatusMsg
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tick != 7 || got.Type != protocol.TypeStatus || got.ProtocolVersion != protocol.Version {
		t.Fatalf("status=%+v", got)
	}

	post, err := http.Post(srv.URL+"/v1/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status=%d", post.StatusCode)
	}
}

func TestStreamDeliversLatestStatus(t *testing.T) {
	s, srv := newTestServer(t)
	if err := s.Publish(protocol.StatusMsg{Tick: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() protocol.StatusMsg {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m protocol.StatusMsg
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	}
	if m := read(); m.Tick != 1 {
		t.Fatalf("first message tick=%d", m.Tick)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Publish(protocol.StatusMsg{Tick: 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m := read(); m.Tick != 2 {
		t.Fatalf("second message tick=%d", m.Tick)
	}
}

func TestSendLatestDropsOldest(t *testing.T) {
	ch := make(chan []byte, 2)
	for _, b := range []string{"a", "b", "c"} {
		sendLatest(ch, []byte(b))
	}
	if got := string(<-ch) + string(<-ch); got != "bc" {
		t.Fatalf("got %q want bc", got)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
