package bus

import (
	"context"
	"errors"
	"io"
	log "log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	ws "github.com/gorilla/websocket"
)

func quiet() *log.Logger {
	return log.New(log.NewTextHandler(io.Discard, nil))
}

type hub struct {
	srv      *httptest.Server
	received chan Envelope
	conns    atomic.Int32
	// closeAfter closes the first connection after that many messages
	closeAfter int
}

func newHub(t *testing.T, closeAfter int) *hub {
	t.Helper()
	h := &hub{received: make(chan Envelope, 16), closeAfter: closeAfter}
	up := ws.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := h.conns.Add(1)

		for i := 0; ; i++ {
			if n == 1 && h.closeAfter > 0 && i == h.closeAfter {
				return
			}
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if err := sonic.Unmarshal(msg, &env); err != nil {
				t.Errorf("hub got malformed event %q: %v", msg, err)
				return
			}
			h.received <- env
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hub) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *hub) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-h.received:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Envelope{}
	}
}

func TestPublish(t *testing.T) {
	h := newHub(t, 0)
	p, err := Dial(context.Background(), h.url(), Options{}, quiet())
	if err != nil {
		t.Fatalf("Dial() returned error: %v", err)
	}
	defer p.Close()

	if err := p.Publish(EventTranscript, "session-1", map[string]string{"text": "hello"}); err != nil {
		t.Fatalf("Publish() returned error: %v", err)
	}

	env := h.next(t)
	if env.Type != EventTranscript || env.Session != "session-1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.ID == "" || env.Time.IsZero() {
		t.Errorf("envelope must carry id and time: %+v", env)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["text"] != "hello" {
		t.Errorf("unexpected data %#v", env.Data)
	}
}

func TestCloseFlushesQueue(t *testing.T) {
	h := newHub(t, 0)
	p, err := Dial(context.Background(), h.url(), Options{}, quiet())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := p.Publish(EventReply, "s", i); err != nil {
			t.Fatalf("Publish(%d) returned error: %v", i, err)
		}
	}
	p.Close()

	for i := 0; i < 5; i++ {
		h.next(t)
	}
	if err := p.Publish(EventReply, "s", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestReconnect(t *testing.T) {
	h := newHub(t, 1)
	p, err := Dial(context.Background(), h.url(), Options{Reconnect: 10 * time.Millisecond}, quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Publish(EventSessionStart, "s", nil); err != nil {
		t.Fatal(err)
	}
	if env := h.next(t); env.Type != EventSessionStart {
		t.Fatalf("unexpected first event %+v", env)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.conns.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("publisher did not reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := p.Publish(EventSessionEnd, "s", nil); err != nil {
		t.Fatal(err)
	}
	if env := h.next(t); env.Type != EventSessionEnd {
		t.Fatalf("unexpected second event %+v", env)
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/nowhere", Options{}, quiet())
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestIsClosed(t *testing.T) {
	if !IsClosed(&ws.CloseError{Code: ws.CloseGoingAway}) {
		t.Error("going away must count as closed")
	}
	if IsClosed(errors.New("reset by peer")) {
		t.Error("plain errors are not close errors")
	}
}
