package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

func event(sessionID string, typ domain.EventType, sentence string) domain.ReviewEvent {
	return domain.ReviewEvent{Type: typ, SessionID: sessionID, SentenceID: sentence}
}

func TestHubPublishToSessionSubscribers(t *testing.T) {
	h := NewHub(4, 4, nil)

	a, _ := h.Subscribe("s1")
	b, _ := h.Subscribe("s2")

	h.Publish(event("s1", domain.EventItemApproved, "i1"))

	select {
	case ev := <-a.C:
		if ev.SentenceID != "i1" {
			t.Errorf("expected i1, got %q", ev.SentenceID)
		}
	default:
		t.Fatal("subscriber of s1 received nothing")
	}

	select {
	case ev := <-b.C:
		t.Fatalf("subscriber of s2 received %+v", ev)
	default:
	}
}

func TestHubReplaysBacklog(t *testing.T) {
	h := NewHub(3, 4, nil)

	for i := 0; i < 5; i++ {
		h.Publish(event("s1", domain.EventItemApproved, fmt.Sprintf("i%d", i)))
	}

	_, replay := h.Subscribe("s1")
	if len(replay) != 3 {
		t.Fatalf("expected 3 replayed events, got %d", len(replay))
	}
	for i, want := range []string{"i2", "i3", "i4"} {
		if replay[i].SentenceID != want {
			t.Errorf("replay[%d] = %q, want %q", i, replay[i].SentenceID, want)
		}
	}
}

func TestHubDropsWhenSubscriberLags(t *testing.T) {
	h := NewHub(8, 2, nil)
	sub, _ := h.Subscribe("s1")

	for i := 0; i < 5; i++ {
		h.Publish(event("s1", domain.EventItemApproved, fmt.Sprintf("i%d", i)))
	}

	if got := sub.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped events, got %d", got)
	}
	if len(sub.C) != 2 {
		t.Errorf("expected 2 queued events, got %d", len(sub.C))
	}
}

func TestHubTerminalEventClosesSubscriptions(t *testing.T) {
	h := NewHub(4, 4, nil)
	sub, _ := h.Subscribe("s1")
	h.Publish(event("s1", domain.EventItemApproved, "i1"))

	h.Publish(event("s1", domain.EventSessionExpired, ""))

	var got []domain.EventType
	for ev := range sub.C {
		got = append(got, ev.Type)
	}
	if len(got) != 2 || got[1] != domain.EventSessionExpired {
		t.Errorf("expected approval then expiry, got %v", got)
	}
	if n := h.SubscriberCount("s1"); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}
	if _, replay := h.Subscribe("s1"); len(replay) != 0 {
		t.Errorf("expected backlog to be dropped, got %d events", len(replay))
	}

	// Unsubscribing an already closed subscription must not panic.
	h.Unsubscribe(sub)
}

func TestRingSnapshotOrder(t *testing.T) {
	r := newRing(2)
	if r.len() != 0 {
		t.Fatalf("expected empty ring, got %d", r.len())
	}
	r.push(event("s", domain.EventItemApproved, "a"))
	if got := r.snapshot(); len(got) != 1 || got[0].SentenceID != "a" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	r.push(event("s", domain.EventItemApproved, "b"))
	r.push(event("s", domain.EventItemApproved, "c"))
	got := r.snapshot()
	if r.len() != 2 || got[0].SentenceID != "b" || got[1].SentenceID != "c" {
		t.Errorf("unexpected snapshot %+v", got)
	}
}

type fakeSessions map[string]bool

func (f fakeSessions) Get(id string) (domain.ReviewSession, error) {
	if !f[id] {
		return domain.ReviewSession{}, errors.New("not found")
	}
	return domain.ReviewSession{ID: id}, nil
}

func newStreamServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Handle("/sessions/{sessionID}/stream", NewWebSocketHandler(h, fakeSessions{"s1": true}, "*", true))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketStreamsEvents(t *testing.T) {
	h := NewHub(4, 4, nil)
	h.Publish(event("s1", domain.EventSessionStarted, ""))
	srv := newStreamServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/s1/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ev domain.ReviewEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if ev.Type != domain.EventSessionStarted {
		t.Errorf("expected replayed session_started, got %s", ev.Type)
	}

	if err := wsjson.Write(ctx, conn, wsMessage{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong map[string]string
	if err := wsjson.Read(ctx, conn, &pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong["type"] != "pong" {
		t.Errorf("expected pong, got %v", pong)
	}

	for h.SubscriberCount("s1") == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	h.Publish(event("s1", domain.EventItemRejected, "i7"))
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if ev.Type != domain.EventItemRejected || ev.SentenceID != "i7" {
		t.Errorf("unexpected live event %+v", ev)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	srv := newStreamServer(t, NewHub(0, 0, nil))

	resp, err := http.Get(srv.URL + "/sessions/nope/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
