// Package events fans review events out to live subscribers.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/debias-review/internal/domain"
)

const (
	// DefaultBacklog is how many recent events a new subscriber is replayed.
	DefaultBacklog = 32
	// DefaultQueueSize bounds each subscriber's pending events.
	DefaultQueueSize = 64
)

// Subscription receives the events of one session. C is closed when the
// session ends or the subscription is cancelled.
type Subscription struct {
	C         <-chan domain.ReviewEvent
	ch        chan domain.ReviewEvent
	sessionID string
	dropped   atomic.Int64
	closeOnce sync.Once
}

// Dropped returns the number of events discarded because the subscriber
// was not keeping up.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Hub tracks subscribers per review session.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[*Subscription]struct{}
	backlog   map[string]*ring
	backlogN  int
	queueSize int
	logger    *slog.Logger
}

// NewHub creates a hub. Non-positive sizes use the defaults.
func NewHub(backlog, queueSize int, logger *slog.Logger) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:      make(map[string]map[*Subscription]struct{}),
		backlog:   make(map[string]*ring),
		backlogN:  backlog,
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers a subscriber for a session and returns it with the
// session's recent events.
func (h *Hub) Subscribe(sessionID string) (*Subscription, []domain.ReviewEvent) {
	ch := make(chan domain.ReviewEvent, h.queueSize)
	sub := &Subscription{C: ch, ch: ch, sessionID: sessionID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}

	var replay []domain.ReviewEvent
	if r, ok := h.backlog[sessionID]; ok {
		replay = r.snapshot()
	}
	h.logger.Debug("event subscriber registered", "session_id", sessionID, "replay", len(replay))
	return sub, replay
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.sessionID]; ok {
		if _, exists := set[sub]; exists {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.sessionID)
			}
		}
	}
	sub.close()
}

// Publish delivers an event to every subscriber of its session without
// blocking. Terminal events close the session's subscriptions.
func (h *Hub) Publish(ev domain.ReviewEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	terminal := ev.Type == domain.EventSessionDeleted || ev.Type == domain.EventSessionExpired

	if !terminal {
		r, ok := h.backlog[ev.SessionID]
		if !ok {
			r = newRing(h.backlogN)
			h.backlog[ev.SessionID] = r
		}
		r.push(ev)
	}

	for sub := range h.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			n := sub.dropped.Add(1)
			h.logger.Warn("event subscriber lagging, dropping event",
				"session_id", ev.SessionID, "type", ev.Type, "dropped", n)
		}
	}

	if terminal {
		for sub := range h.subs[ev.SessionID] {
			sub.close()
		}
		delete(h.subs, ev.SessionID)
		delete(h.backlog, ev.SessionID)
	}
}

// SubscriberCount returns the number of subscribers of a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sid, set := range h.subs {
		for sub := range set {
			sub.close()
		}
		delete(h.subs, sid)
	}
	h.backlog = make(map[string]*ring)
}
