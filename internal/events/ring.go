package events

import "github.com/ashureev/debias-review/internal/domain"

// ring is a fixed-size circular buffer of recent events for one session.
// When full it overwrites the oldest event. Callers hold the hub lock.
type ring struct {
	buf  []domain.ReviewEvent
	head int // next write position
	full bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = DefaultBacklog
	}
	return &ring{buf: make([]domain.ReviewEvent, size)}
}

func (r *ring) push(ev domain.ReviewEvent) {
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

// snapshot returns the buffered events oldest first.
func (r *ring) snapshot() []domain.ReviewEvent {
	if !r.full {
		out := make([]domain.ReviewEvent, r.head)
		copy(out, r.buf[:r.head])
		return out
	}
	out := make([]domain.ReviewEvent, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	return append(out, r.buf[:r.head]...)
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}
